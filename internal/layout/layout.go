// Package layout implements the static rank/server partition described in
// spec §2: every worker is bound to a home server, and every data item id
// is hosted by a server chosen by id modulo the server count.
//
// Supplemented from original_source/code/src/location.c: the "node
// accuracy" targeting qualifier (spec §3) needs to know which workers
// share a host, which location.c built via an MPI allgather of hostnames
// at startup. Since the transport and host discovery are both out of
// scope (spec §1), Hostmap here is just the resulting lookup table,
// populated by the caller instead of by libc/uname.
package layout

import "fmt"

// Layout describes a fixed worker/server partition: ranks [0, Workers)
// are workers, ranks [Workers, Workers+Servers) are servers.
type Layout struct {
	Workers int
	Servers int
}

// New validates and constructs a Layout. Both counts must be positive.
func New(workers, servers int) (Layout, error) {
	if workers <= 0 || servers <= 0 {
		return Layout{}, fmt.Errorf("layout: workers and servers must be positive, got workers=%d servers=%d", workers, servers)
	}
	return Layout{Workers: workers, Servers: servers}, nil
}

// Size is the total world size (workers + servers).
func (l Layout) Size() int { return l.Workers + l.Servers }

// IsServer reports whether rank is a server rank.
func (l Layout) IsServer(rank int) bool { return rank >= l.Workers && rank < l.Size() }

// IsWorker reports whether rank is a worker rank.
func (l Layout) IsWorker(rank int) bool { return rank >= 0 && rank < l.Workers }

// Home returns the server rank responsible for the given worker rank:
// home(rank) = workers + (rank mod servers). A server rank is its own
// home — internal/depengine subscribes to datums under its own rank
// rather than a worker's, so this keeps Home a total function over the
// whole rank space instead of forcing every caller to branch on
// IsServer first.
func (l Layout) Home(workerRank int) int {
	if l.IsServer(workerRank) {
		return workerRank
	}
	return l.Workers + mod(workerRank, l.Servers)
}

// Locate returns the server rank hosting the given datum id, wrapping
// negative ids: locate(-1) = workers + servers - 1, locate(-S) = workers.
func (l Layout) Locate(id int64) int {
	return l.Workers + int(modInt64(id, int64(l.Servers)))
}

// ServerIndex returns the 0-based index of a server rank within the
// server range (the inverse of Workers+index), or -1 if rank is not a
// server rank of this layout.
func (l Layout) ServerIndex(serverRank int) int {
	if !l.IsServer(serverRank) {
		return -1
	}
	return serverRank - l.Workers
}

// mod computes a non-negative modulus for int operands (Go's % can be
// negative; rank is never negative in practice, but id below can be).
func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

func modInt64(a, n int64) int64 {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// Hostmap maps worker ranks to hosts and back. The server stores the
// Hostmap it is given, but no dispatch path consults it: a task with
// NodeAccuracy is queued and dispatched exactly like one with
// RankAccuracy, so only its exact target rank receives it.
type Hostmap struct {
	hostOf map[int]string
	ranksOf map[string][]int
}

// NewHostmap builds a Hostmap from a caller-supplied rank->host table.
// Hostmap deliberately does not perform any discovery of its own (uname,
// MPI allgather, etc.) — that belongs to the out-of-scope transport/host
// layer; spec §1 excludes "the hostmap feature" beyond what targeting
// needs.
func NewHostmap(rankHost map[int]string) *Hostmap {
	hm := &Hostmap{
		hostOf:  make(map[int]string, len(rankHost)),
		ranksOf: make(map[string][]int),
	}
	for rank, host := range rankHost {
		hm.hostOf[rank] = host
		hm.ranksOf[host] = append(hm.ranksOf[host], rank)
	}
	return hm
}

// HostOf returns the host name for rank, or "" if unknown.
func (hm *Hostmap) HostOf(rank int) string {
	if hm == nil {
		return ""
	}
	return hm.hostOf[rank]
}

// SameHost reports whether a and b are recorded as running on the same
// host. Unknown ranks are never considered to share a host with anyone,
// including each other. A nil Hostmap treats each rank as sharing a host
// only with itself.
func (hm *Hostmap) SameHost(a, b int) bool {
	if hm == nil {
		return a == b
	}
	ha, ok := hm.hostOf[a]
	if !ok {
		return false
	}
	hb, ok := hm.hostOf[b]
	if !ok {
		return false
	}
	return ha == hb
}

// RanksOnHost returns the ranks recorded as sharing a host with rank,
// including rank itself.
func (hm *Hostmap) RanksOnHost(rank int) []int {
	if hm == nil {
		return []int{rank}
	}
	host, ok := hm.hostOf[rank]
	if !ok {
		return []int{rank}
	}
	return hm.ranksOf[host]
}
