package steal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtcrun/mtce/internal/metrics"
	"github.com/mtcrun/mtce/internal/syncproto"
	"github.com/mtcrun/mtce/internal/task"
	"github.com/mtcrun/mtce/internal/wire"
	"github.com/mtcrun/mtce/internal/workqueue"
	"github.com/mtcrun/mtce/transport/inprocess"
)

// newPeer wires a syncproto.Protocol whose Serve callback dispatches
// SyncSteal to a steal.Protocol's Serve, mirroring what internal/server
// will do for real.
func newPeer(t *testing.T, cluster *inprocess.Cluster, rank int, wq *workqueue.Queue) *syncproto.Protocol {
	t.Helper()
	tr := cluster.Transport(rank)
	var sp *syncproto.Protocol
	var st *Protocol
	sp = syncproto.New(tr, rank, 4, func(in syncproto.Inbound) {
		if in.Header.Kind == wire.SyncSteal {
			require.NoError(t, st.Serve(context.Background(), in.Source, in.Header.Payload))
		}
	}, nil)
	st = New(tr, rank, sp, wq, time.Millisecond, time.Millisecond)
	return sp
}

func TestSteal_PullsDonationFromPeer(t *testing.T) {
	cluster := inprocess.New(2)

	peerWQ := workqueue.New(metrics.New(false))
	for i := 0; i < 10; i++ {
		peerWQ.Add(task.Task{Type: 1, Target: task.ANY, Payload: []byte("x")})
	}
	peerSync := newPeer(t, cluster, 1, peerWQ)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for ctx.Err() == nil {
			peerSync.PollIncoming(ctx)
			time.Sleep(time.Millisecond)
		}
	}()

	selfWQ := workqueue.New(metrics.New(false))
	selfSync := syncproto.New(cluster.Transport(0), 0, 4, func(syncproto.Inbound) {}, nil)
	selfSteal := New(cluster.Transport(0), 0, selfSync, selfWQ, time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tasks, err := selfSteal.Steal(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, tasks, "a 10-vs-0 imbalance must donate at least one task")
	require.Equal(t, len(tasks), selfWQ.Len())
}

func TestSteal_EmptyPeerReturnsNoTasks(t *testing.T) {
	cluster := inprocess.New(2)

	peerWQ := workqueue.New(metrics.New(false))
	peerSync := newPeer(t, cluster, 1, peerWQ)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for ctx.Err() == nil {
			peerSync.PollIncoming(ctx)
			time.Sleep(time.Millisecond)
		}
	}()

	selfWQ := workqueue.New(metrics.New(false))
	selfSync := syncproto.New(cluster.Transport(0), 0, 4, func(syncproto.Inbound) {}, nil)
	selfSteal := New(cluster.Transport(0), 0, selfSync, selfWQ, time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tasks, err := selfSteal.Steal(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, tasks)
	require.Equal(t, 0, selfWQ.Len())
}

func TestShouldAttempt_RequiresIdleWorkersAndElapsedBackoff(t *testing.T) {
	wq := workqueue.New(metrics.New(false))
	sp := syncproto.New(nil, 0, 4, func(syncproto.Inbound) {}, nil)
	p := New(nil, 0, sp, wq, time.Millisecond, 20*time.Millisecond)

	now := time.Now()
	require.False(t, p.ShouldAttempt(now, 0), "no idle workers means no steal attempt")
	require.True(t, p.ShouldAttempt(now, 1))

	p.lastGlobalTry = now
	require.False(t, p.ShouldAttempt(now, 1), "backoff has not elapsed")
	require.True(t, p.ShouldAttempt(now.Add(25*time.Millisecond), 1))
}

func TestAttempt_NoPeers(t *testing.T) {
	wq := workqueue.New(metrics.New(false))
	sp := syncproto.New(nil, 0, 4, func(syncproto.Inbound) {}, nil)
	p := New(nil, 0, sp, wq, time.Millisecond, time.Millisecond)

	tasks, err := p.Attempt(context.Background(), time.Now(), nil)
	require.NoError(t, err)
	require.Empty(t, tasks)
}
