// Package config parses the environment variables recognized by the
// engine (spec §6). No environment-variable-parsing library appears in
// the teacher or the wider example pack (see DESIGN.md), so parsing is a
// direct, small translation of os.Getenv + strconv — the same weight
// ADLB's own getenv_integer/getenv_double helpers carry.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HostmapMode mirrors spec §6's DISABLE_HOSTMAP/HOSTMAP_MODE options.
type HostmapMode int

const (
	HostmapEnabled HostmapMode = iota
	HostmapLeaders
	HostmapDisabled
)

// Config is the parsed set of §6 environment variables, with defaults
// matching the spec.
type Config struct {
	MaxIdle         time.Duration // MAX_IDLE, default 0.1s
	StealBackoff    time.Duration // STEAL_BACKOFF, default 0.02s
	StealRateLimit  time.Duration // STEAL_RATE_LIMIT, default 0.0005s
	LoopMaxRequests int           // LOOP_MAX_REQUESTS, default 100
	LoopMaxPolls    int           // LOOP_MAX_POLLS, default 100
	LoopMaxSleeps   int           // LOOP_MAX_SLEEPS, default 10

	Debug      bool
	Trace      bool
	DebugRanks map[int]bool

	PerfCounters      bool
	PerfCountersPrint bool

	ClosedCacheSize int // CLOSED_CACHE_SIZE, default 4096

	HostmapMode HostmapMode
}

// Default returns the spec §6 default configuration.
func Default() Config {
	return Config{
		MaxIdle:         100 * time.Millisecond,
		StealBackoff:    20 * time.Millisecond,
		StealRateLimit:  500 * time.Microsecond,
		LoopMaxRequests: 100,
		LoopMaxPolls:    100,
		LoopMaxSleeps:   10,
		ClosedCacheSize: 4096,
		HostmapMode:     HostmapEnabled,
	}
}

// FromEnv parses the recognized environment variables on top of Default,
// returning an error if any value is malformed.
func FromEnv() (Config, error) {
	c := Default()

	if v, err := envDuration("MAX_IDLE"); err != nil {
		return c, err
	} else if v > 0 {
		c.MaxIdle = v
	}
	if v, err := envDuration("STEAL_BACKOFF"); err != nil {
		return c, err
	} else if v > 0 {
		c.StealBackoff = v
	}
	if v, err := envDuration("STEAL_RATE_LIMIT"); err != nil {
		return c, err
	} else if v > 0 {
		c.StealRateLimit = v
	}
	if v, ok, err := envInt("LOOP_MAX_REQUESTS"); err != nil {
		return c, err
	} else if ok {
		c.LoopMaxRequests = v
	}
	if v, ok, err := envInt("LOOP_MAX_POLLS"); err != nil {
		return c, err
	} else if ok {
		c.LoopMaxPolls = v
	}
	if v, ok, err := envInt("LOOP_MAX_SLEEPS"); err != nil {
		return c, err
	} else if ok {
		c.LoopMaxSleeps = v
	}
	if v, ok, err := envInt("CLOSED_CACHE_SIZE"); err != nil {
		return c, err
	} else if ok {
		c.ClosedCacheSize = v
	}

	c.Debug = envBool("DEBUG")
	c.Trace = envBool("TRACE")
	c.PerfCounters = envBool("PERF_COUNTERS")
	c.PerfCountersPrint = envBool("PERF_COUNTERS_PRINT")

	if ranks, ok := os.LookupEnv("DEBUG_RANKS"); ok && ranks != "" {
		m, err := parseRankSet(ranks)
		if err != nil {
			return c, err
		}
		c.DebugRanks = m
	}

	if envBool("DISABLE_HOSTMAP") {
		c.HostmapMode = HostmapDisabled
	}
	if mode, ok := os.LookupEnv("HOSTMAP_MODE"); ok {
		switch strings.ToUpper(mode) {
		case "ENABLED":
			c.HostmapMode = HostmapEnabled
		case "LEADERS":
			c.HostmapMode = HostmapLeaders
		case "DISABLED":
			c.HostmapMode = HostmapDisabled
		default:
			return c, fmt.Errorf("config: invalid HOSTMAP_MODE %q", mode)
		}
	}

	return c, nil
}

func envDuration(key string) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, raw, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func envInt(key string) (int, bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("config: invalid %s=%q: %w", key, raw, err)
	}
	return v, true, nil
}

func envBool(key string) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return raw != ""
	}
	return v
}

func parseRankSet(raw string) (map[int]bool, error) {
	parts := strings.Split(raw, ",")
	out := make(map[int]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		rank, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("config: invalid DEBUG_RANKS entry %q: %w", p, err)
		}
		out[rank] = true
	}
	return out, nil
}
