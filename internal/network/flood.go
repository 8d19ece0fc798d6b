package network

import "time"

// buckets beyond this count trigger a sweep of idle sources
const floodSweepThreshold = 1024

// floodGuard counts datagrams per source IP in fixed one-second windows.
// It is owned by the receiver goroutine and is not safe for concurrent use.
type floodGuard struct {
	maxPerSec int
	counts    map[string]*floodBucket
}

type floodBucket struct {
	count       int
	windowStart time.Time
}

func newFloodGuard(maxPerSec int) *floodGuard {
	return &floodGuard{
		maxPerSec: maxPerSec,
		counts:    make(map[string]*floodBucket),
	}
}

func (g *floodGuard) allow(ip string, now time.Time) bool {
	b, ok := g.counts[ip]
	if !ok || now.Sub(b.windowStart) >= time.Second {
		if !ok && len(g.counts) >= floodSweepThreshold {
			g.sweep(now)
		}
		g.counts[ip] = &floodBucket{count: 1, windowStart: now}
		return true
	}

	b.count++
	return b.count <= g.maxPerSec
}

func (g *floodGuard) sweep(now time.Time) {
	for ip, b := range g.counts {
		if now.Sub(b.windowStart) >= time.Second {
			delete(g.counts, ip)
		}
	}
}
