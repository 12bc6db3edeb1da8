// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package authz

import (
	"sync"
	"time"
)

// decisionKey identifies one Casbin enforcement question. Using a
// struct key instead of joined strings keeps a subject containing ":"
// from colliding with another tuple.
type decisionKey struct {
	subject string
	object  string
	action  string
}

// decision is a cached enforcement verdict.
type decision struct {
	allowed bool
	staleAt time.Time
}

// decisionCache memoizes enforcement verdicts so hot API routes do not
// re-run the Casbin matcher on every request. Verdicts go stale after
// the TTL; role changes evict the affected subject immediately.
type decisionCache struct {
	ttl time.Duration

	mu        sync.RWMutex
	decisions map[decisionKey]decision

	done     chan struct{}
	stopOnce sync.Once
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &decisionCache{
		ttl:       ttl,
		decisions: make(map[decisionKey]decision),
		done:      make(chan struct{}),
	}
	go c.sweep()
	return c
}

// lookup returns the cached verdict and whether one was found. Stale
// entries are treated as misses; the sweeper removes them later.
func (c *decisionCache) lookup(subject, object, action string) (allowed, found bool) {
	c.mu.RLock()
	d, ok := c.decisions[decisionKey{subject, object, action}]
	c.mu.RUnlock()

	if !ok || time.Now().After(d.staleAt) {
		return false, false
	}
	return d.allowed, true
}

// store records a verdict for the cache TTL.
func (c *decisionCache) store(subject, object, action string, allowed bool) {
	d := decision{allowed: allowed, staleAt: time.Now().Add(c.ttl)}

	c.mu.Lock()
	c.decisions[decisionKey{subject, object, action}] = d
	c.mu.Unlock()
}

// dropSubject evicts every cached verdict for one subject, used when
// the subject's roles change.
func (c *decisionCache) dropSubject(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.decisions {
		if key.subject == subject {
			delete(c.decisions, key)
		}
	}
}

// reset drops all cached verdicts, used after a policy reload.
func (c *decisionCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions = make(map[decisionKey]decision)
}

// sweep evicts stale verdicts once per TTL interval.
func (c *decisionCache) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, d := range c.decisions {
				if now.After(d.staleAt) {
					delete(c.decisions, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// stop ends the sweeper goroutine. Idempotent.
func (c *decisionCache) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}
