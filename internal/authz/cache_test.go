// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package authz

import (
	"testing"
	"time"
)

func TestDecisionCacheLookupStoreDrop(t *testing.T) {
	c := newDecisionCache(time.Minute)
	defer c.stop()

	if _, found := c.lookup("user", "/api/v1/events", "GET"); found {
		t.Fatal("empty cache should miss")
	}

	c.store("user", "/api/v1/events", "GET", true)
	c.store("user", "/api/v1/admin/tracks", "POST", false)
	c.store("admin", "/api/v1/admin/tracks", "POST", true)

	if allowed, found := c.lookup("user", "/api/v1/events", "GET"); !found || !allowed {
		t.Errorf("lookup(user events) = %v, %v, want true, true", allowed, found)
	}
	if allowed, found := c.lookup("user", "/api/v1/admin/tracks", "POST"); !found || allowed {
		t.Errorf("lookup(user admin) = %v, %v, want false, true", allowed, found)
	}

	c.dropSubject("user")
	if _, found := c.lookup("user", "/api/v1/events", "GET"); found {
		t.Error("dropSubject should evict the user's verdicts")
	}
	if _, found := c.lookup("admin", "/api/v1/admin/tracks", "POST"); !found {
		t.Error("dropSubject must not touch other subjects")
	}

	c.reset()
	if _, found := c.lookup("admin", "/api/v1/admin/tracks", "POST"); found {
		t.Error("reset should evict everything")
	}
}

func TestDecisionCacheKeyIsTuple(t *testing.T) {
	c := newDecisionCache(time.Minute)
	defer c.stop()

	// "a:b"/"c" and "a"/"b:c" must stay distinct entries.
	c.store("a:b", "c", "GET", true)
	if _, found := c.lookup("a", "b:c", "GET"); found {
		t.Error("subjects containing separators must not collide")
	}
}

func TestDecisionCacheExpiry(t *testing.T) {
	c := newDecisionCache(10 * time.Millisecond)
	defer c.stop()

	c.store("user", "/api/v1/events", "GET", true)
	time.Sleep(30 * time.Millisecond)

	if _, found := c.lookup("user", "/api/v1/events", "GET"); found {
		t.Error("stale verdict should read as a miss")
	}
}
