// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package cache

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jthom32/racepulse/internal/metrics"
)

func TestGetSet(t *testing.T) {
	c := New("test", time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("races:abc", 42)
	got, ok := c.Get("races:abc")
	require.True(t, ok)
	assert.Equal(t, 42, got)
}

func TestExpiration(t *testing.T) {
	c := New("test", time.Minute)
	c.SetWithTTL("short", "value", 10*time.Millisecond)

	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestClear(t *testing.T) {
	c := New("test", time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Clear()

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.GetStats().TotalKeys)
}

func TestHitRate(t *testing.T) {
	c := New("test", time.Minute)
	c.Set("k", 1)

	c.Get("k")
	c.Get("k")
	c.Get("missing")

	assert.InDelta(t, 66.67, c.HitRate(), 0.01)
}

func TestHitMissCounters(t *testing.T) {
	c := New("counters", time.Minute)
	c.Set("k", 1)

	hitsBefore := testutil.ToFloat64(metrics.CacheHits.WithLabelValues("counters"))
	missesBefore := testutil.ToFloat64(metrics.CacheMisses.WithLabelValues("counters"))

	c.Get("k")
	c.Get("k")
	c.Get("missing")

	assert.Equal(t, hitsBefore+2, testutil.ToFloat64(metrics.CacheHits.WithLabelValues("counters")))
	assert.Equal(t, missesBefore+1, testutil.ToFloat64(metrics.CacheMisses.WithLabelValues("counters")))
}

func TestGenerateKeyStable(t *testing.T) {
	type params struct {
		RaceID string
		Window int
	}
	k1 := GenerateKey("pace", params{RaceID: "r1", Window: 3})
	k2 := GenerateKey("pace", params{RaceID: "r1", Window: 3})
	k3 := GenerateKey("pace", params{RaceID: "r1", Window: 5})

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
