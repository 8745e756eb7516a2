// GovSense - French Public Sector Open Data Analytics
// Copyright 2026 GovSense Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/govsense/govsense

package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/govsense/govsense/internal/models"
)

func TestCacheSetGet(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("budgets:2023", []int{1, 2, 3})
	v, ok := c.Get("budgets:2023")
	if !ok {
		t.Fatal("expected hit")
	}
	if got := v.([]int); len(got) != 3 {
		t.Errorf("got %v", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.SetWithTTL("transient", "v", 10*time.Millisecond)
	if _, ok := c.Get("transient"); !ok {
		t.Fatal("entry should be live before TTL")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("transient"); ok {
		t.Error("entry should have expired")
	}
}

func TestCacheInvalidateAll(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.InvalidateAll()

	if _, ok := c.Get("a"); ok {
		t.Error("entry a survived invalidation")
	}
	stats := c.GetStats()
	if stats.Invalidations != 1 {
		t.Errorf("invalidations = %d, want 1", stats.Invalidations)
	}
	if stats.TotalKeys != 0 {
		t.Errorf("total keys = %d, want 0", stats.TotalKeys)
	}
}

func TestCacheOnRefreshCompleted(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("stats:summary", "stale")
	c.OnRefreshCompleted(models.RefreshCompleted{RunID: "run-1", FinishedAt: time.Now()})

	if _, ok := c.Get("stats:summary"); ok {
		t.Error("cache should be empty after a refresh commit")
	}
}

func TestGetOrCompute(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	calls := 0
	load := func() (string, error) {
		calls++
		return "fresh", nil
	}

	v, cached, err := GetOrCompute(c, "k", 0, load)
	if err != nil || v != "fresh" || cached {
		t.Fatalf("first call: v=%q cached=%v err=%v", v, cached, err)
	}
	v, cached, err = GetOrCompute(c, "k", 0, load)
	if err != nil || v != "fresh" || !cached {
		t.Fatalf("second call: v=%q cached=%v err=%v", v, cached, err)
	}
	if calls != 1 {
		t.Errorf("compute ran %d times, want 1", calls)
	}
}

func TestGetOrComputeError(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	boom := errors.New("query failed")
	_, _, err := GetOrCompute(c, "k", 0, func() (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	// A failed compute must not leave a poisoned entry behind.
	v, cached, err := GetOrCompute(c, "k", 0, func() (int, error) { return 42, nil })
	if err != nil || cached || v != 42 {
		t.Fatalf("after failure: v=%d cached=%v err=%v", v, cached, err)
	}
}

func TestHitRate(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("k", 1)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	want := float64(2) / float64(3) * 100.0
	if got := c.HitRate(); got != want {
		t.Errorf("hit rate = %v, want %v", got, want)
	}
}

func TestGenerateKey(t *testing.T) {
	type params struct {
		Year   int
		Region string
	}
	a := GenerateKey("budgets", params{2023, "84"})
	b := GenerateKey("budgets", params{2023, "84"})
	other := GenerateKey("budgets", params{2024, "84"})

	if a != b {
		t.Error("identical params must produce identical keys")
	}
	if a == other {
		t.Error("different params must produce different keys")
	}
}
