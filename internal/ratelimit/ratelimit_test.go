package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucketAllowsBurstThenDenies(t *testing.T) {
	l, err := New(TokenBucket, 60, 3)
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		if !l.Allow("temp-01") {
			t.Fatalf("message %d should be allowed within burst", i)
		}
	}
	if l.Allow("temp-01") {
		t.Fatal("4th message should be denied, burst exhausted")
	}
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	l, err := New(TokenBucket, 60, 1)
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	if !l.Allow("temp-01") {
		t.Fatal("first message should be allowed")
	}
	if l.Allow("temp-01") {
		t.Fatal("second immediate message should be denied")
	}

	fixed = fixed.Add(1100 * time.Millisecond)
	l.now = func() time.Time { return fixed }
	if !l.Allow("temp-01") {
		t.Fatal("message after refill interval should be allowed")
	}
}

func TestLeakyBucketAllowsUpToCapacity(t *testing.T) {
	l, err := New(LeakyBucket, 60, 2)
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	if !l.Allow("wind-01") || !l.Allow("wind-01") {
		t.Fatal("first two messages should be allowed within capacity")
	}
	if l.Allow("wind-01") {
		t.Fatal("third message should be denied, capacity exhausted")
	}
}

func TestLimiterTracksPerSensorIndependently(t *testing.T) {
	l, err := New(TokenBucket, 60, 1)
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Now()
	l.now = func() time.Time { return fixed }

	if !l.Allow("temp-01") {
		t.Fatal("temp-01 should be allowed")
	}
	if !l.Allow("humidity-01") {
		t.Fatal("humidity-01 should have its own independent bucket")
	}
}

func TestStatsAndReset(t *testing.T) {
	l, err := New(TokenBucket, 60, 1)
	if err != nil {
		t.Fatal(err)
	}
	l.Allow("temp-01")
	l.Allow("temp-01")

	stats := l.Stats()
	s, ok := stats["temp-01"]
	if !ok {
		t.Fatal("expected stats for temp-01")
	}
	if s.Allowed != 1 || s.Denied != 1 {
		t.Errorf("expected 1 allowed, 1 denied, got %+v", s)
	}

	l.Reset()
	if len(l.Stats()) != 0 {
		t.Fatal("expected empty stats after reset")
	}
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	if _, err := New("unknown", 60, 1); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}
