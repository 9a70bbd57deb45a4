package algorithm

import (
	"testing"
	"time"
)

func TestLeakyBucketPacesBursts(t *testing.T) {
	b := newLeakyBucket(3, 3*time.Second) // leak rate 1/s
	now := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		if !b.TryAdmit("k", now) {
			t.Fatalf("expected admit %d filling the bucket", i)
		}
	}
	if b.TryAdmit("k", now) {
		t.Fatalf("expected rejection once bucket is full")
	}

	now = now.Add(time.Second)
	if !b.TryAdmit("k", now) {
		t.Fatalf("expected exactly one admit after 1s of leaking")
	}
	if b.TryAdmit("k", now) {
		t.Fatalf("expected second admit at the same instant to be rejected")
	}
}

func TestLeakyBucketDrainsToZero(t *testing.T) {
	b := newLeakyBucket(2, 2*time.Second)
	now := time.Unix(0, 0)
	b.TryAdmit("k", now)
	b.TryAdmit("k", now)

	now = now.Add(10 * time.Second)
	st := b.Stats("k", now)
	if st.Used != 0 {
		t.Fatalf("expected level to have drained fully, got used=%d", st.Used)
	}
}

func TestLeakyBucketEvictIdle(t *testing.T) {
	b := newLeakyBucket(3, 3*time.Second)
	now := time.Unix(0, 0)
	b.TryAdmit("idle", now)
	b.TryAdmit("active", now.Add(time.Hour))

	b.EvictIdle(now.Add(time.Minute))

	if _, ok := b.states["active"]; !ok {
		t.Fatalf("expected the recently-touched key to survive eviction")
	}
	if _, ok := b.states["idle"]; ok {
		t.Fatalf("expected the idle key to have been evicted")
	}
}
