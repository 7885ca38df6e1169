package idempotency

import (
	"context"
	"testing"
	"time"

	"leadrouting_backend/internal/routing/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newLedger(t *testing.T, ttl time.Duration) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLedger(rdb, "", ttl), mr
}

func TestLookupUnknownDeliveryReturnsNil(t *testing.T) {
	ledger, _ := newLedger(t, time.Hour)

	got, err := ledger.Lookup(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil result, got %+v", got)
	}
}

func TestRecordKeepsFirstResult(t *testing.T) {
	ledger, mr := newLedger(t, time.Hour)
	ctx := context.Background()

	first := domain.MergeResult{LeadID: uuid.New(), Created: true}
	if err := ledger.Record(ctx, "d-1", first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := ledger.Record(ctx, "d-1", domain.MergeResult{LeadID: uuid.New()}); err != nil {
		t.Fatalf("second record: %v", err)
	}

	got, err := ledger.Lookup(ctx, "d-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil || *got != first {
		t.Fatalf("expected %+v, got %+v", first, got)
	}
	if !mr.Exists(defaultPrefix + "d-1") {
		t.Fatalf("expected key under default prefix")
	}
}

func TestRecordExpires(t *testing.T) {
	ledger, mr := newLedger(t, time.Minute)
	ctx := context.Background()

	if err := ledger.Record(ctx, "d-2", domain.MergeResult{LeadID: uuid.New()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	got, err := ledger.Lookup(ctx, "d-2")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != nil {
		t.Fatalf("expected expired delivery to be forgotten, got %+v", got)
	}
}

func TestLookupRejectsCorruptValue(t *testing.T) {
	ledger, mr := newLedger(t, time.Hour)
	if err := mr.Set(defaultPrefix+"d-3", "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := ledger.Lookup(context.Background(), "d-3"); err == nil {
		t.Fatalf("expected decode error")
	}
}
