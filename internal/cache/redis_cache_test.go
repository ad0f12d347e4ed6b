package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisCache_StoreSent_Success(t *testing.T) {
	t.Parallel()

	// Start in-memory Redis
	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	ttl := 10 * time.Second
	cache := NewRedisCache(rdb, ttl)

	ctx := context.Background()
	internalID := int64(42)
	gatewayID := "wamid-123"
	sentAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	if err := cache.StoreSent(ctx, internalID, gatewayID, sentAt); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	key := "msg:42"

	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}

	ttlRemaining := mr.TTL(key)
	if ttlRemaining <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttlRemaining)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if got.GatewayMessageID != gatewayID {
		t.Fatalf("expected GatewayMessageID %q, got %q", gatewayID, got.GatewayMessageID)
	}
	if !got.SentAt.Equal(sentAt.UTC()) {
		t.Fatalf("expected SentAt %v, got %v", sentAt.UTC(), got.SentAt)
	}
}

func TestRedisCache_StoreSent_OverwritesExistingValue(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	internalID := int64(1)

	// First write
	if err := cache.StoreSent(ctx, internalID, "first", time.Now()); err != nil {
		t.Fatalf("first StoreSent() error: %v", err)
	}

	// Second write should overwrite
	secondTime := time.Now().Add(time.Minute)
	if err := cache.StoreSent(ctx, internalID, "second", secondTime); err != nil {
		t.Fatalf("second StoreSent() error: %v", err)
	}

	raw, err := mr.Get("msg:1")
	if err != nil {
		t.Fatalf("failed to get key msg:1: %v", err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if got.GatewayMessageID != "second" {
		t.Fatalf("expected overwritten GatewayMessageID %q, got %q", "second", got.GatewayMessageID)
	}
}

func TestRedisCache_StoreSent_ContextCanceled(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(rdb, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cache.StoreSent(ctx, 1, "x", time.Now())
	if err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

func TestRedisCache_Files_MissThenHit(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(rdb, time.Hour)
	ctx := context.Background()

	ref := "s3://docs/invoices/SINV-1.pdf"

	if _, ok, err := cache.LookupFile(ctx, ref); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := cache.StoreFile(ctx, ref, "file-77"); err != nil {
		t.Fatalf("StoreFile() error: %v", err)
	}

	id, ok, err := cache.LookupFile(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if id != "file-77" {
		t.Fatalf("expected file-77, got %q", id)
	}

	if ttl := mr.TTL(fileKey(ref)); ttl <= 0 {
		t.Fatalf("expected TTL on file key, got %v", ttl)
	}
}

func TestRedisCache_ForgetFile(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(rdb, time.Hour)
	ctx := context.Background()

	ref := "/files/SINV-2.pdf"
	if err := cache.StoreFile(ctx, ref, "file-78"); err != nil {
		t.Fatalf("StoreFile() error: %v", err)
	}
	if err := cache.ForgetFile(ctx, ref); err != nil {
		t.Fatalf("ForgetFile() error: %v", err)
	}
	if mr.Exists(fileKey(ref)) {
		t.Fatalf("expected file key to be deleted")
	}
	if _, ok, err := cache.LookupFile(ctx, ref); err != nil || ok {
		t.Fatalf("expected miss after forget, got ok=%v err=%v", ok, err)
	}

	// Forgetting an absent ref is not an error.
	if err := cache.ForgetFile(ctx, "/files/never.pdf"); err != nil {
		t.Fatalf("ForgetFile() on missing key error: %v", err)
	}
}

func TestRedisCache_Files_RedisDown(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(rdb, time.Hour)
	mr.Close()

	if _, _, err := cache.LookupFile(context.Background(), "/files/a.pdf"); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}
