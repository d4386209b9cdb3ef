package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "clinicauth"), mr
}

func testRecord(hash, identityID string, ttl time.Duration) *Record {
	return &Record{
		TokenHash:  hash,
		IdentityID: identityID,
		ExpiresAt:  time.Now().Add(ttl),
		RememberMe: true,
		IP:         "10.0.0.7",
		UserAgent:  "clinic-web/2.1",
	}
}

func TestRedisSaveGetRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	rec := testRecord("hash-1", "id-1", time.Hour)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.IdentityID != "id-1" || !got.RememberMe || got.IP != "10.0.0.7" || got.UserAgent != "clinic-web/2.1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be backfilled")
	}
}

func TestRedisGetMissing(t *testing.T) {
	store, _ := newTestRedisStore(t)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestRedisSaveRejectsLapsedRecord(t *testing.T) {
	store, _ := newTestRedisStore(t)

	rec := testRecord("hash-1", "id-1", -time.Minute)
	if err := store.Save(context.Background(), rec); err == nil {
		t.Fatal("expected error for already expired record")
	}
}

func TestRedisGetExpiredDeletes(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	rec := testRecord("hash-1", "id-1", 30*time.Millisecond)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, err := store.Get(ctx, "hash-1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("Get = %v, want ErrExpired", err)
	}
	if _, err := store.Get(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Get = %v, want ErrNotFound", err)
	}
}

func TestRedisRotate(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testRecord("old", "id-1", time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	newExpiry := time.Now().Add(2 * time.Hour)
	rotated, err := store.Rotate(ctx, "old", "new", newExpiry)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if rotated.TokenHash != "new" || rotated.IdentityID != "id-1" {
		t.Errorf("unexpected rotated record: %+v", rotated)
	}
	if !rotated.RememberMe || rotated.IP != "10.0.0.7" {
		t.Errorf("client metadata not carried over: %+v", rotated)
	}

	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old record still readable: %v", err)
	}
	got, err := store.Get(ctx, "new")
	if err != nil {
		t.Fatalf("Get new failed: %v", err)
	}
	if got.ExpiresAt.UnixMilli() != newExpiry.UnixMilli() {
		t.Errorf("expiry = %v, want %v", got.ExpiresAt, newExpiry)
	}
}

func TestRedisRotateMissing(t *testing.T) {
	store, _ := newTestRedisStore(t)

	_, err := store.Rotate(context.Background(), "ghost", "new", time.Now().Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Rotate = %v, want ErrNotFound", err)
	}
}

func TestRedisRotateExpiredBurnsRecord(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testRecord("old", "id-1", 30*time.Millisecond)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, err := store.Rotate(ctx, "old", "new", time.Now().Add(time.Hour)); !errors.Is(err, ErrExpired) {
		t.Fatalf("Rotate = %v, want ErrExpired", err)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record not burned: %v", err)
	}
	if _, err := store.Get(ctx, "new"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no new record should exist: %v", err)
	}
}

func TestRedisRotateConcurrentSingleWinner(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testRecord("contested", "id-1", time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		notFound int
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := store.Rotate(ctx, "contested", fmt.Sprintf("next-%d", i), time.Now().Add(time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrNotFound):
				notFound++
			default:
				t.Errorf("worker %d: unexpected error %v", i, err)
			}
		}(i)
	}

	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if notFound != workers-1 {
		t.Fatalf("notFound = %d, want %d", notFound, workers-1)
	}
}

func TestRedisDeleteAllForIdentity(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Save(ctx, testRecord(fmt.Sprintf("a-%d", i), "id-a", time.Hour)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := store.Save(ctx, testRecord("b-0", "id-b", time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	n, err := store.DeleteAllForIdentity(ctx, "id-a")
	if err != nil {
		t.Fatalf("DeleteAllForIdentity failed: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Get(ctx, fmt.Sprintf("a-%d", i)); !errors.Is(err, ErrNotFound) {
			t.Errorf("a-%d still readable: %v", i, err)
		}
	}
	if _, err := store.Get(ctx, "b-0"); err != nil {
		t.Errorf("unrelated identity record lost: %v", err)
	}
}

func TestRedisDeleteMissingIsNoop(t *testing.T) {
	store, _ := newTestRedisStore(t)
	if err := store.Delete(context.Background(), "ghost"); err != nil {
		t.Fatalf("Delete = %v, want nil", err)
	}
}

func TestRedisDeleteExpiredPrunesIndex(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testRecord("short", "id-1", time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, testRecord("long", "id-1", time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Let Redis reap the short-lived key, leaving a stale index member.
	mr.FastForward(2 * time.Minute)

	pruned, err := store.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if _, err := store.Get(ctx, "long"); err != nil {
		t.Errorf("surviving record lost: %v", err)
	}
}
