package authkit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStateStoreIssueAndConsume(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(2 * time.Minute).(*memoryStateStore)
	store.now = func() time.Time { return time.Unix(1000, 0) }

	token, err := store.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}

	if err := store.Consume(context.Background(), token); err != nil {
		t.Fatalf("consume state: %v", err)
	}

	if err := store.Consume(context.Background(), token); err != ErrStateNotFound {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestMemoryStateStoreRejectsUnknownToken(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute)

	if err := store.Consume(context.Background(), "never-issued"); err != ErrStateNotFound {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
}

func TestMemoryStateStoreExpiry(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute).(*memoryStateStore)
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	token, err := store.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}

	current = current.Add(2 * time.Minute)

	err = store.Consume(context.Background(), token)
	if err != ErrStateExpired {
		t.Fatalf("expected ErrStateExpired, got %v", err)
	}
}

func TestMemoryStateStorePurgesAbandonedTokens(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute).(*memoryStateStore)
	current := time.Unix(1000, 0)
	store.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		if _, err := store.Issue(context.Background()); err != nil {
			t.Fatalf("issue state: %v", err)
		}
	}

	current = current.Add(2 * time.Minute)

	// Any access purges the stale entries.
	if _, err := store.Issue(context.Background()); err != nil {
		t.Fatalf("issue state: %v", err)
	}

	store.mutex.Lock()
	remaining := len(store.entries)
	store.mutex.Unlock()
	if remaining != 1 {
		t.Fatalf("expected 1 live entry after purge, got %d", remaining)
	}
}

func TestMemoryStateStoreConsumeRaceHasOneWinner(t *testing.T) {
	t.Parallel()
	store := NewMemoryStateStore(time.Minute)

	token, err := store.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue state: %v", err)
	}

	const racers = 16
	var waitGroup sync.WaitGroup
	successes := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if consumeErr := store.Consume(context.Background(), token); consumeErr == nil {
				successes <- struct{}{}
			}
		}()
	}
	waitGroup.Wait()
	close(successes)

	winners := 0
	for range successes {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}
