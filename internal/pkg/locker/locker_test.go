package locker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), "visitor")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxSeen)
	}
	if k.Len() != 0 {
		t.Fatalf("Len() = %d after release, want 0", k.Len())
	}
}

func TestKeyedDifferentKeysIndependent(t *testing.T) {
	k := NewKeyed()
	releaseA, _ := k.Acquire(context.Background(), "a")
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := k.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}
	releaseB()
}

func TestKeyedHonorsContext(t *testing.T) {
	k := NewKeyed()
	release, _ := k.Acquire(context.Background(), "a")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Acquire(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want deadline exceeded", err)
	}
}

type memStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memStore) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = value.(string)
	return true, nil
}

func (m *memStore) ReleaseIfOwner(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] != token {
		return false, nil
	}
	delete(m.keys, key)
	return true, nil
}

func TestRedisLock(t *testing.T) {
	store := &memStore{keys: map[string]string{}}
	l := NewRedis(store, RedisOptions{Wait: 50 * time.Millisecond, Retry: 5 * time.Millisecond})

	release, err := l.Acquire(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, ok := store.keys["insight:lock:v1"]; !ok {
		t.Fatalf("lock key not set: %v", store.keys)
	}
	if _, err := l.Acquire(context.Background(), "v1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second Acquire() error = %v, want ErrNotAcquired", err)
	}

	release()
	release()
	if len(store.keys) != 0 {
		t.Fatalf("keys after release = %v", store.keys)
	}
}

func TestRedisLockKeepsForeignToken(t *testing.T) {
	store := &memStore{keys: map[string]string{}}
	l := NewRedis(store, RedisOptions{})
	release, _ := l.Acquire(context.Background(), "v1")
	// lease expired and another instance took it over
	store.keys["insight:lock:v1"] = "other"
	release()
	if store.keys["insight:lock:v1"] != "other" {
		t.Fatal("released a lock owned by another token")
	}
}

func TestChainReleasesOnFailure(t *testing.T) {
	k := NewKeyed()
	store := &memStore{keys: map[string]string{"insight:lock:v1": "held"}}
	c := Chain(k, nil, NewRedis(store, RedisOptions{Wait: 20 * time.Millisecond, Retry: 5 * time.Millisecond}))

	if _, err := c.Acquire(context.Background(), "v1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("Acquire() error = %v, want ErrNotAcquired", err)
	}
	if k.Len() != 0 {
		t.Fatalf("keyed lock leaked after chain failure")
	}
}
