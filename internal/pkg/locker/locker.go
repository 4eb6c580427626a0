// Package locker serializes work per key, in process and across instances.
package locker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotAcquired = errors.New("locker: lock not acquired")

// Locker grants exclusive access to key until release is called.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Keyed is an in-process lock table. Entries are dropped once no holder or
// waiter references them.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*keyedEntry)}
}

func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.unref(key, e)
		})
	}, nil
}

func (k *Keyed) unref(key string, e *keyedEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Len reports how many keys are currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Store is the subset of the redis client the distributed lock needs.
type Store interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, token string) (bool, error)
}

// RedisOptions tunes a Redis lock.
type RedisOptions struct {
	Prefix string
	TTL    time.Duration // lease length, bounds a crashed holder
	Wait   time.Duration // give up after this long
	Retry  time.Duration
}

// Redis is a lease lock held as SET NX PX with an owner token.
type Redis struct {
	store Store
	opts  RedisOptions
}

func NewRedis(store Store, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "insight:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}
	if opts.Retry <= 0 {
		opts.Retry = 25 * time.Millisecond
	}
	return &Redis{store: store, opts: opts}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	full := r.opts.Prefix + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, r.opts.Wait)
	defer cancel()

	for {
		ok, err := r.store.SetNX(ctx, full, token, r.opts.TTL)
		if err != nil {
			return nil, err
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_, _ = r.store.ReleaseIfOwner(releaseCtx, full, token)
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrNotAcquired
		case <-time.After(r.opts.Retry):
		}
	}
}

// Chain acquires each locker in order and releases in reverse.
func Chain(lockers ...Locker) Locker {
	return chain(lockers)
}

type chain []Locker

func (c chain) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		if l == nil {
			continue
		}
		release, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
