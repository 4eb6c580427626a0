// Package store persists visitors, sessions and the page-view and event facts
// that reference them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mx-space/insight/internal/pkg/locker"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a visitor or session does not exist.
var ErrNotFound = errors.New("store: record not found")

// DefaultSessionTimeout is the idle time after which a session is expired.
const DefaultSessionTimeout = 24 * time.Hour

// Options configures a Store.
type Options struct {
	// Locker serializes writes per visitor id. Defaults to an in-process table.
	Locker         locker.Locker
	SessionTimeout time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
}

// Store groups the visitor and session stores over one database.
type Store struct {
	db       *gorm.DB
	Visitors *VisitorStore
	Sessions *SessionStore
}

func New(db *gorm.DB, opts Options) *Store {
	if opts.Locker == nil {
		opts.Locker = locker.NewKeyed()
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	now := func() time.Time { return opts.Now().UTC() }
	return &Store{
		db:       db,
		Visitors: &VisitorStore{db: db, locker: opts.Locker, now: now},
		Sessions: &SessionStore{
			db:      db,
			locker:  opts.Locker,
			now:     now,
			timeout: opts.SessionTimeout,
			logger:  opts.Logger.Named("SessionStore"),
		},
	}
}

// DB exposes the underlying handle for read-only reporting.
func (s *Store) DB() *gorm.DB { return s.db }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func acquire(ctx context.Context, l locker.Locker, visitorID string) (func(), error) {
	return l.Acquire(ctx, "visitor:"+visitorID)
}

func elapsedSeconds(from, to time.Time) int64 {
	d := int64(to.Sub(from) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
