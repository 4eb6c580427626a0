// Package gateway pushes realtime analytics snapshots to authenticated admin
// observers.
package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mx-space/insight/internal/modules/auth/auth"
	"github.com/mx-space/insight/internal/modules/stats/report"
	"github.com/mx-space/insight/internal/pkg/metrics"
	"go.uber.org/zap"
)

const (
	EventAuthenticated = "authenticated"
	EventRealtimeStats = "realtime-stats"

	DefaultInterval = 5 * time.Second
)

// ErrDisconnected is returned when the connection closed before it was admitted.
var ErrDisconnected = errors.New("gateway: connection closed")

// Conn is one observer connection.
type Conn interface {
	ID() string
	Connected() bool
	Emit(event string, payload any) error
}

// SnapshotSource produces the realtime snapshot.
type SnapshotSource interface {
	Realtime(ctx context.Context) (*report.RealtimeStats, error)
}

// AuthResult is the payload of the authenticated event.
type AuthResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Broadcaster owns the set of authenticated connections and emits a
// snapshot to all of them on every tick.
type Broadcaster struct {
	verifier auth.CredentialVerifier
	source   SnapshotSource
	interval time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[string]Conn

	latest atomic.Pointer[report.RealtimeStats]
}

func NewBroadcaster(verifier auth.CredentialVerifier, source SnapshotSource, interval time.Duration, logger *zap.Logger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		verifier: verifier,
		source:   source,
		interval: interval,
		logger:   logger.Named("Realtime"),
		conns:    make(map[string]Conn),
	}
}

// Authenticate admits conn when token belongs to an admin and sends it the
// current snapshot. A rejected connection is told why and not added.
func (b *Broadcaster) Authenticate(ctx context.Context, conn Conn, token string) error {
	identity, err := b.verifier.VerifyCredential(token)
	if err == nil && !identity.IsAdmin() {
		err = auth.ErrUnauthorized
	}
	if err != nil {
		_ = conn.Emit(EventAuthenticated, AuthResult{Success: false, Error: "authentication failed"})
		b.logger.Debug("observer rejected", zap.String("conn", conn.ID()), zap.Error(err))
		return err
	}

	// The transport marks a socket closed before Disconnect runs under mu.
	b.mu.Lock()
	if !conn.Connected() {
		b.mu.Unlock()
		return ErrDisconnected
	}
	b.conns[conn.ID()] = conn
	n := len(b.conns)
	b.mu.Unlock()
	metrics.RealtimeConnections.Set(float64(n))

	_ = conn.Emit(EventAuthenticated, AuthResult{Success: true})
	stats, err := b.snapshot(ctx)
	if err != nil {
		b.logger.Warn("initial snapshot failed", zap.String("conn", conn.ID()), zap.Error(err))
		return nil
	}
	if err := conn.Emit(EventRealtimeStats, stats); err != nil {
		b.logger.Debug("emit failed", zap.String("conn", conn.ID()), zap.Error(err))
	}
	return nil
}

// Disconnect forgets the connection with id.
func (b *Broadcaster) Disconnect(id string) {
	b.mu.Lock()
	delete(b.conns, id)
	n := len(b.conns)
	b.mu.Unlock()
	metrics.RealtimeConnections.Set(float64(n))
}

// Count is the number of authenticated connections.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Latest returns the last snapshot taken, or nil before the first one.
func (b *Broadcaster) Latest() *report.RealtimeStats {
	return b.latest.Load()
}

// ActiveVisitors reports the active visitor count of the last snapshot.
func (b *Broadcaster) ActiveVisitors() (int64, bool) {
	if s := b.latest.Load(); s != nil {
		return s.ActiveVisitors, true
	}
	return 0, false
}

// Serve broadcasts on every interval until ctx is done.
func (b *Broadcaster) Serve(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.broadcast(ctx)
		}
	}
}

func (b *Broadcaster) String() string { return "realtime-broadcaster" }

// broadcast sends one snapshot to every connection. An empty set skips the query.
func (b *Broadcaster) broadcast(ctx context.Context) {
	b.mu.Lock()
	conns := make([]Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	if len(conns) == 0 {
		return
	}

	stats, err := b.snapshot(ctx)
	if err != nil {
		b.logger.Warn("realtime snapshot failed", zap.Error(err))
		return
	}
	for _, c := range conns {
		if err := c.Emit(EventRealtimeStats, stats); err != nil {
			b.logger.Debug("emit failed", zap.String("conn", c.ID()), zap.Error(err))
		}
	}
	metrics.RealtimeBroadcasts.Inc()
}

func (b *Broadcaster) snapshot(ctx context.Context) (*report.RealtimeStats, error) {
	stats, err := b.source.Realtime(ctx)
	if err != nil {
		return nil, err
	}
	b.latest.Store(stats)
	return stats, nil
}
