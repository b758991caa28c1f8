package core

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/coregx/ormica/internal/logger"
)

// HealthStatus is the outcome of the most recent background ping.
type HealthStatus struct {
	Healthy   bool
	Err       error
	CheckedAt time.Time
	Latency   time.Duration
}

// healthMonitor pings the pool on an interval so that a lost database is
// noticed between queries, not by the next one.
type healthMonitor struct {
	db       *sql.DB
	logger   logger.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.RWMutex
	status HealthStatus
}

func startHealthMonitor(db *sql.DB, l logger.Logger, interval time.Duration) *healthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &healthMonitor{
		db:       db,
		logger:   l,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.run(ctx)
	return m
}

func (m *healthMonitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.ping(ctx)
	for {
		select {
		case <-ticker.C:
			m.ping(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// healthPingTimeout bounds one ping, including the wait for a free
// connection.
const healthPingTimeout = 5 * time.Second

func (m *healthMonitor) ping(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, healthPingTimeout)
	defer cancel()

	start := time.Now()
	err := m.db.PingContext(ctx)
	if parent.Err() != nil {
		return // stopped mid-ping
	}
	st := HealthStatus{Healthy: err == nil, Err: err, CheckedAt: start, Latency: time.Since(start)}

	m.mu.Lock()
	wasHealthy := m.status.Healthy || m.status.CheckedAt.IsZero()
	m.status = st
	m.mu.Unlock()

	switch {
	case err != nil:
		m.logger.Warn("database health check failed", "error", err, "interval", m.interval)
	case !wasHealthy:
		m.logger.Info("database health restored", "latency_ms", st.Latency.Milliseconds())
	default:
		m.logger.Debug("database health check passed", "latency_ms", st.Latency.Milliseconds())
	}
}

func (m *healthMonitor) current() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// stop ends the loop and waits for an in-flight ping.
func (m *healthMonitor) stop() {
	m.cancel()
	<-m.done
}

// WithHealthCheck pings the database every interval in the background.
// Results are read with DB.Health; the loop ends on Close.
func WithHealthCheck(interval time.Duration) Option {
	return func(db *DB) { db.healthInterval = interval }
}

// Health returns the latest background ping result. ok is false when
// WithHealthCheck was not given or no ping has completed yet.
func (db *DB) Health() (status HealthStatus, ok bool) {
	if db.health == nil {
		return HealthStatus{}, false
	}
	st := db.health.current()
	return st, !st.CheckedAt.IsZero()
}
