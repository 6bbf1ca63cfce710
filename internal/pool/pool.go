// Package pool keeps one persistent database/sql pool per distinct source
// connection and hands out live handles. Pools outlive individual requests
// so steady-state queries never pay connection establishment cost.
package pool

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"pivotgate/internal/dialect"
	"pivotgate/internal/enginerr"
)

// Config sizes every pool the manager creates. Defaults mirror a baseline of
// five steady connections with ten overflow.
type Config struct {
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	WarmConnections int
}

func DefaultConfig() Config {
	return Config{
		MaxOpen:         15,
		MaxIdle:         5,
		ConnMaxLifetime: time.Hour,
		WarmConnections: 3,
	}
}

// Status reports one pool's occupancy for monitoring.
type Status struct {
	Key       string `json:"key"`
	Size      int    `json:"size"`
	InUse     int    `json:"inUse"`
	Available int    `json:"available"`
	Overflow  int    `json:"overflow"`
}

// OpenFunc opens a database handle. Production uses sql.Open; tests inject
// a mock opener.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

type entry struct {
	db        *sql.DB
	desc      dialect.Descriptor
	createdAt time.Time
}

// Manager owns the key to pool registry. The registry mutex guards only
// lookup, insert, and remove; opening and pinging a database never happens
// under it.
type Manager struct {
	logger *slog.Logger
	cfg    Config
	open   OpenFunc

	mu    sync.Mutex
	pools map[string]*entry

	warmMu   sync.Mutex
	warmKeys map[string]*sync.Mutex
}

func NewManager(logger *slog.Logger, cfg Config, open OpenFunc) *Manager {
	if open == nil {
		open = sql.Open
	}
	return &Manager{
		logger:   logger,
		cfg:      cfg,
		open:     open,
		pools:    make(map[string]*entry),
		warmKeys: make(map[string]*sync.Mutex),
	}
}

// Key derives the registry key from every identity-relevant descriptor
// field. The password participates only as its own digest, so rotating a
// credential yields a fresh pool without the secret entering the key.
func Key(desc dialect.Descriptor) string {
	pwd := sha256.Sum256([]byte(desc.Password))
	port := desc.Port
	if port == 0 {
		port = desc.Type.DefaultPort()
	}
	return framedSHA256(
		string(desc.Type),
		desc.Host,
		strconv.Itoa(port),
		desc.Database,
		desc.Username,
		hex.EncodeToString(pwd[:]),
	)
}

func framedSHA256(parts ...string) string {
	hash := sha256.New()
	for _, part := range parts {
		_, _ = fmt.Fprintf(hash, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// DisplayKey is the operator-facing identity for a pool: the redacted
// endpoint plus a short credential digest so rotated passwords are visibly
// distinct pools.
func DisplayKey(desc dialect.Descriptor) string {
	pwd := sha256.Sum256([]byte(desc.Password))
	return fmt.Sprintf("%s#%s", desc.Redacted(), hex.EncodeToString(pwd[:])[:16])
}

// Acquire returns a live pool for the descriptor, creating it on first use.
// An existing pool is ping-probed; a stale one is disposed and transparently
// recreated before the caller sees an error.
func (m *Manager) Acquire(ctx context.Context, desc dialect.Descriptor) (*sql.DB, error) {
	key := Key(desc)

	m.mu.Lock()
	existing, ok := m.pools[key]
	m.mu.Unlock()

	if ok {
		err := existing.db.PingContext(ctx)
		if err == nil {
			return existing.db, nil
		}
		// A probe aborted by the caller's own context says nothing about
		// pool health. Other requests may be mid-query on this pool, so it
		// stays registered and the caller gets the error.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, enginerr.Classify(err, desc.Host, desc.Database)
		}
		m.logger.Warn("pool failed liveness probe, recreating",
			slog.String("pool", DisplayKey(desc)),
			slog.String("error", err.Error()))
		m.removeEntry(key, existing)
	}
	return m.create(ctx, key, desc)
}

func (m *Manager) create(ctx context.Context, key string, desc dialect.Descriptor) (*sql.DB, error) {
	dsn, err := desc.DSN()
	if err != nil {
		return nil, err
	}
	db, err := m.open(desc.Type.DriverName(), dsn)
	if err != nil {
		return nil, enginerr.Classify(err, desc.Host, desc.Database)
	}
	db.SetMaxOpenConns(m.cfg.MaxOpen)
	db.SetMaxIdleConns(m.cfg.MaxIdle)
	db.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, enginerr.Classify(err, desc.Host, desc.Database)
	}

	m.mu.Lock()
	if raced, ok := m.pools[key]; ok {
		// Another goroutine created the pool while we were connecting.
		m.mu.Unlock()
		_ = db.Close()
		return raced.db, nil
	}
	m.pools[key] = &entry{db: db, desc: desc, createdAt: time.Now()}
	m.mu.Unlock()

	m.logger.Info("created connection pool",
		slog.String("pool", DisplayKey(desc)),
		slog.Int("max_open", m.cfg.MaxOpen))
	return db, nil
}

// Warm primes a pool by opening a handful of connections up front. Calls
// are idempotent per key; concurrent warms of the same descriptor serialize
// on a per-key mutex so only one does the work.
func (m *Manager) Warm(ctx context.Context, desc dialect.Descriptor) error {
	key := Key(desc)

	m.warmMu.Lock()
	keyMu, ok := m.warmKeys[key]
	if !ok {
		keyMu = &sync.Mutex{}
		m.warmKeys[key] = keyMu
	}
	m.warmMu.Unlock()

	keyMu.Lock()
	defer keyMu.Unlock()

	db, err := m.Acquire(ctx, desc)
	if err != nil {
		return err
	}

	target := min(m.cfg.WarmConnections, m.cfg.MaxIdle)
	conns := make([]*sql.Conn, 0, target)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < target; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			return enginerr.Classify(err, desc.Host, desc.Database)
		}
		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			return enginerr.Classify(err, desc.Host, desc.Database)
		}
		conns = append(conns, conn)
	}

	m.logger.Info("warmed connection pool",
		slog.String("pool", DisplayKey(desc)),
		slog.Int("connections", target))
	return nil
}

// Statuses snapshots every active pool's occupancy, keyed by the redacted
// display key.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	entries := make(map[string]*entry, len(m.pools))
	for k, e := range m.pools {
		entries[k] = e
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		stats := e.db.Stats()
		overflow := stats.OpenConnections - m.cfg.MaxIdle
		if overflow < 0 {
			overflow = 0
		}
		out = append(out, Status{
			Key:       DisplayKey(e.desc),
			Size:      stats.OpenConnections,
			InUse:     stats.InUse,
			Available: stats.Idle,
			Overflow:  overflow,
		})
	}
	return out
}

// Count reports the number of active pools.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pools)
}

// Dispose closes and forgets the pool for a descriptor, if present.
func (m *Manager) Dispose(desc dialect.Descriptor) bool {
	key := Key(desc)
	m.mu.Lock()
	e, ok := m.pools[key]
	if ok {
		delete(m.pools, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	_ = e.db.Close()
	m.logger.Info("disposed connection pool", slog.String("pool", DisplayKey(desc)))
	return true
}

// DisposeAll closes every pool, for shutdown.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	entries := m.pools
	m.pools = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		_ = e.db.Close()
	}
	if len(entries) > 0 {
		m.logger.Info("disposed all connection pools", slog.Int("count", len(entries)))
	}
}

func (m *Manager) removeEntry(key string, e *entry) {
	m.mu.Lock()
	if current, ok := m.pools[key]; ok && current == e {
		delete(m.pools, key)
	}
	m.mu.Unlock()
	_ = e.db.Close()
}
