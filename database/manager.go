/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

const defaultConnectTimeout = 30 * time.Second

// opener builds the pool and the bun dialect for one connection type.
type opener func(c *ConnectionConfig) (*sql.DB, schema.Dialect, error)

var openers = map[string]opener{
	"mysql":      openMySQL,
	"postgres":   openPostgres,
	"postgresql": openPostgres,
	"sqlite":     openSQLite,
	"sqlite3":    openSQLite,
}

// SupportedTypes lists the accepted ConnectionConfig.Type values.
func SupportedTypes() []string {
	types := make([]string, 0, len(openers))
	for name := range openers {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// openMySQL reports matched rather than changed rows so that an UPDATE
// writing identical values is not taken for a stale entity.
func openMySQL(c *ConnectionConfig) (*sql.DB, schema.Dialect, error) {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.DBName
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.ClientFoundRows = true
	cfg.Timeout = c.ConnectTimeout
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, nil, err
	}
	return sql.OpenDB(connector), mysqldialect.New(), nil
}

func openPostgres(c *ConnectionConfig) (*sql.DB, schema.Dialect, error) {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	query.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.DBName,
		RawQuery: query.Encode(),
	}

	connector, err := pq.NewConnector(dsn.String())
	if err != nil {
		return nil, nil, err
	}
	return sql.OpenDB(connector), pgdialect.New(), nil
}

func openSQLite(c *ConnectionConfig) (*sql.DB, schema.Dialect, error) {
	dsn := c.DBName + ".db"
	if c.IsMemory() {
		dsn = ":memory:"
	}
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, sqlitedialect.New(), nil
}

// tunePool applies the pool limits. An in-memory database only lives as
// long as its connection, so it is pinned to exactly one.
func tunePool(sqlDB *sql.DB, c *ConnectionConfig) {
	if c.IsMemory() {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
		return
	}
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// connectionManager owns the pool of one persistence unit and, for
// networked databases, watches it and reconnects after failures.
type connectionManager struct {
	config *ConnectionConfig
	logger Logger

	mu       sync.RWMutex
	db       *bun.DB
	hooks    []bun.QueryHook
	status   HealthStatus
	failures int

	stop      chan struct{}
	watchOnce sync.Once
	stopOnce  sync.Once
}

// NewDatabaseManager returns a manager for config, or for
// DefaultConnectionConfig when config is nil. Nothing connects until
// Connect.
func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return &connectionManager{config: config, stop: make(chan struct{})}
}

func (m *connectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return nil
	}

	db, err := m.open(ctx)
	if err != nil {
		m.status.LastError = err.Error()
		return err
	}
	m.db = db
	m.status.Connected = true
	m.status.LastError = ""

	if m.config.HealthCheckInterval > 0 && !m.config.IsMemory() {
		m.watchOnce.Do(func() { go m.watch() })
	}
	if m.logger != nil {
		m.logger.Info("Database connected", "type", m.config.Type, "host", m.config.Host, "dbname", m.config.DBName)
	}
	return nil
}

func (m *connectionManager) open(ctx context.Context) (*bun.DB, error) {
	c := m.config
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	openFn, ok := openers[c.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %q, supported types: %v", c.Type, SupportedTypes())
	}
	sqlDB, dialect, err := openFn(c)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", c.Type, err)
	}
	tunePool(sqlDB, c)

	pingCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database connection test failed: %w", err)
	}

	db := bun.NewDB(sqlDB, dialect)
	for _, hook := range m.connectionHooks() {
		db.AddQueryHook(hook)
	}
	return db, nil
}

// connectionHooks are installed on every new connection, configured ones
// first.
func (m *connectionManager) connectionHooks() []bun.QueryHook {
	var hooks []bun.QueryHook
	if m.config.EnableQueryLog {
		hooks = append(hooks, NewQueryHook(true, os.Stdout))
	}
	if _, ok := os.LookupEnv("BUNDEBUG"); ok {
		hooks = append(hooks, bundebug.NewQueryHook(bundebug.WithVerbose(true), bundebug.FromEnv("BUNDEBUG")))
	}
	if m.config.SlowQueryTime > 0 {
		hooks = append(hooks, NewSlowQueryHook(m.config.SlowQueryTime, m.logger))
	}
	return append(hooks, m.hooks...)
}

func (m *connectionManager) Disconnect() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *connectionManager) closeLocked() error {
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	m.status.Connected = false
	if m.logger != nil {
		if err != nil {
			m.logger.Error("Failed to close database connection", "error", err)
		} else {
			m.logger.Info("Database connection closed", "dbname", m.config.DBName)
		}
	}
	return err
}

// Reconnect replaces the pool. Sessions holding a transaction on the old
// pool fail on their next statement.
func (m *connectionManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if err := m.closeLocked(); err != nil && m.logger != nil {
		m.logger.Warn("Error closing the previous connection", "error", err)
	}
	m.mu.Unlock()
	return m.Connect(ctx)
}

func (m *connectionManager) Ping(ctx context.Context) error {
	db := m.GetDB()
	if db == nil {
		return fmt.Errorf("database not connected")
	}
	return db.PingContext(ctx)
}

func (m *connectionManager) GetDB() *bun.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// AddQueryHook registers hook on the current connection and on every
// connection opened by a later reconnect.
func (m *connectionManager) AddQueryHook(hook bun.QueryHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
	if m.db != nil {
		m.db.AddQueryHook(hook)
	}
}

func (m *connectionManager) HealthCheck(ctx context.Context) *HealthStatus {
	status := HealthStatus{LastCheckTime: time.Now()}
	db := m.GetDB()
	if db == nil {
		status.LastError = "database not connected"
		return m.record(status)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := db.PingContext(pingCtx)
	cancel()
	status.ResponseTime = time.Since(status.LastCheckTime)
	status.Healthy = err == nil
	status.Connected = err == nil
	if err != nil {
		status.LastError = err.Error()
	}

	stats := db.DB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections
	return m.record(status)
}

func (m *connectionManager) record(status HealthStatus) *HealthStatus {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
	return &status
}

// watch pings on every HealthCheckInterval tick and, when reconnecting is
// enabled, makes one reconnect attempt per unhealthy tick until
// MaxReconnectTries consecutive attempts have failed.
func (m *connectionManager) watch() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		status := m.HealthCheck(ctx)
		cancel()
		if status.Healthy {
			m.failures = 0
			continue
		}
		if !m.config.EnableReconnect || m.failures >= m.config.MaxReconnectTries {
			continue
		}
		m.failures++
		m.reconnectAfterDelay()
	}
}

func (m *connectionManager) reconnectAfterDelay() {
	select {
	case <-time.After(m.config.ReconnectInterval):
	case <-m.stop:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()
	if err := m.Reconnect(ctx); err != nil {
		if m.logger != nil {
			m.logger.Error("Reconnect failed", "error", err, "attempt", m.failures, "max", m.config.MaxReconnectTries)
		}
		return
	}
	m.failures = 0
	if m.logger != nil {
		m.logger.Info("Reconnected to database", "dbname", m.config.DBName)
	}
}

func (m *connectionManager) GetStats() *DBStats {
	db := m.GetDB()
	if db == nil {
		return &DBStats{}
	}
	stats := db.DB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (m *connectionManager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}
