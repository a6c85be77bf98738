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
	"time"

	"github.com/uptrace/bun"
)

// AbstractDatabaseManager owns the connection pool of one persistence unit
// and reports its health.
type AbstractDatabaseManager interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) *HealthStatus
	GetDB() *bun.DB
	GetStats() *DBStats
	SetLogger(logger Logger)
	AddQueryHook(hook bun.QueryHook)
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats returned by the manager.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// ConnectionConfig describes how to connect to a database and tune its pool.
type ConnectionConfig struct {
	Type                string        `yaml:"type"` // postgres, mysql, sqlite
	Host                string        `yaml:"host"`
	Port                int           `yaml:"port"`
	Username            string        `yaml:"username"`
	Password            string        `yaml:"password"`
	DBName              string        `yaml:"dbname"` // sqlite: file name without ".db", or ":memory:"
	SSLMode             string        `yaml:"sslmode"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxOpenConns        int           `yaml:"max_open_conns"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime     time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	EnableReconnect     bool          `yaml:"enable_reconnect"`
	ReconnectInterval   time.Duration `yaml:"reconnect_interval"`
	MaxReconnectTries   int           `yaml:"max_reconnect_tries"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	EnableQueryLog      bool          `yaml:"enable_query_log"`
	SlowQueryTime       time.Duration `yaml:"slow_query_time"`
}

// IsMemory reports whether the connection targets a private in-memory SQLite
// database, which only lives as long as its single connection.
func (c *ConnectionConfig) IsMemory() bool {
	return (c.Type == "sqlite" || c.Type == "sqlite3") && c.DBName == ":memory:"
}

// SchemaAction selects what happens to the mapped tables at factory start.
type SchemaAction string

const (
	SchemaNone       SchemaAction = "none"
	SchemaCreate     SchemaAction = "create"
	SchemaCreateDrop SchemaAction = "create-drop"
	SchemaUpdate     SchemaAction = "update"
	SchemaValidate   SchemaAction = "validate"
)

// SchemaConfig controls schema generation from the registered models.
type SchemaConfig struct {
	Action      SchemaAction `yaml:"action"`
	Environment string       `yaml:"environment"`
}

// IsProduction reports whether the configured environment forbids
// destructive schema actions.
func (c SchemaConfig) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

// DataInitConfig controls seeding from SQL files after the schema is created.
type DataInitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Filepath    string `yaml:"filepath"`
	Environment string `yaml:"environment"`
}

// SessionConfig holds defaults applied to every session of a unit.
type SessionConfig struct {
	FlushMode string `yaml:"flush_mode"` // auto, commit
}

// Config is one persistence unit: connection, schema, seeding and session
// defaults.
type Config struct {
	Name             string           `yaml:"name"`
	ConnectionConfig ConnectionConfig `yaml:"connection"`
	SchemaConfig     SchemaConfig     `yaml:"schema"`
	DataInitConfig   DataInitConfig   `yaml:"data_init"`
	SessionConfig    SessionConfig    `yaml:"session"`
}

// DefaultConnectionConfig returns a connection config with sensible defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     time.Minute * 30,
		ConnectTimeout:      time.Second * 10,
		ReadTimeout:         time.Second * 30,
		WriteTimeout:        time.Second * 30,
		EnableReconnect:     true,
		ReconnectInterval:   time.Second * 5,
		MaxReconnectTries:   3,
		HealthCheckInterval: time.Minute * 5,
		EnableQueryLog:      false,
		SlowQueryTime:       time.Second * 2,
	}
}

// MemoryConfig returns a unit backed by a private in-memory SQLite database
// with the schema created from the registered models.
func MemoryConfig(name string) *Config {
	conn := DefaultConnectionConfig()
	conn.Type = "sqlite"
	conn.DBName = ":memory:"
	conn.HealthCheckInterval = 0
	return &Config{
		Name:             name,
		ConnectionConfig: *conn,
		SchemaConfig:     SchemaConfig{Action: SchemaCreate, Environment: "test"},
	}
}
