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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/multierr"
)

// BaseDatabaseFactory brings one persistence unit to a usable database:
// it connects, applies the schema action, seeds data and tears the schema
// down again for create-drop units.
type BaseDatabaseFactory struct {
	config   *Config
	registry ModelRegistry
	manager  AbstractDatabaseManager
	schema   *SchemaManager
	aux      []AuxiliaryObject
	logger   Logger
}

// NewDatabaseFactory validates cfg after applying DB_* environment
// overrides to its connection. The registry supplies the tables managed by
// the schema action.
func NewDatabaseFactory(cfg *Config, registry ModelRegistry) (*BaseDatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("persistence unit configuration cannot be empty")
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if err := applyEnvOverrides(&cfg.ConnectionConfig); err != nil {
		return nil, err
	}
	if _, ok := openers[cfg.ConnectionConfig.Type]; !ok {
		return nil, fmt.Errorf("unsupported database type: %q, supported types: %v", cfg.ConnectionConfig.Type, SupportedTypes())
	}
	logger := GetLogger()
	manager := NewDatabaseManager(&cfg.ConnectionConfig)
	manager.SetLogger(logger)
	return &BaseDatabaseFactory{
		config:   cfg,
		registry: registry,
		manager:  manager,
		logger:   logger,
	}, nil
}

type envOverride struct {
	key   string
	apply func(c *ConnectionConfig, v string) error
}

func seconds(dst func(c *ConnectionConfig) *time.Duration) func(*ConnectionConfig, string) error {
	return func(c *ConnectionConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = time.Duration(n) * time.Second
		return nil
	}
}

func integer(dst func(c *ConnectionConfig) *int) func(*ConnectionConfig, string) error {
	return func(c *ConnectionConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(c *ConnectionConfig) *bool) func(*ConnectionConfig, string) error {
	return func(c *ConnectionConfig, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func text(dst func(c *ConnectionConfig) *string) func(*ConnectionConfig, string) error {
	return func(c *ConnectionConfig, v string) error {
		*dst(c) = v
		return nil
	}
}

var envOverrides = []envOverride{
	{"DB_TYPE", text(func(c *ConnectionConfig) *string { return &c.Type })},
	{"DB_HOST", text(func(c *ConnectionConfig) *string { return &c.Host })},
	{"DB_PORT", integer(func(c *ConnectionConfig) *int { return &c.Port })},
	{"DB_USERNAME", text(func(c *ConnectionConfig) *string { return &c.Username })},
	{"DB_PASSWORD", text(func(c *ConnectionConfig) *string { return &c.Password })},
	{"DB_NAME", text(func(c *ConnectionConfig) *string { return &c.DBName })},
	{"DB_SSLMODE", text(func(c *ConnectionConfig) *string { return &c.SSLMode })},
	{"DB_MAX_IDLE_CONNS", integer(func(c *ConnectionConfig) *int { return &c.MaxIdleConns })},
	{"DB_MAX_OPEN_CONNS", integer(func(c *ConnectionConfig) *int { return &c.MaxOpenConns })},
	{"DB_CONN_MAX_LIFETIME", seconds(func(c *ConnectionConfig) *time.Duration { return &c.ConnMaxLifetime })},
	{"DB_ENABLE_RECONNECT", boolean(func(c *ConnectionConfig) *bool { return &c.EnableReconnect })},
	{"DB_RECONNECT_INTERVAL", seconds(func(c *ConnectionConfig) *time.Duration { return &c.ReconnectInterval })},
	{"DB_ENABLE_QUERY_LOG", boolean(func(c *ConnectionConfig) *bool { return &c.EnableQueryLog })},
}

// applyEnvOverrides lets deployments repoint a unit without editing the
// descriptor. Malformed values are rejected rather than ignored.
func applyEnvOverrides(c *ConnectionConfig) error {
	var errs error
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid %s=%q: %w", o.key, v, err))
		}
	}
	return errs
}

func (f *BaseDatabaseFactory) Config() *Config {
	return f.config
}

func (f *BaseDatabaseFactory) Registry() ModelRegistry {
	return f.registry
}

// DB returns nil until Connect succeeds.
func (f *BaseDatabaseFactory) DB() *bun.DB {
	return f.manager.GetDB()
}

// AddQueryHook installs hook on the pool, including pools opened by a
// reconnect.
func (f *BaseDatabaseFactory) AddQueryHook(hook bun.QueryHook) {
	f.manager.AddQueryHook(hook)
}

// AddAuxiliary registers an object created after and dropped before the
// mapped tables. It must be called before Prepare.
func (f *BaseDatabaseFactory) AddAuxiliary(obj AuxiliaryObject) {
	f.aux = append(f.aux, obj)
}

func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	f.manager.SetLogger(logger)
}

func (f *BaseDatabaseFactory) Connect(ctx context.Context) error {
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect persistence unit %q: %w", f.config.Name, err)
	}
	return nil
}

// Prepare applies the schema action and, for create and create-drop units
// with data init enabled, executes the seed files. The seed environment
// defaults to the schema environment.
func (f *BaseDatabaseFactory) Prepare(ctx context.Context) error {
	db := f.manager.GetDB()
	if db == nil {
		return fmt.Errorf("persistence unit %q is not connected", f.config.Name)
	}

	f.schema = NewSchemaManager(db, f.registry, f.config.SchemaConfig, f.logger)
	for _, obj := range f.aux {
		f.schema.AddAuxiliary(obj)
	}
	action := f.config.SchemaConfig.Action
	if err := f.schema.Apply(ctx); err != nil {
		return fmt.Errorf("failed to apply schema action %q: %w", action, err)
	}

	if !f.config.DataInitConfig.Enabled || (action != SchemaCreate && action != SchemaCreateDrop) {
		return nil
	}
	initConfig := f.config.DataInitConfig
	if initConfig.Environment == "" {
		initConfig.Environment = f.config.SchemaConfig.Environment
	}
	_, err := NewSQLInitManager(db, initConfig, f.logger).ExecuteInitialization(ctx)
	return err
}

// Close drops the schema of a create-drop unit and disconnects.
func (f *BaseDatabaseFactory) Close(ctx context.Context) error {
	var err error
	if f.schema != nil {
		err = f.schema.Close(ctx)
	}
	return multierr.Append(err, f.manager.Disconnect())
}

func (f *BaseDatabaseFactory) Health(ctx context.Context) *HealthStatus {
	return f.manager.HealthCheck(ctx)
}

func (f *BaseDatabaseFactory) Stats() *DBStats {
	return f.manager.GetStats()
}
