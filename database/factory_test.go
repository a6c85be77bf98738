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
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type countingHook struct {
	n atomic.Int64
}

func (h *countingHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *countingHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	h.n.Add(1)
}

func seededConfig(name string, action SchemaAction) *Config {
	cfg := MemoryConfig(name)
	cfg.SchemaConfig.Action = action
	cfg.DataInitConfig = DataInitConfig{Enabled: true, Filepath: "testdata/sql"}
	return cfg
}

func TestNewDatabaseFactoryAppliesEnvOverrides(t *testing.T) {
	t.Setenv("DB_TYPE", "oracle")
	cfg := MemoryConfig("env")

	_, err := NewDatabaseFactory(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
	assert.Equal(t, "oracle", cfg.ConnectionConfig.Type)
}

func TestNewDatabaseFactoryRejectsMalformedOverrides(t *testing.T) {
	t.Setenv("DB_PORT", "fifty")
	t.Setenv("DB_ENABLE_QUERY_LOG", "sometimes")
	t.Setenv("DB_RECONNECT_INTERVAL", "7")

	cfg := MemoryConfig("env")
	_, err := NewDatabaseFactory(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
	assert.Contains(t, err.Error(), "DB_ENABLE_QUERY_LOG")
	assert.Equal(t, int64(7), int64(cfg.ConnectionConfig.ReconnectInterval.Seconds()))
}

func TestNewDatabaseFactoryNilConfig(t *testing.T) {
	_, err := NewDatabaseFactory(nil, nil)
	require.Error(t, err)
}

func TestMemoryDatabaseHealth(t *testing.T) {
	ctx := context.Background()
	factory, err := NewDatabaseFactory(MemoryConfig("health"), NewModelRegistry())
	require.NoError(t, err)

	status := factory.Health(ctx)
	assert.False(t, status.Connected)
	assert.Nil(t, factory.DB())

	require.NoError(t, factory.Connect(ctx))
	defer func() { _ = factory.Close(ctx) }()

	status = factory.Health(ctx)
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.MaxOpenConns)
	assert.Equal(t, 1, factory.Stats().MaxOpenConns)
}

func TestPrepareRequiresConnection(t *testing.T) {
	factory, err := NewDatabaseFactory(MemoryConfig("offline"), testRegistry())
	require.NoError(t, err)
	require.Error(t, factory.Prepare(context.Background()))
}

func TestPrepareCreatesSchemaAndSeeds(t *testing.T) {
	ctx := context.Background()
	aux := &recordingAux{}
	factory, err := NewDatabaseFactory(seededConfig("seeded", SchemaCreateDrop), testRegistry())
	require.NoError(t, err)
	factory.AddAuxiliary(aux)
	require.NoError(t, factory.Connect(ctx))
	require.NoError(t, factory.Prepare(ctx))

	db := factory.DB()
	n, err := db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// the seed environment falls back to the schema environment
	var env widget
	require.NoError(t, db.NewSelect().Model(&env).Where("id = ?", 3).Scan(ctx))
	assert.Equal(t, "test", env.Name)

	require.NoError(t, factory.Close(ctx))
	assert.Equal(t, []string{"drop", "create", "drop"}, aux.calls)
	assert.Nil(t, factory.DB())
}

func TestPrepareSkipsSeedsUnlessSchemaIsCreated(t *testing.T) {
	ctx := context.Background()
	factory, err := NewDatabaseFactory(seededConfig("update", SchemaUpdate), testRegistry())
	require.NoError(t, err)
	require.NoError(t, factory.Connect(ctx))
	defer func() { _ = factory.Close(ctx) }()
	require.NoError(t, factory.Prepare(ctx))

	n, err := factory.DB().NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueryHookSurvivesReconnect(t *testing.T) {
	ctx := context.Background()
	manager := NewDatabaseManager(&MemoryConfig("hooks").ConnectionConfig)
	hook := &countingHook{}
	manager.AddQueryHook(hook)

	require.NoError(t, manager.Connect(ctx))
	defer func() { _ = manager.Disconnect() }()
	_, err := manager.GetDB().NewRaw("SELECT 1").Exec(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hook.n.Load())

	require.NoError(t, manager.Reconnect(ctx))
	_, err = manager.GetDB().NewRaw("SELECT 1").Exec(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hook.n.Load())
}

func TestManagerRejectsUnknownType(t *testing.T) {
	manager := NewDatabaseManager(&ConnectionConfig{Type: "oracle"})
	err := manager.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
	assert.False(t, manager.HealthCheck(context.Background()).Connected)
}

func TestSupportedTypes(t *testing.T) {
	assert.Equal(t, []string{"mysql", "postgres", "postgresql", "sqlite", "sqlite3"}, SupportedTypes())
}
