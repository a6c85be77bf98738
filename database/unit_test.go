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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPersistenceUnit(t *testing.T) {
	cfg, err := LoadPersistenceUnit("testdata/units.yaml", "hello")
	require.NoError(t, err)

	assert.Equal(t, "hello", cfg.Name)
	assert.True(t, cfg.ConnectionConfig.IsMemory())
	assert.True(t, cfg.ConnectionConfig.EnableQueryLog)
	assert.Equal(t, SchemaCreate, cfg.SchemaConfig.Action)
	assert.True(t, cfg.DataInitConfig.Enabled)
	assert.Equal(t, "commit", cfg.SessionConfig.FlushMode)
	// untouched fields keep their defaults
	assert.Equal(t, 2*time.Second, cfg.ConnectionConfig.SlowQueryTime)
	assert.Equal(t, 100, cfg.ConnectionConfig.MaxOpenConns)
}

func TestLoadPersistenceUnitUnknownName(t *testing.T) {
	_, err := LoadPersistenceUnit("testdata/units.yaml", "missing")
	require.ErrorIs(t, err, ErrUnitNotFound)
	assert.Contains(t, err.Error(), "[hello reporting]")
}
