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

package persistence

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/tomoncle/hellopersist/database"
)

type parent struct {
	bun.BaseModel `bun:"table:parents"`

	ID   int64  `bun:"id,pk"`
	Name string `bun:"name"`
}

type child struct {
	bun.BaseModel `bun:"table:children"`

	ID       int64 `bun:"id,pk"`
	ParentID int64 `bun:"parent_id"`
}

type sample struct {
	bun.BaseModel `bun:"table:samples"`

	ID   int64     `bun:"id,pk"`
	Age  *int      `bun:"age"`
	Data []byte    `bun:"data"`
	At   time.Time `bun:"at"`
	Note string    `bun:"-"`
}

type composite struct {
	bun.BaseModel `bun:"table:composites"`

	A int64 `bun:"a,pk"`
	B int64 `bun:"b,pk"`
}

func familyModels() []database.SQLModel {
	return []database.SQLModel{
		database.NewModelAdapter((*parent)(nil), 1),
		database.NewModelAdapter((*child)(nil), 2),
	}
}

func tableOrder(queries []string) []string {
	var tables []string
	for _, q := range queries {
		switch {
		case strings.Contains(q, `"parents"`):
			tables = append(tables, "parents")
		case strings.Contains(q, `"children"`):
			tables = append(tables, "children")
		}
	}
	return tables
}

func offlineCache(t *testing.T) *metadataCache {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return newMetadataCache(db, database.NewModelRegistry(), newGeneratorRegistry(nil))
}

func TestFlushOrdersInsertsAndDeletesByPriority(t *testing.T) {
	ctx := context.Background()
	f, rec := OpenMemoryFactory(t, familyModels())
	s := BeginSession(t, f)

	c1 := &child{ID: 1, ParentID: 1}
	p := &parent{ID: 1, Name: "p"}
	c2 := &child{ID: 2, ParentID: 1}
	for _, e := range []interface{}{c1, p, c2} {
		require.NoError(t, s.Persist(ctx, e))
	}
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, []string{"parents", "children", "children"}, tableOrder(rec.Queries("INSERT")))

	for _, e := range []interface{}{p, c2, c1} {
		require.NoError(t, s.Remove(e))
	}
	require.NoError(t, s.Transaction().Commit(ctx))
	assert.Equal(t, []string{"children", "children", "parents"}, tableOrder(rec.Queries("DELETE")))
	// children keep their removal order
	deletes := rec.Queries("DELETE")
	assert.Contains(t, deletes[0], `"id" = 2`)
	assert.Contains(t, deletes[1], `"id" = 1`)
}

func TestFlushKeepsEntitiesCached(t *testing.T) {
	ctx := context.Background()
	f, rec := OpenMemoryFactory(t, familyModels())
	s := BeginSession(t, f)

	p := &parent{ID: 7, Name: "p"}
	require.NoError(t, s.Persist(ctx, p))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, rec.Count("INSERT"))

	found, err := Find[parent](ctx, s, 7)
	require.NoError(t, err)
	assert.Same(t, p, found)
	assert.Zero(t, rec.Count("SELECT"))
	assert.Equal(t, 1, s.pc.size())
}

func TestDirtyColumnsSeesWritesThroughPointers(t *testing.T) {
	meta, err := offlineCache(t).get(structType((*sample)(nil)))
	require.NoError(t, err)

	age := 30
	loc := time.FixedZone("KST", 9*3600)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &sample{ID: 1, Age: &age, Data: []byte("abc"), At: at}
	v := structValue(s)
	snap := takeSnapshot(meta, v)
	assert.Empty(t, dirtyColumns(meta, v, snap))

	s.At = at.In(loc)
	s.Note = "not mapped"
	assert.Empty(t, dirtyColumns(meta, v, snap))

	age = 31
	s.Data[0] = 'x'
	assert.Equal(t, []string{"age", "data"}, dirtyColumns(meta, v, snap))

	s.Age = nil
	assert.Contains(t, dirtyColumns(meta, v, snap), "age")
}

func TestMetadataRejectsCompositeKeys(t *testing.T) {
	_, err := offlineCache(t).get(structType((*composite)(nil)))
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestMetadataStrategies(t *testing.T) {
	cache := offlineCache(t)

	meta, err := cache.get(structType((*parent)(nil)))
	require.NoError(t, err)
	assert.Equal(t, GenerationAssigned, meta.spec.Strategy)

	meta, err = cache.get(structType((*ticket)(nil)))
	require.NoError(t, err)
	assert.Equal(t, GenerationTable, meta.spec.Strategy)
	assert.NotNil(t, meta.generator)

	again, err := cache.get(structType((*ticket)(nil)))
	require.NoError(t, err)
	assert.Same(t, meta, again)
}

func TestConvertKey(t *testing.T) {
	meta, err := offlineCache(t).get(structType((*parent)(nil)))
	require.NoError(t, err)

	v, err := meta.convertKey(5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Interface())

	v, err = meta.convertKey(uint8(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Interface())

	_, err = meta.convertKey("5")
	assert.Error(t, err)
	_, err = meta.convertKey(1.5)
	assert.Error(t, err)
	_, err = meta.convertKey(float64(2))
	assert.Error(t, err)
	_, err = meta.convertKey(nil)
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func structValue(entity interface{}) reflect.Value {
	v, err := entityValue(entity)
	if err != nil {
		panic(err)
	}
	return v
}
