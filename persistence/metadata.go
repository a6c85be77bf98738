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
	"fmt"
	"reflect"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/hellopersist/database"
)

var keyGeneratedType = reflect.TypeOf((*KeyGenerated)(nil)).Elem()

// entityMeta is what the session needs to know about one mapped struct.
type entityMeta struct {
	typ       reflect.Type
	table     *schema.Table
	pk        *schema.Field
	columns   []*schema.Field // every mapped non-key column
	spec      GeneratorSpec
	generator keyGenerator
	priority  int
}

func (m *entityMeta) name() string {
	return m.typ.Name()
}

func (m *entityMeta) pkValue(v reflect.Value) reflect.Value {
	return v.FieldByIndex(m.pk.Index)
}

// key returns the identity of the struct value v.
func (m *entityMeta) key(v reflect.Value) entityKey {
	return entityKey{typ: m.typ, id: fmt.Sprint(m.pkValue(v).Interface())}
}

func (m *entityMeta) hasKey(v reflect.Value) bool {
	return !m.pkValue(v).IsZero()
}

// setKey stores a generated key into the primary key field.
func (m *entityMeta) setKey(v reflect.Value, id int64) error {
	f := m.pkValue(v)
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f.SetInt(id)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f.SetUint(uint64(id))
	default:
		return fmt.Errorf("%w: %s.%s is %s, generated keys need an integer", ErrUnsupportedKey, m.name(), m.pk.GoName, f.Type())
	}
	return nil
}

// convertKey turns a caller supplied identifier into the key field's type.
func (m *entityMeta) convertKey(id interface{}) (reflect.Value, error) {
	want := m.typ.FieldByIndex(m.pk.Index).Type
	v := reflect.ValueOf(id)
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: nil identifier for %s", ErrMissingIdentifier, m.name())
	}
	if v.Type() == want {
		return v, nil
	}
	if isIntegerKind(v.Kind()) && isIntegerKind(want.Kind()) {
		return v.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("identifier %v (%T) does not match key type %s of %s", id, id, want, m.name())
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// metadataCache resolves entity metadata once per struct type.
type metadataCache struct {
	db         *bun.DB
	registry   database.ModelRegistry
	generators *generatorRegistry

	mu    sync.RWMutex
	metas map[reflect.Type]*entityMeta
}

func newMetadataCache(db *bun.DB, registry database.ModelRegistry, generators *generatorRegistry) *metadataCache {
	return &metadataCache{
		db:         db,
		registry:   registry,
		generators: generators,
		metas:      make(map[reflect.Type]*entityMeta),
	}
}

func (c *metadataCache) get(typ reflect.Type) (*entityMeta, error) {
	c.mu.RLock()
	meta, ok := c.metas[typ]
	c.mu.RUnlock()
	if ok {
		return meta, nil
	}

	meta, err := c.build(typ)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.metas[typ]; ok {
		return existing, nil
	}
	c.metas[typ] = meta
	return meta, nil
}

func (c *metadataCache) build(typ reflect.Type) (*entityMeta, error) {
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotAnEntity, typ)
	}
	table := c.db.Table(typ)
	if len(table.PKs) != 1 {
		return nil, fmt.Errorf("%w: %s has %d", ErrUnsupportedKey, typ.Name(), len(table.PKs))
	}

	meta := &entityMeta{
		typ:     typ,
		table:   table,
		pk:      table.PKs[0],
		columns: table.DataFields,
	}
	if p, ok := c.registry.Priority(typ); ok {
		meta.priority = p
	}

	switch {
	case reflect.PointerTo(typ).Implements(keyGeneratedType):
		meta.spec = reflect.New(typ).Interface().(KeyGenerated).KeyGeneration()
	case meta.pk.AutoIncrement:
		meta.spec = GeneratorSpec{Strategy: GenerationIdentity}
	}
	meta.spec = meta.spec.withDefaults(table.Name)
	meta.generator = c.generators.get(meta.spec)
	return meta, nil
}

// entityValue checks that entity is a non-nil struct pointer and returns the
// struct value.
func entityValue(entity interface{}) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %T", ErrNotAnEntity, entity)
	}
	return v.Elem(), nil
}
