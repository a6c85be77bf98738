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
	"bytes"
	"reflect"
	"time"
)

// snapshot holds a copy of every mapped non-key column, in entityMeta.columns
// order, as last synchronized with the database.
type snapshot []interface{}

// pointee records a non-nil pointer column by the value it points to, so that
// writes through the pointer are detected.
type pointee struct {
	value interface{}
}

type nilPointer struct{}

func takeSnapshot(meta *entityMeta, v reflect.Value) snapshot {
	snap := make(snapshot, len(meta.columns))
	for i, f := range meta.columns {
		snap[i] = copyValue(v.FieldByIndex(f.Index))
	}
	return snap
}

func copyValue(v reflect.Value) interface{} {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return nilPointer{}
		}
		return pointee{value: copyValue(v.Elem())}
	case reflect.Slice:
		if v.IsNil() {
			return v.Interface()
		}
		c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(c, v)
		return c.Interface()
	case reflect.Map:
		if v.IsNil() {
			return v.Interface()
		}
		c := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			c.SetMapIndex(iter.Key(), iter.Value())
		}
		return c.Interface()
	}
	return v.Interface()
}

// dirtyColumns lists the columns whose current value differs from snap.
func dirtyColumns(meta *entityMeta, v reflect.Value, snap snapshot) []string {
	var cols []string
	for i, f := range meta.columns {
		if !sameValue(snap[i], copyValue(v.FieldByIndex(f.Index))) {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

func sameValue(a, b interface{}) bool {
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Equal(y)
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Equal(x, y) && (x == nil) == (y == nil)
		}
	case pointee:
		if y, ok := b.(pointee); ok {
			return sameValue(x.value, y.value)
		}
	}
	return reflect.DeepEqual(a, b)
}
