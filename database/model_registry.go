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
	"reflect"
	"sort"
	"sync"
)

var defaultRegistry = NewModelRegistry()

// SQLModel is a mapped entity type. Instance returns a struct pointer
// compatible with Bun; Priority orders table creation and inserts (lower
// first) and deletes and drops (higher first), so referenced tables should
// carry the lower value.
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// ModelRegistry stores SQL models and exposes them in a deterministic order.
type ModelRegistry interface {
	Register(model SQLModel)
	Models() []SQLModel
	Instances() []interface{}
	Priority(typ reflect.Type) (int, bool)
}

type modelRegistry struct {
	models []SQLModel
	byType map[reflect.Type]SQLModel
	mutex  sync.RWMutex
}

func NewModelRegistry(models ...SQLModel) ModelRegistry {
	r := &modelRegistry{
		models: make([]SQLModel, 0, len(models)),
		byType: make(map[reflect.Type]SQLModel, len(models)),
	}
	for _, m := range models {
		r.Register(m)
	}
	return r
}

// Register adds a model. Registering the same struct type twice replaces the
// earlier entry.
func (r *modelRegistry) Register(model SQLModel) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	typ := modelType(model.Instance())
	if _, ok := r.byType[typ]; ok {
		for i, m := range r.models {
			if modelType(m.Instance()) == typ {
				r.models = append(r.models[:i], r.models[i+1:]...)
				break
			}
		}
	}
	r.byType[typ] = model
	r.models = append(r.models, model)
}

func (r *modelRegistry) Models() []SQLModel {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]SQLModel, len(r.models))
	copy(result, r.models)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority() < result[j].Priority()
	})
	return result
}

func (r *modelRegistry) Instances() []interface{} {
	models := r.Models()
	instances := make([]interface{}, len(models))
	for i, model := range models {
		instances[i] = model.Instance()
	}
	return instances
}

// Priority returns the priority registered for the struct type typ.
func (r *modelRegistry) Priority(typ reflect.Type) (int, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if m, ok := r.byType[typ]; ok {
		return m.Priority(), true
	}
	return 0, false
}

type ModelAdapter struct {
	instance interface{}
	priority int
}

// NewModelAdapter wraps a struct instance and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{
		instance: instance,
		priority: priority,
	}
}

// Instance returns the underlying struct pointer.
func (a *ModelAdapter) Instance() interface{} {
	return a.instance
}

// Priority returns the model's ordering value; lower values run earlier.
func (a *ModelAdapter) Priority() int {
	return a.priority
}

// DefaultRegistry returns the process-wide registry that entity packages
// populate from their init functions.
func DefaultRegistry() ModelRegistry {
	return defaultRegistry
}

// RegisterModel adds a model to the default registry.
func RegisterModel(model SQLModel) {
	defaultRegistry.Register(model)
}

func modelType(instance interface{}) reflect.Type {
	t := reflect.TypeOf(instance)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
