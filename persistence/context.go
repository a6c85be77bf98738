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
	"reflect"
	"sort"
)

type entityKey struct {
	typ reflect.Type
	id  string
}

// entry is one instance tracked by a persistence context.
type entry struct {
	entity   interface{}
	value    reflect.Value
	meta     *entityMeta
	key      entityKey
	state    EntityState
	snapshot snapshot
	// pendingInsert is set while the INSERT waits in the action queue.
	pendingInsert bool
	// deleteFlushed is set once the DELETE of a removed entry has run.
	deleteFlushed bool
	seq           uint64
}

// persistenceContext is the identity map of one session plus its
// write-behind action queue.
type persistenceContext struct {
	byKey    map[entityKey]*entry
	byRef    map[interface{}]*entry
	detached map[interface{}]struct{}
	inserts  []*entry
	deletes  []*entry
	seq      uint64
}

func newPersistenceContext() *persistenceContext {
	return &persistenceContext{
		byKey:    make(map[entityKey]*entry),
		byRef:    make(map[interface{}]*entry),
		detached: make(map[interface{}]struct{}),
	}
}

func (pc *persistenceContext) lookup(entity interface{}) *entry {
	return pc.byRef[entity]
}

func (pc *persistenceContext) lookupKey(key entityKey) *entry {
	return pc.byKey[key]
}

// manage registers a Managed entry and takes its snapshot.
func (pc *persistenceContext) manage(entity interface{}, v reflect.Value, meta *entityMeta) *entry {
	pc.seq++
	e := &entry{
		entity:   entity,
		value:    v,
		meta:     meta,
		key:      meta.key(v),
		state:    StateManaged,
		snapshot: takeSnapshot(meta, v),
		seq:      pc.seq,
	}
	pc.byKey[e.key] = e
	pc.byRef[entity] = e
	delete(pc.detached, entity)
	return e
}

func (pc *persistenceContext) scheduleInsert(e *entry) {
	e.pendingInsert = true
	pc.inserts = append(pc.inserts, e)
}

func (pc *persistenceContext) scheduleDelete(e *entry) {
	e.state = StateRemoved
	pc.deletes = append(pc.deletes, e)
}

// cancelDelete makes a removed entry managed again. When its DELETE has
// already run the row is inserted again on the next flush.
func (pc *persistenceContext) cancelDelete(e *entry) {
	e.state = StateManaged
	if e.deleteFlushed {
		e.deleteFlushed = false
		pc.scheduleInsert(e)
		return
	}
	pc.deletes = without(pc.deletes, e)
}

// evictRemoved forgets entries whose DELETE has run; they are new again.
func (pc *persistenceContext) evictRemoved() {
	for _, e := range pc.byRef {
		if e.state == StateRemoved && e.deleteFlushed {
			pc.evict(e, false)
		}
	}
}

// evict forgets e and its queued actions. detach records the instance as
// detached; otherwise it goes back to being new.
func (pc *persistenceContext) evict(e *entry, detach bool) {
	delete(pc.byKey, e.key)
	delete(pc.byRef, e.entity)
	if e.pendingInsert {
		pc.inserts = without(pc.inserts, e)
		e.pendingInsert = false
	}
	if e.state == StateRemoved {
		pc.deletes = without(pc.deletes, e)
	}
	if detach {
		pc.detached[e.entity] = struct{}{}
	}
}

func (pc *persistenceContext) isDetached(entity interface{}) bool {
	_, ok := pc.detached[entity]
	return ok
}

// clear detaches every entry and empties the queue.
func (pc *persistenceContext) clear() {
	for ref := range pc.byRef {
		pc.detached[ref] = struct{}{}
	}
	pc.byKey = make(map[entityKey]*entry)
	pc.byRef = make(map[interface{}]*entry)
	pc.inserts = nil
	pc.deletes = nil
}

// entries returns every entry in registration order.
func (pc *persistenceContext) entries() []*entry {
	list := make([]*entry, 0, len(pc.byRef))
	for _, e := range pc.byRef {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

// takeInserts drains queued inserts, lower priority first, then persist order.
func (pc *persistenceContext) takeInserts() []*entry {
	list := pc.inserts
	pc.inserts = nil
	sort.SliceStable(list, func(i, j int) bool { return list[i].meta.priority < list[j].meta.priority })
	return list
}

// takeDeletes drains queued deletes, higher priority first, then removal order.
func (pc *persistenceContext) takeDeletes() []*entry {
	list := pc.deletes
	pc.deletes = nil
	sort.SliceStable(list, func(i, j int) bool { return list[i].meta.priority > list[j].meta.priority })
	return list
}

func (pc *persistenceContext) size() int {
	return len(pc.byRef)
}

func without(list []*entry, e *entry) []*entry {
	for i, x := range list {
		if x == e {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
