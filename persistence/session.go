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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/uptrace/bun"

	"github.com/tomoncle/hellopersist/database"
)

// Session is a persistence context: an identity map of managed instances, a
// write-behind queue of pending changes and one resource-local transaction.
// A Session must only be used by one goroutine.
type Session struct {
	id        string
	factory   *Factory
	db        *bun.DB
	pc        *persistenceContext
	tx        *Transaction
	flushMode FlushMode
	closed    bool
	logger    database.Logger
	metrics   *metrics
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Transaction() *Transaction {
	return s.tx
}

func (s *Session) FlushMode() FlushMode {
	return s.flushMode
}

func (s *Session) SetFlushMode(mode FlushMode) {
	s.flushMode = mode
}

// executor runs statements inside the active transaction, if any.
func (s *Session) executor() bun.IDB {
	if s.tx.IsActive() {
		return s.tx.tx
	}
	return s.db
}

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) requireTx() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.tx.IsActive() {
		return ErrTransactionRequired
	}
	return nil
}

func (s *Session) metadataOf(entity interface{}) (reflect.Value, *entityMeta, error) {
	v, err := entityValue(entity)
	if err != nil {
		return reflect.Value{}, nil, err
	}
	meta, err := s.factory.metadata.get(v.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return v, meta, nil
}

// Persist makes a new instance managed. Assigned, sequence and table keys
// are known immediately and the INSERT waits for the next flush; identity
// keys require the INSERT to run now.
func (s *Session) Persist(ctx context.Context, entity interface{}) error {
	if err := s.requireTx(); err != nil {
		return err
	}
	v, meta, err := s.metadataOf(entity)
	if err != nil {
		return err
	}

	if e := s.pc.lookup(entity); e != nil {
		if e.state == StateRemoved {
			s.pc.cancelDelete(e)
		}
		return nil
	}
	if s.pc.isDetached(entity) {
		return fmt.Errorf("%w: %s#%v", ErrDetachedEntity, meta.name(), meta.pkValue(v).Interface())
	}

	switch meta.spec.Strategy {
	case GenerationAssigned:
		if !meta.hasKey(v) {
			return fmt.Errorf("%w: %s.%s", ErrMissingIdentifier, meta.name(), meta.pk.GoName)
		}
	case GenerationSequence, GenerationTable:
		if !meta.hasKey(v) {
			id, err := meta.generator.Next(ctx, s.executor(), s.tx)
			if err != nil {
				return fmt.Errorf("failed to generate key for %s: %w", meta.name(), err)
			}
			if err := meta.setKey(v, id); err != nil {
				return err
			}
		}
	}

	if meta.hasKey(v) {
		if other := s.pc.lookupKey(meta.key(v)); other != nil {
			return fmt.Errorf("%w: %s#%s", ErrEntityExists, meta.name(), other.key.id)
		}
	}

	if meta.spec.Strategy == GenerationIdentity {
		if _, err := s.executor().NewInsert().Model(entity).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert %s: %w", meta.name(), err)
		}
		s.metrics.inserts.Inc(1)
		e := s.pc.manage(entity, v, meta)
		s.logger.Debug("Entity inserted", "session", s.id, "entity", meta.name(), "id", e.key.id)
		return nil
	}

	e := s.pc.manage(entity, v, meta)
	s.pc.scheduleInsert(e)
	s.logger.Debug("Entity persisted", "session", s.id, "entity", meta.name(), "id", e.key.id)
	return nil
}

// Find returns the managed instance of T with the given identifier. A cached
// instance is returned without touching the database.
func Find[T any](ctx context.Context, s *Session, id interface{}) (*T, error) {
	entity, err := s.find(ctx, reflect.TypeOf((*T)(nil)).Elem(), id)
	if err != nil {
		return nil, err
	}
	return entity.(*T), nil
}

func (s *Session) find(ctx context.Context, typ reflect.Type, id interface{}) (interface{}, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := s.factory.metadata.get(typ)
	if err != nil {
		return nil, err
	}
	kv, err := meta.convertKey(id)
	if err != nil {
		return nil, err
	}

	key := entityKey{typ: typ, id: fmt.Sprint(kv.Interface())}
	if e := s.pc.lookupKey(key); e != nil {
		if e.state == StateRemoved {
			return nil, fmt.Errorf("%w: %s#%s is removed", ErrEntityNotFound, meta.name(), key.id)
		}
		s.metrics.cacheHits.Inc(1)
		return e.entity, nil
	}
	s.metrics.cacheMisses.Inc(1)

	ptr := reflect.New(typ)
	meta.pkValue(ptr.Elem()).Set(kv)
	if err := s.executor().NewSelect().Model(ptr.Interface()).WherePK().Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s#%s", ErrEntityNotFound, meta.name(), key.id)
		}
		return nil, fmt.Errorf("failed to load %s#%s: %w", meta.name(), key.id, err)
	}
	e := s.pc.manage(ptr.Interface(), ptr.Elem(), meta)
	return e.entity, nil
}

// Remove schedules the DELETE of a managed instance. Removing an instance
// whose INSERT is still queued cancels the INSERT and the instance leaves
// the session. New instances are ignored.
func (s *Session) Remove(entity interface{}) error {
	if err := s.requireTx(); err != nil {
		return err
	}
	v, meta, err := s.metadataOf(entity)
	if err != nil {
		return err
	}

	e := s.pc.lookup(entity)
	if e == nil {
		if s.pc.isDetached(entity) {
			return fmt.Errorf("%w: %s#%v", ErrDetachedEntity, meta.name(), meta.pkValue(v).Interface())
		}
		return nil
	}
	switch {
	case e.state == StateRemoved:
	case e.pendingInsert:
		s.pc.evict(e, false)
	default:
		s.pc.scheduleDelete(e)
	}
	return nil
}

// Merge copies the mapped columns of entity onto the managed instance with
// the same identifier, loading it when needed, and returns that instance.
// When no row has the identifier a copy of entity is persisted instead.
// entity itself never becomes managed.
func Merge[T any](ctx context.Context, s *Session, entity *T) (*T, error) {
	merged, err := s.merge(ctx, entity)
	if err != nil {
		return nil, err
	}
	return merged.(*T), nil
}

func (s *Session) merge(ctx context.Context, entity interface{}) (interface{}, error) {
	if err := s.requireTx(); err != nil {
		return nil, err
	}
	v, meta, err := s.metadataOf(entity)
	if err != nil {
		return nil, err
	}
	if e := s.pc.lookup(entity); e != nil {
		if e.state == StateRemoved {
			return nil, fmt.Errorf("%w: %s#%s is removed", ErrEntityNotManaged, meta.name(), e.key.id)
		}
		return entity, nil
	}

	if meta.hasKey(v) {
		managed, err := s.find(ctx, meta.typ, meta.pkValue(v).Interface())
		switch {
		case err == nil:
			mv := reflect.ValueOf(managed).Elem()
			for _, f := range meta.columns {
				mv.FieldByIndex(f.Index).Set(v.FieldByIndex(f.Index))
			}
			return managed, nil
		case !errors.Is(err, ErrEntityNotFound):
			return nil, err
		}
	}

	cp := reflect.New(meta.typ)
	cp.Elem().Set(v)
	if err := s.Persist(ctx, cp.Interface()); err != nil {
		return nil, err
	}
	return cp.Interface(), nil
}

// Detach stops tracking entity and drops its queued changes. Later changes
// to it are never written.
func (s *Session) Detach(entity interface{}) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if e := s.pc.lookup(entity); e != nil {
		s.pc.evict(e, true)
	}
	return nil
}

// Contains reports whether entity is managed and not removed.
func (s *Session) Contains(entity interface{}) bool {
	if s.closed {
		return false
	}
	e := s.pc.lookup(entity)
	return e != nil && e.state == StateManaged
}

func (s *Session) State(entity interface{}) EntityState {
	if e := s.pc.lookup(entity); e != nil {
		return e.state
	}
	if s.pc.isDetached(entity) {
		return StateDetached
	}
	return StateNew
}

// Refresh overwrites a managed instance with its database row.
func (s *Session) Refresh(ctx context.Context, entity interface{}) error {
	if err := s.requireTx(); err != nil {
		return err
	}
	_, meta, err := s.metadataOf(entity)
	if err != nil {
		return err
	}
	e := s.pc.lookup(entity)
	if e == nil || e.state != StateManaged {
		return fmt.Errorf("%w: %s", ErrEntityNotManaged, meta.name())
	}
	if e.pendingInsert {
		return fmt.Errorf("%w: %s#%s is not flushed yet", ErrEntityNotFound, meta.name(), e.key.id)
	}
	if err := s.executor().NewSelect().Model(entity).WherePK().Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.pc.evict(e, true)
			return fmt.Errorf("%w: %s#%s", ErrEntityNotFound, meta.name(), e.key.id)
		}
		return fmt.Errorf("failed to refresh %s#%s: %w", meta.name(), e.key.id, err)
	}
	e.snapshot = takeSnapshot(meta, e.value)
	return nil
}

// Flush writes queued inserts, dirty managed instances and queued deletes.
// A failed flush marks the transaction rollback-only.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.requireTx(); err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		s.tx.rollbackOnly = true
		return err
	}
	return nil
}

func (s *Session) flush(ctx context.Context) error {
	start := time.Now()
	exec := s.executor()
	entries := s.pc.entries()

	for _, e := range entries {
		if e.meta.key(e.value) != e.key {
			return fmt.Errorf("%w: %s#%s", ErrIdentifierAltered, e.meta.name(), e.key.id)
		}
	}

	var inserted, updated, deleted int64
	for _, e := range s.pc.takeInserts() {
		if _, err := exec.NewInsert().Model(e.entity).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert %s#%s: %w", e.meta.name(), e.key.id, err)
		}
		e.pendingInsert = false
		e.snapshot = takeSnapshot(e.meta, e.value)
		inserted++
	}

	for _, e := range entries {
		if e.state != StateManaged || e.pendingInsert {
			continue
		}
		cols := dirtyColumns(e.meta, e.value, e.snapshot)
		if len(cols) == 0 {
			continue
		}
		res, err := exec.NewUpdate().Model(e.entity).Column(cols...).WherePK().Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update %s#%s: %w", e.meta.name(), e.key.id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: update of %s#%s", ErrStaleEntity, e.meta.name(), e.key.id)
		}
		e.snapshot = takeSnapshot(e.meta, e.value)
		updated++
	}

	for _, e := range s.pc.takeDeletes() {
		res, err := exec.NewDelete().Model(e.entity).WherePK().Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete %s#%s: %w", e.meta.name(), e.key.id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: delete of %s#%s", ErrStaleEntity, e.meta.name(), e.key.id)
		}
		e.deleteFlushed = true
		deleted++
	}

	s.metrics.flushes.Inc(1)
	s.metrics.inserts.Inc(inserted)
	s.metrics.updates.Inc(updated)
	s.metrics.deletes.Inc(deleted)
	s.metrics.flushLatency.Record(time.Since(start))
	if inserted+updated+deleted > 0 {
		s.logger.Debug("Session flushed", "session", s.id, "inserts", inserted, "updates", updated, "deletes", deleted)
	}
	return nil
}

// autoFlush runs before queries in FlushModeAuto so that they see pending
// changes.
func (s *Session) autoFlush(ctx context.Context) error {
	if s.flushMode != FlushModeAuto || !s.tx.IsActive() {
		return nil
	}
	return s.Flush(ctx)
}

// Clear detaches every managed instance and drops all queued changes.
func (s *Session) Clear() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.pc.clear()
	return nil
}

// Close rolls back an active transaction and detaches everything. Closing
// twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	var err error
	if s.tx.IsActive() {
		err = s.tx.rollback()
	}
	s.pc.clear()
	s.closed = true
	s.metrics.sessionsClosed.Inc(1)
	s.logger.Debug("Session closed", "session", s.id)
	return err
}
