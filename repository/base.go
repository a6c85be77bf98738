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

package repository

import (
	"context"

	"go.uber.org/multierr"

	"github.com/tomoncle/hellopersist/persistence"
	"github.com/tomoncle/hellopersist/types"
)

type baseRepositoryImpl[T any] struct {
	session *persistence.Session
}

// NewRepository returns a generic repository bound to session. It shares the
// session's identity cache and write-behind queue.
func NewRepository[T any](session *persistence.Session) Repository[T] {
	return &baseRepositoryImpl[T]{session: session}
}

func (r *baseRepositoryImpl[T]) Session() *persistence.Session { return r.session }

func (r *baseRepositoryImpl[T]) NewQuery() *persistence.TypedQuery[T] {
	return persistence.CreateQuery[T](r.session)
}

func (r *baseRepositoryImpl[T]) filtered(filter *types.QueryFilter) *persistence.TypedQuery[T] {
	q := r.NewQuery()
	if filter != nil {
		q.Where(filter.Schema, filter.Args...)
	}
	return q
}

func (r *baseRepositoryImpl[T]) GetOne(ctx context.Context, id any) (*T, error) {
	return persistence.Find[T](ctx, r.session, id)
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context) ([]*T, error) {
	return r.NewQuery().GetResultList(ctx)
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return r.filtered(filter).GetResultList(ctx)
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return r.NewQuery().Where(query, args...).GetResultList(ctx)
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	return r.filtered(filter).Count(ctx)
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	return r.NewQuery().Page(ctx, pageRequest)
}

// Create persists every entity, stopping at the first failure.
func (r *baseRepositoryImpl[T]) Create(ctx context.Context, entity ...*T) error {
	for _, e := range entity {
		if err := r.session.Persist(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) Save(ctx context.Context, entity *T) (*T, error) {
	return persistence.Merge(ctx, r.session, entity)
}

func (r *baseRepositoryImpl[T]) Remove(entity ...*T) error {
	var err error
	for _, e := range entity {
		err = multierr.Append(err, r.session.Remove(e))
	}
	return err
}

// Delete loads the entity with id and schedules its removal.
func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, id any) error {
	entity, err := r.GetOne(ctx, id)
	if err != nil {
		return err
	}
	return r.session.Remove(entity)
}
