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

package hellopersist

import (
	"context"

	"github.com/tomoncle/hellopersist/persistence"
	"github.com/tomoncle/hellopersist/repository"
	"github.com/tomoncle/hellopersist/types"
)

// Service runs every call as its own unit of work: a new session and
// transaction that commit on success and roll back on error. Returned
// entities are detached.
type Service[T any] interface {
	// Get returns a single entity by its identifier.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Query returns entities matching a WHERE condition.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Count returns the number of entities that match the filter.
	Count(ctx context.Context, filter *types.QueryFilter) (int, error)

	// Update copies the state of model onto the stored entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its identifier.
	Delete(ctx context.Context, id any) error

	// Save inserts one or more new entities.
	Save(ctx context.Context, model ...*T) error

	// Execute runs fn with a repository inside one unit of work.
	Execute(ctx context.Context, fn func(ctx context.Context, repo repository.Repository[T]) error) error
}

type baseServiceImpl[T any] struct {
	factory *persistence.Factory
}

// NewService returns a default Service implementation whose units of work
// come from factory.
func NewService[T any](factory *persistence.Factory) Service[T] {
	return &baseServiceImpl[T]{factory: factory}
}

func (s *baseServiceImpl[T]) Execute(ctx context.Context, fn func(ctx context.Context, repo repository.Repository[T]) error) error {
	return persistence.RunInTransaction(ctx, s.factory, func(ctx context.Context, session *persistence.Session) error {
		return fn(ctx, repository.NewRepository[T](session))
	})
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	return s.Execute(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Create(ctx, model...)
	})
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (entity *T, err error) {
	err = s.Execute(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entity, err = repo.GetOne(ctx, id)
		return err
	})
	return entity, err
}

func (s *baseServiceImpl[T]) All(ctx context.Context) (entities []*T, err error) {
	err = s.Execute(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entities, err = repo.GetAll(ctx)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) (entities []*T, err error) {
	err = s.Execute(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entities, err = repo.List(ctx, filter)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) Query(ctx context.Context, query string, args ...interface{}) (entities []*T, err error) {
	err = s.Execute(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		entities, err = repo.Query(ctx, query, args...)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (pagination *types.Pagination[T], err error) {
	err = s.Execute(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		pagination, err = repo.Page(ctx, page)
		return err
	})
	return pagination, err
}

func (s *baseServiceImpl[T]) Count(ctx context.Context, filter *types.QueryFilter) (n int, err error) {
	err = s.Execute(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		n, err = repo.Count(ctx, filter)
		return err
	})
	return n, err
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, model *T) error {
	return s.Execute(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		_, err := repo.Save(ctx, model)
		return err
	})
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id any) error {
	return s.Execute(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Delete(ctx, id)
	})
}
