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
	"fmt"
	"math"
	"reflect"

	"github.com/uptrace/bun"

	"github.com/tomoncle/hellopersist/types"
)

type whereClause struct {
	query string
	args  []interface{}
}

// TypedQuery selects instances of T. It is lazy: nothing runs until
// GetResultList, GetSingleResult, Count or Page is called. Rows whose
// identity is already managed resolve to the managed instance.
type TypedQuery[T any] struct {
	session     *Session
	wheres      []whereClause
	orders      []string
	firstResult int
	maxResults  int
	err         error
}

func CreateQuery[T any](s *Session) *TypedQuery[T] {
	return &TypedQuery[T]{session: s}
}

// Where adds a condition; several conditions are joined with AND.
func (q *TypedQuery[T]) Where(query string, args ...interface{}) *TypedQuery[T] {
	q.wheres = append(q.wheres, whereClause{query: query, args: args})
	return q
}

// Order adds sort columns such as "id" or "name DESC".
func (q *TypedQuery[T]) Order(orders ...string) *TypedQuery[T] {
	q.orders = append(q.orders, orders...)
	return q
}

// SetFirstResult skips the first n rows.
func (q *TypedQuery[T]) SetFirstResult(n int) *TypedQuery[T] {
	if n < 0 {
		q.err = fmt.Errorf("first result must not be negative: %d", n)
		return q
	}
	q.firstResult = n
	return q
}

// SetMaxResults caps the number of rows; 0 means no limit.
func (q *TypedQuery[T]) SetMaxResults(n int) *TypedQuery[T] {
	if n < 0 {
		q.err = fmt.Errorf("max results must not be negative: %d", n)
		return q
	}
	q.maxResults = n
	return q
}

func (q *TypedQuery[T]) prepare(ctx context.Context) (*entityMeta, error) {
	if q.err != nil {
		return nil, q.err
	}
	s := q.session
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := s.factory.metadata.get(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	if err := s.autoFlush(ctx); err != nil {
		return nil, err
	}
	return meta, nil
}

func (q *TypedQuery[T]) filter(sel *bun.SelectQuery) *bun.SelectQuery {
	for _, w := range q.wheres {
		sel = sel.Where(w.query, w.args...)
	}
	return sel
}

func (q *TypedQuery[T]) GetResultList(ctx context.Context) ([]*T, error) {
	meta, err := q.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return q.fetch(ctx, meta, q.firstResult, q.maxResults)
}

func (q *TypedQuery[T]) fetch(ctx context.Context, meta *entityMeta, offset, limit int) ([]*T, error) {
	var rows []*T
	sel := q.filter(q.session.executor().NewSelect().Model(&rows))
	if len(q.orders) > 0 {
		sel = sel.Order(q.orders...)
	}
	if limit > 0 {
		sel = sel.Limit(limit)
	} else if offset > 0 {
		sel = sel.Limit(math.MaxInt32)
	}
	if offset > 0 {
		sel = sel.Offset(offset)
	}
	if err := sel.Scan(ctx); err != nil {
		return nil, fmt.Errorf("query of %s failed: %w", meta.name(), err)
	}
	return q.resolve(meta, rows), nil
}

// resolve swaps loaded rows for already managed instances and registers the
// rest. Rows removed in this session are left out.
func (q *TypedQuery[T]) resolve(meta *entityMeta, rows []*T) []*T {
	pc := q.session.pc
	result := make([]*T, 0, len(rows))
	for _, row := range rows {
		v := reflect.ValueOf(row).Elem()
		if e := pc.lookupKey(meta.key(v)); e != nil {
			if e.state == StateRemoved {
				continue
			}
			result = append(result, e.entity.(*T))
			continue
		}
		pc.manage(row, v, meta)
		result = append(result, row)
	}
	return result
}

// GetSingleResult returns the only matching instance.
func (q *TypedQuery[T]) GetSingleResult(ctx context.Context) (*T, error) {
	meta, err := q.prepare(ctx)
	if err != nil {
		return nil, err
	}
	limit := 2
	if q.maxResults == 1 {
		limit = 1
	}
	rows, err := q.fetch(ctx, meta, q.firstResult, limit)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoResult, meta.name())
	case 1:
		return rows[0], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNonUniqueResult, meta.name())
}

// Count returns the number of rows matching the conditions, ignoring
// first and max results.
func (q *TypedQuery[T]) Count(ctx context.Context) (int, error) {
	meta, err := q.prepare(ctx)
	if err != nil {
		return 0, err
	}
	n, err := q.filter(q.session.executor().NewSelect().Model((*T)(nil))).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count of %s failed: %w", meta.name(), err)
	}
	return n, nil
}

// Page runs the query for one page of req, adding its filter and orders.
func (q *TypedQuery[T]) Page(ctx context.Context, req *types.PageRequest) (*types.Pagination[T], error) {
	pq := &TypedQuery[T]{
		session: q.session,
		wheres:  append([]whereClause(nil), q.wheres...),
		orders:  append(append([]string(nil), q.orders...), req.GetOrders()...),
		err:     q.err,
	}
	if f := req.GetFilter(); f != nil {
		pq.Where(f.Schema, f.Args...)
	}

	pagination := types.NewDefaultPagination[T](req.GetPage(), req.GetPageSize())
	total, err := pq.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	meta, err := pq.prepare(ctx)
	if err != nil {
		return nil, err
	}
	items, err := pq.fetch(ctx, meta, req.GetOffset(), req.GetPageSize())
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = items
	return pagination, nil
}
