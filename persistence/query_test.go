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

package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/hellopersist/model"
	"github.com/tomoncle/hellopersist/persistence"
	"github.com/tomoncle/hellopersist/types"
)

func seedRange(t *testing.T, f *persistence.Factory, rec *persistence.QueryRecorder, n int) {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, int64(i))
	}
	seedMembers(t, f, rec, ids...)
}

func memberIDs(members []*model.Member) []int64 {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestQueryPagination(t *testing.T) {
	ctx := context.Background()
	f, rec := openFactory(t)
	seedRange(t, f, rec, 12)
	s := persistence.BeginSession(t, f)

	q := persistence.CreateQuery[model.Member](s).Order("id").SetFirstResult(1).SetMaxResults(10)
	assert.Zero(t, rec.Count("SELECT"), "queries are lazy")

	members, err := q.GetResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, memberIDs(members))
	assert.Equal(t, 1, rec.Count("SELECT"))

	rest, err := persistence.CreateQuery[model.Member](s).Order("id").SetFirstResult(10).GetResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, memberIDs(rest))
}

func TestQueryRejectsNegativeBounds(t *testing.T) {
	f, _ := openFactory(t)
	s := persistence.BeginSession(t, f)

	_, err := persistence.CreateQuery[model.Member](s).SetFirstResult(-1).GetResultList(context.Background())
	assert.Error(t, err)
	_, err = persistence.CreateQuery[model.Member](s).SetMaxResults(-1).Count(context.Background())
	assert.Error(t, err)
}

func TestQueryReturnsManagedInstances(t *testing.T) {
	ctx := context.Background()
	f, rec := openFactory(t)
	seedRange(t, f, rec, 3)
	s := persistence.BeginSession(t, f)
	s.SetFlushMode(persistence.FlushModeCommit)

	m, err := persistence.Find[model.Member](ctx, s, 2)
	require.NoError(t, err)
	m.Username = "unsaved"

	members, err := persistence.CreateQuery[model.Member](s).Order("id").GetResultList(ctx)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Same(t, m, members[1])
	assert.Equal(t, "unsaved", members[1].Username)
	assert.True(t, s.Contains(members[0]))

	again, err := persistence.Find[model.Member](ctx, s, 3)
	require.NoError(t, err)
	assert.Same(t, members[2], again)
}

func TestAutoFlushBeforeQuery(t *testing.T) {
	ctx := context.Background()
	f, _ := openFactory(t)
	s := persistence.BeginSession(t, f)
	assert.Equal(t, persistence.FlushModeAuto, s.FlushMode())

	pending := model.NewMember(7, "pending")
	require.NoError(t, s.Persist(ctx, pending))

	members, err := persistence.CreateQuery[model.Member](s).Where("name = ?", "pending").GetResultList(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Same(t, pending, members[0])
}

func TestCommitFlushModeSkipsAutoFlush(t *testing.T) {
	ctx := context.Background()
	f, rec := openFactory(t)
	s := persistence.BeginSession(t, f)
	s.SetFlushMode(persistence.FlushModeCommit)

	require.NoError(t, s.Persist(ctx, model.NewMember(7, "pending")))
	n, err := persistence.CreateQuery[model.Member](s).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, rec.Count("INSERT"))

	require.NoError(t, s.Transaction().Commit(ctx))
	assert.Equal(t, 1, rec.Count("INSERT"))
}

func TestQueryOutsideTransactionDoesNotFlush(t *testing.T) {
	ctx := context.Background()
	f, rec := openFactory(t)
	seedRange(t, f, rec, 2)
	s, err := f.CreateSession(ctx)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	m, err := persistence.Find[model.Member](ctx, s, 1)
	require.NoError(t, err)
	m.Username = "dirty"

	n, err := persistence.CreateQuery[model.Member](s).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, rec.Count("UPDATE"))
}

func TestGetSingleResult(t *testing.T) {
	ctx := context.Background()
	f, rec := openFactory(t)
	seedRange(t, f, rec, 3)
	s := persistence.BeginSession(t, f)

	m, err := persistence.CreateQuery[model.Member](s).Where("id = ?", 2).GetSingleResult(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.ID)

	_, err = persistence.CreateQuery[model.Member](s).Where("id > ?", 100).GetSingleResult(ctx)
	assert.ErrorIs(t, err, persistence.ErrNoResult)

	_, err = persistence.CreateQuery[model.Member](s).GetSingleResult(ctx)
	assert.ErrorIs(t, err, persistence.ErrNonUniqueResult)

	first, err := persistence.CreateQuery[model.Member](s).Order("id").SetMaxResults(1).GetSingleResult(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.ID)
}

func TestQueryCountAndPage(t *testing.T) {
	ctx := context.Background()
	f, rec := openFactory(t)
	seedRange(t, f, rec, 12)
	s := persistence.BeginSession(t, f)

	n, err := persistence.CreateQuery[model.Member](s).Where("id <= ?", 5).SetMaxResults(2).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	req := types.NewPageRequest(2, 5, types.NewQueryFilter("id > ?", 1), []string{"id DESC"})
	page, err := persistence.CreateQuery[model.Member](s).Page(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	assert.Equal(t, 3, page.TotalPages())
	assert.True(t, page.HasNext())
	assert.Equal(t, []int64{7, 6, 5, 4, 3}, memberIDs(page.Items))

	empty, err := persistence.CreateQuery[model.Member](s).Where("id > ?", 100).Page(ctx, types.NewDefaultPageRequest(1, 5))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Items)
}

func TestQuerySkipsRemovedRows(t *testing.T) {
	ctx := context.Background()
	f, rec := openFactory(t)
	seedRange(t, f, rec, 3)
	s := persistence.BeginSession(t, f)
	s.SetFlushMode(persistence.FlushModeCommit)

	m, err := persistence.Find[model.Member](ctx, s, 2)
	require.NoError(t, err)
	require.NoError(t, s.Remove(m))

	members, err := persistence.CreateQuery[model.Member](s).Order("id").GetResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, memberIDs(members))
}

func TestQueryOnClosedSession(t *testing.T) {
	f, _ := openFactory(t)
	s, err := f.CreateSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = persistence.CreateQuery[model.Member](s).GetResultList(context.Background())
	assert.ErrorIs(t, err, persistence.ErrSessionClosed)
}
