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

	"github.com/tomoncle/hellopersist/database"
	"github.com/tomoncle/hellopersist/model"
	"github.com/tomoncle/hellopersist/persistence"
)

const testDescriptor = "testdata/persistence.yaml"

func TestCreateFactoryIsSharedPerUnit(t *testing.T) {
	ctx := context.Background()
	f, err := persistence.CreateFactory(ctx, "hello", persistence.WithDescriptor(testDescriptor))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	again, err := persistence.CreateFactory(ctx, "hello", persistence.WithDescriptor(testDescriptor))
	require.NoError(t, err)
	assert.Same(t, f, again)
	assert.Equal(t, "hello", f.Name())
	assert.True(t, f.IsOpen())
	assert.True(t, f.Health(ctx).Healthy)

	s, err := f.CreateSession(ctx)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, persistence.FlushModeAuto, s.FlushMode())

	m, err := persistence.Find[model.Member](ctx, s, 201)
	require.NoError(t, err)
	assert.Equal(t, "member201", m.Username)
	assert.Equal(t, model.RoleAdmin, m.RoleType)
	require.NotNil(t, m.Age)
	assert.Equal(t, 21, *m.Age)

	users, err := persistence.CreateQuery[model.User](s).GetResultList(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "seeded", users[0].Username)
}

func TestClosedFactory(t *testing.T) {
	ctx := context.Background()
	f, err := persistence.CreateFactory(ctx, "readonly", persistence.WithDescriptor(testDescriptor))
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.False(t, f.IsOpen())
	_, err = f.CreateSession(ctx)
	assert.ErrorIs(t, err, persistence.ErrFactoryClosed)

	next, err := persistence.CreateFactory(ctx, "readonly", persistence.WithDescriptor(testDescriptor))
	require.NoError(t, err)
	defer func() { _ = next.Close() }()
	assert.NotSame(t, f, next)

	s, err := next.CreateSession(ctx)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, persistence.FlushModeCommit, s.FlushMode())
}

func TestCreateFactoryUnknownUnit(t *testing.T) {
	_, err := persistence.CreateFactory(context.Background(), "missing", persistence.WithDescriptor(testDescriptor))
	assert.ErrorIs(t, err, database.ErrUnitNotFound)
}

func TestNewFactoryRequiresConfig(t *testing.T) {
	_, err := persistence.NewFactory(context.Background(), nil)
	assert.Error(t, err)
}

func TestSessionNeedsLiveContext(t *testing.T) {
	f, _ := openFactory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.CreateSession(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactoryServesConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	f, _ := openFactory(t)

	errs := make(chan error, 4)
	for i := 1; i <= 4; i++ {
		id := int64(i)
		go func() {
			errs <- persistence.RunInTransaction(ctx, f, func(ctx context.Context, s *persistence.Session) error {
				return s.Persist(ctx, model.NewMember(id, "worker"))
			})
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, 4, countMembers(t, f))
}
