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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/hellopersist/model"
	"github.com/tomoncle/hellopersist/persistence"
)

func TestTransactionStates(t *testing.T) {
	ctx := context.Background()
	f, _ := openFactory(t)
	s, err := f.CreateSession(ctx)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	tx := s.Transaction()
	assert.Equal(t, persistence.TxNotStarted, tx.Status())
	assert.False(t, tx.IsActive())
	assert.ErrorIs(t, tx.Commit(ctx), persistence.ErrTransactionNotActive)
	assert.ErrorIs(t, tx.Rollback(), persistence.ErrTransactionNotActive)
	assert.ErrorIs(t, tx.SetRollbackOnly(), persistence.ErrTransactionNotActive)

	require.NoError(t, tx.Begin(ctx))
	assert.True(t, tx.IsActive())
	assert.ErrorIs(t, tx.Begin(ctx), persistence.ErrTransactionActive)

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, persistence.TxCommitted, tx.Status())
	assert.ErrorIs(t, tx.Commit(ctx), persistence.ErrTransactionNotActive)

	require.NoError(t, tx.Begin(ctx))
	require.NoError(t, tx.Rollback())
	assert.Equal(t, persistence.TxRolledBack, tx.Status())
	assert.Equal(t, "ROLLED_BACK", tx.Status().String())
}

func TestCommitKeepsEntitiesManaged(t *testing.T) {
	ctx := context.Background()
	f, rec := openFactory(t)
	s := persistence.BeginSession(t, f)

	m := model.NewMember(1, "a")
	require.NoError(t, s.Persist(ctx, m))
	require.NoError(t, s.Transaction().Commit(ctx))
	assert.True(t, s.Contains(m))

	require.NoError(t, s.Transaction().Begin(ctx))
	m.Username = "b"
	require.NoError(t, s.Transaction().Commit(ctx))
	assert.Equal(t, 1, rec.Count("UPDATE"))
	assert.Equal(t, "b", loadMember(t, f, 1).Username)
}

func TestRollbackOnly(t *testing.T) {
	ctx := context.Background()
	f, _ := openFactory(t)
	s := persistence.BeginSession(t, f)

	require.NoError(t, s.Persist(ctx, model.NewMember(1, "a")))
	require.NoError(t, s.Transaction().SetRollbackOnly())
	assert.True(t, s.Transaction().RollbackOnly())

	assert.ErrorIs(t, s.Transaction().Commit(ctx), persistence.ErrRollbackOnly)
	assert.Equal(t, persistence.TxRolledBack, s.Transaction().Status())
	assert.False(t, s.Transaction().RollbackOnly())
	assert.Zero(t, countMembers(t, f))
}

func TestFailedCommitRollsBack(t *testing.T) {
	ctx := context.Background()
	f, rec := openFactory(t)
	seedMembers(t, f, rec, 1)
	s := persistence.BeginSession(t, f)
	s.SetFlushMode(persistence.FlushModeCommit)

	// the row exists but this session does not know about it
	require.NoError(t, s.Persist(ctx, model.NewMember(2, "ok")))
	require.NoError(t, s.Persist(ctx, model.NewMember(1, "duplicate")))

	err := s.Transaction().Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, persistence.TxRolledBack, s.Transaction().Status())
	assert.Equal(t, 1, countMembers(t, f))
}

func TestRunInTransactionCommits(t *testing.T) {
	ctx := context.Background()
	f, _ := openFactory(t)

	var session *persistence.Session
	err := persistence.RunInTransaction(ctx, f, func(ctx context.Context, s *persistence.Session) error {
		session = s
		return s.Persist(ctx, model.NewMember(100, "HelloJPA2"))
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.TxCommitted, session.Transaction().Status())
	assert.Equal(t, 1, countMembers(t, f))

	_, err = persistence.Find[model.Member](ctx, session, 100)
	assert.ErrorIs(t, err, persistence.ErrSessionClosed)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	f, _ := openFactory(t)
	boom := errors.New("boom")

	err := persistence.RunInTransaction(ctx, f, func(ctx context.Context, s *persistence.Session) error {
		if err := s.Persist(ctx, model.NewMember(100, "a")); err != nil {
			return err
		}
		if err := s.Flush(ctx); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, countMembers(t, f))
}

func TestRunInTransactionRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	f, _ := openFactory(t)

	assert.PanicsWithValue(t, "boom", func() {
		_ = persistence.RunInTransaction(ctx, f, func(ctx context.Context, s *persistence.Session) error {
			require.NoError(t, s.Persist(ctx, model.NewMember(100, "a")))
			require.NoError(t, s.Flush(ctx))
			panic("boom")
		})
	})
	assert.Zero(t, countMembers(t, f))
}

func TestRunInTransactionWithManualCommit(t *testing.T) {
	ctx := context.Background()
	f, _ := openFactory(t)

	err := persistence.RunInTransaction(ctx, f, func(ctx context.Context, s *persistence.Session) error {
		if err := s.Persist(ctx, model.NewMember(100, "a")); err != nil {
			return err
		}
		return s.Transaction().Commit(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countMembers(t, f))
}
