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

	"github.com/uptrace/bun"
	"go.uber.org/multierr"
)

// Transaction is the resource-local transaction of a session. It can be
// begun again after it commits or rolls back.
type Transaction struct {
	session      *Session
	tx           bun.Tx
	status       TxStatus
	rollbackOnly bool
}

func (t *Transaction) Begin(ctx context.Context) error {
	if err := t.session.checkOpen(); err != nil {
		return err
	}
	if t.status == TxActive {
		return ErrTransactionActive
	}
	tx, err := t.session.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	t.tx = tx
	t.status = TxActive
	t.rollbackOnly = false
	return nil
}

// Commit flushes the session and commits. If the flush or the commit fails
// the transaction is rolled back and every instance is detached.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.session.checkOpen(); err != nil {
		return err
	}
	if t.status != TxActive {
		return ErrTransactionNotActive
	}
	if t.rollbackOnly {
		return multierr.Append(ErrRollbackOnly, t.rollback())
	}

	if err := t.session.flush(ctx); err != nil {
		return multierr.Append(fmt.Errorf("flush before commit failed: %w", err), t.rollback())
	}
	if err := t.tx.Commit(); err != nil {
		t.finish(TxRolledBack)
		return fmt.Errorf("commit failed: %w", err)
	}
	t.finish(TxCommitted)
	return nil
}

// Rollback discards queued changes, rolls back and detaches every instance,
// since their in-memory state may no longer match the database.
func (t *Transaction) Rollback() error {
	if t.status != TxActive {
		return ErrTransactionNotActive
	}
	return t.rollback()
}

func (t *Transaction) rollback() error {
	err := t.tx.Rollback()
	t.finish(TxRolledBack)
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}

func (t *Transaction) finish(status TxStatus) {
	s := t.session
	t.status = status
	t.rollbackOnly = false
	if status == TxCommitted {
		s.pc.evictRemoved()
		s.factory.generators.release(t)
		s.metrics.commits.Inc(1)
		s.logger.Debug("Transaction committed", "session", s.id)
		return
	}
	s.pc.clear()
	s.factory.generators.reset(t)
	s.metrics.rollbacks.Inc(1)
	s.logger.Debug("Transaction rolled back", "session", s.id)
}

func (t *Transaction) IsActive() bool {
	return t.status == TxActive
}

func (t *Transaction) Status() TxStatus {
	return t.status
}

// SetRollbackOnly makes the next Commit roll back instead.
func (t *Transaction) SetRollbackOnly() error {
	if t.status != TxActive {
		return ErrTransactionNotActive
	}
	t.rollbackOnly = true
	return nil
}

func (t *Transaction) RollbackOnly() bool {
	return t.rollbackOnly
}

// RunInTransaction runs fn in a new session and transaction. The
// transaction commits when fn returns nil and rolls back otherwise; the
// session is always closed.
func RunInTransaction(ctx context.Context, factory *Factory, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := factory.CreateSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = s.Close()
			panic(p)
		}
		err = multierr.Append(err, s.Close())
	}()

	tx := s.Transaction()
	if err := tx.Begin(ctx); err != nil {
		return err
	}
	if err := fn(ctx, s); err != nil {
		if tx.IsActive() {
			return multierr.Append(err, tx.Rollback())
		}
		return err
	}
	if !tx.IsActive() {
		return nil
	}
	return tx.Commit(ctx)
}
