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

import "errors"

var (
	ErrSessionClosed        = errors.New("session is closed")
	ErrFactoryClosed        = errors.New("session factory is closed")
	ErrTransactionRequired  = errors.New("no active transaction")
	ErrTransactionActive    = errors.New("transaction already active")
	ErrTransactionNotActive = errors.New("transaction is not active")
	ErrRollbackOnly         = errors.New("transaction is marked rollback-only")

	ErrNotAnEntity       = errors.New("not a pointer to a mapped struct")
	ErrUnsupportedKey    = errors.New("entity must have exactly one primary key column")
	ErrMissingIdentifier = errors.New("assigned identifier must be set before persist")
	ErrEntityExists      = errors.New("another instance with the same identifier is already managed")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrEntityNotManaged  = errors.New("entity is not managed")
	ErrDetachedEntity    = errors.New("detached entity passed to session")
	ErrIdentifierAltered = errors.New("identifier of a managed entity was altered")
	ErrStaleEntity       = errors.New("row was updated or deleted by another transaction")

	ErrNoResult        = errors.New("query returned no result")
	ErrNonUniqueResult = errors.New("query returned more than one result")

	ErrSequenceUnsupported = errors.New("database dialect has no native sequences")
	ErrKeyTableContention  = errors.New("key generator table kept changing under concurrent updates")
)
