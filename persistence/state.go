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

import "strings"

// EntityState is the lifecycle state of an instance relative to one session.
type EntityState int

const (
	// StateNew instances were never persisted through this session.
	StateNew EntityState = iota
	StateManaged
	StateRemoved
	// StateDetached instances were managed by this session and left it
	// through Detach, Clear, Close or a rollback.
	StateDetached
)

func (s EntityState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateManaged:
		return "MANAGED"
	case StateRemoved:
		return "REMOVED"
	case StateDetached:
		return "DETACHED"
	}
	return "UNKNOWN"
}

// FlushMode decides when pending changes are written.
type FlushMode int

const (
	// FlushModeAuto flushes on commit and before queries run inside an
	// active transaction.
	FlushModeAuto FlushMode = iota
	// FlushModeCommit only flushes on commit or an explicit Flush.
	FlushModeCommit
)

func (m FlushMode) String() string {
	if m == FlushModeCommit {
		return "COMMIT"
	}
	return "AUTO"
}

// ParseFlushMode reads "auto" or "commit"; anything else is auto.
func ParseFlushMode(s string) FlushMode {
	if strings.EqualFold(strings.TrimSpace(s), "commit") {
		return FlushModeCommit
	}
	return FlushModeAuto
}

// TxStatus is the state of a session's resource-local transaction.
type TxStatus int

const (
	TxNotStarted TxStatus = iota
	TxActive
	TxCommitted
	TxRolledBack
)

func (s TxStatus) String() string {
	switch s {
	case TxNotStarted:
		return "NOT_STARTED"
	case TxActive:
		return "ACTIVE"
	case TxCommitted:
		return "COMMITTED"
	case TxRolledBack:
		return "ROLLED_BACK"
	}
	return "UNKNOWN"
}
