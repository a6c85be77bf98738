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

// Package persistence implements a unit-of-work layer on top of Bun.
//
// A Factory is created once per persistence unit and hands out Sessions. A
// Session keeps at most one instance per identifier (Find returns the same
// pointer until the session is cleared), queues INSERT and DELETE
// statements until it is flushed, and compares every managed instance with
// the snapshot taken when it was loaded so that changed columns are written
// without an explicit save call. Flushing happens on Commit, on Flush and,
// in FlushModeAuto, before queries.
//
//	err := persistence.RunInTransaction(ctx, factory, func(ctx context.Context, s *persistence.Session) error {
//		m, err := persistence.Find[model.Member](ctx, s, 200)
//		if err != nil {
//			return err
//		}
//		m.Username = "renamed" // written as one UPDATE at commit
//		return nil
//	})
package persistence
