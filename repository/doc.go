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

// Package repository provides a generic repository bound to a
// persistence.Session. Reads go through the session's identity cache and
// writes are queued until the session flushes, so a repository is only as
// long-lived as its session.
//
//	repo := repository.NewRepository[model.Member](session)
//	member, err := repo.GetOne(ctx, 200)
//	member.Username = "renamed" // written by the next flush
package repository
