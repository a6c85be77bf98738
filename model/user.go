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

package model

import (
	"github.com/uptrace/bun"

	"github.com/tomoncle/hellopersist/database"
	"github.com/tomoncle/hellopersist/persistence"
)

// User takes its identifier from the database identity column, so the row
// is inserted as soon as it is persisted.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID       int64  `bun:"id,pk,autoincrement"`
	Username string `bun:"name,notnull"`
}

func (*User) KeyGeneration() persistence.GeneratorSpec {
	return persistence.GeneratorSpec{Strategy: persistence.GenerationIdentity}
}

func init() {
	database.RegisterModel(database.NewModelAdapter((*User)(nil), 20))
}
