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
	"time"

	"github.com/uptrace/bun"

	"github.com/tomoncle/hellopersist/database"
)

// Member uses a caller-assigned identifier.
type Member struct {
	bun.BaseModel `bun:"table:member,alias:m"`

	ID               int64     `bun:"id,pk"`
	Username         string    `bun:"name"`
	Age              *int      `bun:"age"`
	RoleType         RoleType  `bun:"role_type,type:varchar(16)"`
	CreatedDate      time.Time `bun:"created_date,type:timestamp,nullzero"`
	LastModifiedDate time.Time `bun:"last_modified_date,type:timestamp,nullzero"`
	Description      string    `bun:"description,type:text"`
	Temp             int       `bun:"-"`
}

func NewMember(id int64, username string) *Member {
	return &Member{ID: id, Username: username}
}

func init() {
	database.RegisterModel(database.NewModelAdapter((*Member)(nil), 10))
}
