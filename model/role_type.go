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
	"database/sql/driver"
	"fmt"

	"github.com/tomoncle/hellopersist/types"
)

// RoleType is persisted by name so that reordering the constants never
// changes stored data.
type RoleType int

const (
	RoleUser RoleType = iota + 1
	RoleAdmin
)

var (
	_ types.BaseEnum = RoleType(0)
	_ driver.Valuer  = RoleType(0)
)

var roleTypes = []RoleType{RoleUser, RoleAdmin}

func (r RoleType) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

func (r RoleType) Number() int {
	if !r.IsValid() {
		return types.IllegalValue
	}
	return int(r)
}

func (r RoleType) Name() string {
	switch r {
	case RoleUser:
		return "USER"
	case RoleAdmin:
		return "ADMIN"
	}
	return types.IllegalName
}

func (r RoleType) String() string {
	return r.Name()
}

func (r RoleType) Desc() string {
	switch r {
	case RoleUser:
		return "regular member"
	case RoleAdmin:
		return "administrator"
	}
	return types.IllegalDesc
}

// Value writes the name, or NULL for the zero value.
func (r RoleType) Value() (driver.Value, error) {
	if r == 0 {
		return nil, nil
	}
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid role type %d", int(r))
	}
	return r.Name(), nil
}

func (r *RoleType) Scan(src interface{}) error {
	var name string
	switch v := src.(type) {
	case nil:
		*r = 0
		return nil
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan %T into RoleType", src)
	}
	parsed, err := ParseRoleType(name)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func ParseRoleType(name string) (RoleType, error) {
	r, err := types.ParseEnum(name, roleTypes...)
	if err != nil {
		return 0, fmt.Errorf("role type: %w", err)
	}
	return r, nil
}
