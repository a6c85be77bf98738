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

package types

import (
	"fmt"
	"strings"
)

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types. Enums
// persisted as text are written by Name and read back through ParseEnum.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// ParseEnum finds the value whose Name matches name, ignoring case and
// surrounding blanks.
func ParseEnum[E BaseEnum](name string, values ...E) (E, error) {
	s := strings.TrimSpace(name)
	for _, v := range values {
		if strings.EqualFold(v.Name(), s) {
			return v, nil
		}
	}
	var zero E
	return zero, fmt.Errorf("unknown enum name %q", name)
}
