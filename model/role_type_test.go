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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleTypeStoredByName(t *testing.T) {
	v, err := RoleAdmin.Value()
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", v)

	v, err = RoleType(0).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = RoleType(9).Value()
	assert.Error(t, err)
}

func TestRoleTypeScan(t *testing.T) {
	var r RoleType
	require.NoError(t, r.Scan([]byte("USER")))
	assert.Equal(t, RoleUser, r)

	require.NoError(t, r.Scan(nil))
	assert.False(t, r.IsValid())

	assert.Error(t, r.Scan("OWNER"))
	assert.Error(t, r.Scan(3))
}

func TestRoleTypeEnum(t *testing.T) {
	assert.Equal(t, 2, RoleAdmin.Number())
	assert.Equal(t, -1, RoleType(7).Number())
	assert.Equal(t, "unknown", RoleType(7).Name())
}
