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

package database

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrUnitNotFound is returned when a descriptor has no unit with the requested name.
var ErrUnitNotFound = errors.New("persistence unit not found")

type unitsFile struct {
	Units map[string]yaml.Node `yaml:"units"`
}

// LoadPersistenceUnit reads the named unit from a YAML descriptor such as
//
//	units:
//	  hello:
//	    connection:
//	      type: sqlite
//	      dbname: hello
//	    schema:
//	      action: create
//
// Unset connection fields keep the DefaultConnectionConfig values. A ".env"
// file next to the working directory is loaded first so that DB_* overrides
// applied by the factory can come from it.
func LoadPersistenceUnit(path, name string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persistence descriptor: %w", err)
	}

	var file unitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse persistence descriptor %s: %w", path, err)
	}

	node, ok := file.Units[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s, available: %v", ErrUnitNotFound, name, path, unitNames(file.Units))
	}

	cfg := &Config{
		Name:             name,
		ConnectionConfig: *DefaultConnectionConfig(),
		SchemaConfig:     SchemaConfig{Action: SchemaNone},
	}
	if err := node.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode persistence unit %q: %w", name, err)
	}
	cfg.Name = name
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func unitNames(units map[string]yaml.Node) []string {
	names := make([]string, 0, len(units))
	for n := range units {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
