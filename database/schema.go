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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

var (
	// ErrSchemaActionForbidden is returned when a destructive schema action is
	// configured for a production environment.
	ErrSchemaActionForbidden = errors.New("schema action is not allowed in production")
	// ErrSchemaInvalid is returned by validate when mapped tables or columns
	// are missing from the database.
	ErrSchemaInvalid = errors.New("schema validation failed")
)

// AuxiliaryObject is a non-table database object derived from the mapping,
// such as a sequence or a key generator table.
type AuxiliaryObject interface {
	Name() string
	Create(ctx context.Context, db bun.IDB) error
	Drop(ctx context.Context, db bun.IDB) error
}

// SchemaManager derives DDL from the registered models. It is meant for
// development and test databases; production units should use "none" or
// "validate".
type SchemaManager struct {
	db        *bun.DB
	registry  ModelRegistry
	config    SchemaConfig
	logger    Logger
	auxiliary []AuxiliaryObject
}

func NewSchemaManager(db *bun.DB, registry ModelRegistry, config SchemaConfig, logger Logger) *SchemaManager {
	if config.Action == "" {
		config.Action = SchemaNone
	}
	return &SchemaManager{
		db:       db,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// AddAuxiliary registers an object created before and dropped after the tables.
func (sm *SchemaManager) AddAuxiliary(obj AuxiliaryObject) {
	sm.auxiliary = append(sm.auxiliary, obj)
}

// Apply runs the configured schema action.
func (sm *SchemaManager) Apply(ctx context.Context) error {
	switch sm.config.Action {
	case SchemaNone:
		return nil
	case SchemaValidate:
		return sm.Validate(ctx)
	case SchemaCreate, SchemaCreateDrop, SchemaUpdate:
	default:
		return fmt.Errorf("unknown schema action %q", sm.config.Action)
	}

	if sm.config.IsProduction() {
		return fmt.Errorf("%w: %q in environment %q", ErrSchemaActionForbidden, sm.config.Action, sm.config.Environment)
	}

	if sm.logger != nil {
		sm.logger.Warn("Applying schema action, intended for development only", "action", sm.config.Action, "env", sm.config.Environment)
	}

	EnableBunSqlSilent(true)
	defer EnableBunSqlSilent(false)

	if sm.config.Action == SchemaUpdate {
		return sm.Update(ctx)
	}
	return sm.Create(ctx)
}

// Close drops everything when the action is create-drop.
func (sm *SchemaManager) Close(ctx context.Context) error {
	if sm.config.Action != SchemaCreateDrop {
		return nil
	}
	EnableBunSqlSilent(true)
	defer EnableBunSqlSilent(false)
	return sm.Drop(ctx)
}

// Create drops and recreates every mapped table and auxiliary object.
func (sm *SchemaManager) Create(ctx context.Context) error {
	if err := sm.Drop(ctx); err != nil {
		return err
	}
	for _, obj := range sm.auxiliary {
		if err := obj.Create(ctx, sm.db); err != nil {
			return fmt.Errorf("failed to create %s: %w", obj.Name(), err)
		}
	}
	for _, model := range sm.registry.Instances() {
		if _, err := sm.db.NewCreateTable().Model(model).Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
		if sm.logger != nil {
			sm.logger.Debug("Table created", "model", getModelName(model))
		}
	}
	return nil
}

// Drop removes the mapped tables in reverse priority, then auxiliary objects.
func (sm *SchemaManager) Drop(ctx context.Context) error {
	models := sm.registry.Instances()
	for i := len(models) - 1; i >= 0; i-- {
		if _, err := sm.db.NewDropTable().Model(models[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table %T: %w", models[i], err)
		}
	}
	for i := len(sm.auxiliary) - 1; i >= 0; i-- {
		if err := sm.auxiliary[i].Drop(ctx, sm.db); err != nil {
			return fmt.Errorf("failed to drop %s: %w", sm.auxiliary[i].Name(), err)
		}
	}
	return nil
}

// Update creates missing tables and adds missing columns. It never drops or
// alters existing columns.
func (sm *SchemaManager) Update(ctx context.Context) error {
	for _, obj := range sm.auxiliary {
		if err := obj.Create(ctx, sm.db); err != nil {
			return fmt.Errorf("failed to create %s: %w", obj.Name(), err)
		}
	}
	for _, model := range sm.registry.Instances() {
		if _, err := sm.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
		table := sm.db.Table(modelType(model))
		missing, err := sm.missingColumns(ctx, table)
		if err != nil {
			return err
		}
		for _, field := range missing {
			_, err := sm.db.NewAddColumn().
				Model(model).
				ColumnExpr("? ?", field.SQLName, bun.Safe(field.CreateTableSQLType)).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", table.Name, field.Name, err)
			}
			if sm.logger != nil {
				sm.logger.Info("Column added", "table", table.Name, "column", field.Name)
			}
		}
	}
	return nil
}

// Validate checks that every mapped table and column exists.
func (sm *SchemaManager) Validate(ctx context.Context) error {
	var problems []string
	for _, model := range sm.registry.Instances() {
		table := sm.db.Table(modelType(model))
		_, err := sm.db.NewSelect().
			TableExpr("?", table.SQLName).
			ColumnExpr("1").
			Limit(1).
			Exists(ctx)
		if err != nil {
			if _, category := IsSqlError(err); category == NoTableErr {
				problems = append(problems, fmt.Sprintf("missing table %s", table.Name))
				continue
			}
			return fmt.Errorf("failed to inspect table %s: %w", table.Name, err)
		}
		missing, err := sm.missingColumns(ctx, table)
		if err != nil {
			return err
		}
		for _, field := range missing {
			problems = append(problems, fmt.Sprintf("missing column %s.%s", table.Name, field.Name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (sm *SchemaManager) missingColumns(ctx context.Context, table *schema.Table) ([]*schema.Field, error) {
	var missing []*schema.Field
	for _, field := range table.Fields {
		_, err := sm.db.NewSelect().
			TableExpr("?", table.SQLName).
			ColumnExpr("?", field.SQLName).
			Limit(1).
			Exists(ctx)
		if err == nil {
			continue
		}
		if _, category := IsSqlError(err); category == NoColumnErr {
			missing = append(missing, field)
			continue
		}
		return nil, fmt.Errorf("failed to inspect column %s.%s: %w", table.Name, field.Name, err)
	}
	return missing, nil
}

func getModelName(model interface{}) string {
	return modelType(model).Name()
}
