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

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/tomoncle/hellopersist/database"
)

// GenerationStrategy selects where primary key values come from.
type GenerationStrategy int

const (
	// GenerationAssigned keys are set by the caller before Persist.
	GenerationAssigned GenerationStrategy = iota
	// GenerationIdentity keys come from an auto-increment column, so the
	// INSERT runs at Persist time.
	GenerationIdentity
	// GenerationSequence keys come from a database sequence in blocks of
	// AllocationSize.
	GenerationSequence
	// GenerationTable keys come from a row of a key table in blocks of
	// AllocationSize.
	GenerationTable
)

func (s GenerationStrategy) String() string {
	switch s {
	case GenerationAssigned:
		return "ASSIGNED"
	case GenerationIdentity:
		return "IDENTITY"
	case GenerationSequence:
		return "SEQUENCE"
	case GenerationTable:
		return "TABLE"
	}
	return "UNKNOWN"
}

const (
	DefaultAllocationSize = 50
	DefaultKeyTable       = "key_generators"
	DefaultPKColumn       = "sequence_name"
	DefaultValueColumn    = "next_val"

	maxKeyTableAttempts = 10
)

// GeneratorSpec configures key generation for one entity type. Zero values
// fall back to the defaults above; InitialValue defaults to 1.
type GeneratorSpec struct {
	Strategy       GenerationStrategy
	SequenceName   string
	InitialValue   int64
	AllocationSize int
	Table          string
	PKColumn       string
	ValueColumn    string
	PKValue        string
}

// KeyGenerated is implemented by entities that do not use assigned keys.
// Entities with an autoincrement primary key default to GenerationIdentity.
type KeyGenerated interface {
	KeyGeneration() GeneratorSpec
}

func (g GeneratorSpec) withDefaults(tableName string) GeneratorSpec {
	if g.AllocationSize <= 0 {
		g.AllocationSize = DefaultAllocationSize
	}
	if g.InitialValue <= 0 {
		g.InitialValue = 1
	}
	switch g.Strategy {
	case GenerationSequence:
		if g.SequenceName == "" {
			g.SequenceName = tableName + "_seq"
		}
	case GenerationTable:
		if g.Table == "" {
			g.Table = DefaultKeyTable
		}
		if g.PKColumn == "" {
			g.PKColumn = DefaultPKColumn
		}
		if g.ValueColumn == "" {
			g.ValueColumn = DefaultValueColumn
		}
		if g.PKValue == "" {
			g.PKValue = tableName
		}
	}
	return g
}

type keyGenerator interface {
	database.AuxiliaryObject
	Next(ctx context.Context, db bun.IDB, owner *Transaction) (int64, error)
}

// block is a range [next, hi) of preallocated keys.
type block struct {
	next int64
	hi   int64
}

func (b *block) take() (int64, bool) {
	if b.next >= b.hi {
		return 0, false
	}
	id := b.next
	b.next++
	return id, true
}

type sequenceGenerator struct {
	spec GeneratorSpec

	mu    sync.Mutex
	block block
}

func (g *sequenceGenerator) Name() string {
	return "sequence " + g.spec.SequenceName
}

// Next hands out the block [v, v+AllocationSize) for every nextval v.
func (g *sequenceGenerator) Next(ctx context.Context, db bun.IDB, _ *Transaction) (int64, error) {
	if db.Dialect().Name() != dialect.PG {
		return 0, fmt.Errorf("%w: %s", ErrSequenceUnsupported, db.Dialect().Name())
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.block.take(); ok {
		return id, nil
	}
	var v int64
	if err := db.NewRaw("SELECT nextval(?)", g.spec.SequenceName).Scan(ctx, &v); err != nil {
		return 0, fmt.Errorf("failed to read sequence %s: %w", g.spec.SequenceName, err)
	}
	g.block = block{next: v, hi: v + int64(g.spec.AllocationSize)}
	id, _ := g.block.take()
	return id, nil
}

func (g *sequenceGenerator) Create(ctx context.Context, db bun.IDB) error {
	if db.Dialect().Name() != dialect.PG {
		return fmt.Errorf("%w: %s", ErrSequenceUnsupported, db.Dialect().Name())
	}
	_, err := db.NewRaw("CREATE SEQUENCE IF NOT EXISTS ? START WITH ? INCREMENT BY ?",
		bun.Ident(g.spec.SequenceName), g.spec.InitialValue, g.spec.AllocationSize).Exec(ctx)
	return err
}

func (g *sequenceGenerator) Drop(ctx context.Context, db bun.IDB) error {
	if db.Dialect().Name() != dialect.PG {
		return nil
	}
	_, err := db.NewRaw("DROP SEQUENCE IF EXISTS ?", bun.Ident(g.spec.SequenceName)).Exec(ctx)
	return err
}

// tableGenerator emulates a sequence with one row per PKValue. With an
// isolated DB it allocates in its own transaction; otherwise it allocates in
// the caller's transaction and the block is discarded if that transaction
// rolls back.
type tableGenerator struct {
	spec     GeneratorSpec
	isolated *bun.DB

	mu    sync.Mutex
	block block
	owner *Transaction
}

func (g *tableGenerator) Name() string {
	return "table " + g.spec.Table
}

func (g *tableGenerator) Next(ctx context.Context, db bun.IDB, owner *Transaction) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.block.take(); ok {
		return id, nil
	}

	var v int64
	var err error
	if g.isolated != nil {
		err = g.isolated.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			v, err = g.allocate(ctx, tx)
			return err
		})
		g.owner = nil
	} else {
		v, err = g.allocate(ctx, db)
		g.owner = owner
	}
	if err != nil {
		return 0, err
	}
	g.block = block{next: v, hi: v + int64(g.spec.AllocationSize)}
	id, _ := g.block.take()
	return id, nil
}

func (g *tableGenerator) allocate(ctx context.Context, db bun.IDB) (int64, error) {
	s := g.spec
	for attempt := 0; attempt < maxKeyTableAttempts; attempt++ {
		var v int64
		err := db.NewRaw("SELECT ? FROM ? WHERE ? = ?",
			bun.Ident(s.ValueColumn), bun.Ident(s.Table), bun.Ident(s.PKColumn), s.PKValue).Scan(ctx, &v)
		if errors.Is(err, sql.ErrNoRows) {
			_, err = db.NewRaw("INSERT INTO ? (?, ?) VALUES (?, ?)",
				bun.Ident(s.Table), bun.Ident(s.PKColumn), bun.Ident(s.ValueColumn), s.PKValue, s.InitialValue).Exec(ctx)
			if err != nil {
				if _, category := database.IsSqlError(err); category == database.DuplicateKeyErr {
					continue
				}
				return 0, fmt.Errorf("failed to initialize key row %s: %w", s.PKValue, err)
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read key row %s: %w", s.PKValue, err)
		}

		res, err := db.NewRaw("UPDATE ? SET ? = ? WHERE ? = ? AND ? = ?",
			bun.Ident(s.Table), bun.Ident(s.ValueColumn), v+int64(s.AllocationSize),
			bun.Ident(s.PKColumn), s.PKValue, bun.Ident(s.ValueColumn), v).Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to advance key row %s: %w", s.PKValue, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrKeyTableContention, s.PKValue)
}

// reset drops a block allocated inside owner, whose rollback undid the
// key table update.
func (g *tableGenerator) reset(owner *Transaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner == owner {
		g.block = block{}
		g.owner = nil
	}
}

func (g *tableGenerator) release(owner *Transaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner == owner {
		g.owner = nil
	}
}

func (g *tableGenerator) Create(ctx context.Context, db bun.IDB) error {
	_, err := db.NewRaw("CREATE TABLE IF NOT EXISTS ? (? VARCHAR(255) NOT NULL PRIMARY KEY, ? BIGINT NOT NULL)",
		bun.Ident(g.spec.Table), bun.Ident(g.spec.PKColumn), bun.Ident(g.spec.ValueColumn)).Exec(ctx)
	return err
}

func (g *tableGenerator) Drop(ctx context.Context, db bun.IDB) error {
	_, err := db.NewRaw("DROP TABLE IF EXISTS ?", bun.Ident(g.spec.Table)).Exec(ctx)
	return err
}

// generatorRegistry shares generators between all sessions of a factory.
type generatorRegistry struct {
	mu         sync.Mutex
	isolated   *bun.DB
	generators map[string]keyGenerator
}

func newGeneratorRegistry(isolated *bun.DB) *generatorRegistry {
	return &generatorRegistry{
		isolated:   isolated,
		generators: make(map[string]keyGenerator),
	}
}

// get returns the generator for spec, or nil for assigned and identity keys.
func (r *generatorRegistry) get(spec GeneratorSpec) keyGenerator {
	var key string
	switch spec.Strategy {
	case GenerationSequence:
		key = "sequence:" + spec.SequenceName
	case GenerationTable:
		key = "table:" + spec.Table + "/" + spec.PKValue
	default:
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.generators[key]; ok {
		return g
	}
	var g keyGenerator
	if spec.Strategy == GenerationSequence {
		g = &sequenceGenerator{spec: spec}
	} else {
		g = &tableGenerator{spec: spec, isolated: r.isolated}
	}
	r.generators[key] = g
	return g
}

func (r *generatorRegistry) reset(owner *Transaction) {
	r.each(func(g *tableGenerator) { g.reset(owner) })
}

func (r *generatorRegistry) release(owner *Transaction) {
	r.each(func(g *tableGenerator) { g.release(owner) })
}

func (r *generatorRegistry) each(fn func(*tableGenerator)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.generators {
		if tg, ok := g.(*tableGenerator); ok {
			fn(tg)
		}
	}
}

// auxiliary returns one DDL object per sequence or key table, sorted by name.
func (r *generatorRegistry) auxiliary() []database.AuxiliaryObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]database.AuxiliaryObject)
	for _, g := range r.generators {
		if _, ok := seen[g.Name()]; !ok {
			seen[g.Name()] = g
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	objs := make([]database.AuxiliaryObject, 0, len(names))
	for _, name := range names {
		objs = append(objs, seen[name])
	}
	return objs
}
