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
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/uber-go/tally/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.uber.org/multierr"

	"github.com/tomoncle/hellopersist/database"
)

// DefaultDescriptorPath is where CreateFactory looks for persistence units.
const DefaultDescriptorPath = "configs/persistence.yaml"

var (
	factoriesMu sync.Mutex
	factories   = map[string]*Factory{}
)

type options struct {
	logger     database.Logger
	scope      tally.Scope
	registry   database.ModelRegistry
	descriptor string
	hooks      []bun.QueryHook
}

type Option func(*options)

func WithLogger(logger database.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithScope reports session and SQL statistics to scope.
func WithScope(scope tally.Scope) Option {
	return func(o *options) { o.scope = scope }
}

// WithModels restricts the factory to the given models instead of
// database.DefaultRegistry.
func WithModels(models ...database.SQLModel) Option {
	return func(o *options) { o.registry = database.NewModelRegistry(models...) }
}

func WithDescriptor(path string) Option {
	return func(o *options) { o.descriptor = path }
}

// WithQueryHook installs a bun query hook before the schema is applied.
func WithQueryHook(hook bun.QueryHook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hook) }
}

// Factory owns the connection pool, the model metadata and the key
// generators of one persistence unit, and produces sessions. It is safe for
// concurrent use.
type Factory struct {
	name       string
	config     *database.Config
	dbFactory  *database.BaseDatabaseFactory
	db         *bun.DB
	registry   database.ModelRegistry
	generators *generatorRegistry
	metadata   *metadataCache
	logger     database.Logger
	metrics    *metrics
	flushMode  FlushMode
	singleton  bool

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// CreateFactory returns the factory of the named persistence unit, reading
// the descriptor and connecting on first use. Later calls with the same
// name return the same factory until it is closed.
func CreateFactory(ctx context.Context, unitName string, opts ...Option) (*Factory, error) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f, ok := factories[unitName]; ok {
		return f, nil
	}

	o := buildOptions(opts)
	cfg, err := database.LoadPersistenceUnit(o.descriptor, unitName)
	if err != nil {
		return nil, err
	}
	f, err := newFactory(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	f.singleton = true
	factories[unitName] = f
	return f, nil
}

// NewFactory builds a factory that is not shared through CreateFactory.
func NewFactory(ctx context.Context, cfg *database.Config, opts ...Option) (*Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("persistence unit configuration cannot be empty")
	}
	return newFactory(ctx, cfg, buildOptions(opts))
}

func buildOptions(opts []Option) *options {
	o := &options{descriptor: DefaultDescriptorPath}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = database.NewDefaultLogger("PERSISTENCE")
	}
	if o.scope == nil {
		o.scope = tally.NoopScope
	}
	if o.registry == nil {
		o.registry = database.DefaultRegistry()
	}
	return o
}

func newFactory(ctx context.Context, cfg *database.Config, o *options) (*Factory, error) {
	dbFactory, err := database.NewDatabaseFactory(cfg, o.registry)
	if err != nil {
		return nil, err
	}
	dbFactory.AddQueryHook(database.NewMetricsHook(o.scope))
	for _, hook := range o.hooks {
		dbFactory.AddQueryHook(hook)
	}
	if err := dbFactory.Connect(ctx); err != nil {
		return nil, err
	}
	db := dbFactory.DB()

	// SQLite has a single writer, so key blocks are taken inside the
	// caller's transaction there.
	var isolated *bun.DB
	if db.Dialect().Name() != dialect.SQLite {
		isolated = db
	}

	f := &Factory{
		name:       cfg.Name,
		config:     cfg,
		dbFactory:  dbFactory,
		db:         db,
		registry:   o.registry,
		generators: newGeneratorRegistry(isolated),
		logger:     o.logger,
		metrics:    newMetrics(o.scope),
		flushMode:  ParseFlushMode(cfg.SessionConfig.FlushMode),
	}
	f.metadata = newMetadataCache(db, f.registry, f.generators)

	if err := f.prepare(ctx); err != nil {
		return nil, multierr.Append(err, dbFactory.Close(ctx))
	}

	o.logger.Info("Session factory created",
		"unit", cfg.Name,
		"type", cfg.ConnectionConfig.Type,
		"schema", cfg.SchemaConfig.Action,
		"models", len(f.registry.Models()),
		"flush_mode", f.flushMode)
	return f, nil
}

// prepare resolves the registered models so that their key generators
// exist before the database factory creates the schema and seeds it.
func (f *Factory) prepare(ctx context.Context) error {
	for _, inst := range f.registry.Instances() {
		if _, err := f.metadata.get(structType(inst)); err != nil {
			return err
		}
	}
	for _, aux := range f.generators.auxiliary() {
		f.dbFactory.AddAuxiliary(aux)
	}
	return f.dbFactory.Prepare(ctx)
}

// CreateSession opens a new persistence context with its own transaction.
func (f *Factory) CreateSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !f.IsOpen() {
		return nil, ErrFactoryClosed
	}
	s := &Session{
		id:        uuid.NewString(),
		factory:   f,
		db:        f.db,
		pc:        newPersistenceContext(),
		flushMode: f.flushMode,
		logger:    f.logger,
		metrics:   f.metrics,
	}
	s.tx = &Transaction{session: s}
	f.metrics.sessionsOpened.Inc(1)
	f.logger.Debug("Session opened", "session", s.id, "unit", f.name)
	return s, nil
}

func (f *Factory) Name() string {
	return f.name
}

// DB exposes the underlying connection for statements outside any session.
func (f *Factory) DB() *bun.DB {
	return f.db
}

func (f *Factory) IsOpen() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.closed
}

func (f *Factory) Health(ctx context.Context) *database.HealthStatus {
	return f.dbFactory.Health(ctx)
}

func (f *Factory) Stats() *database.DBStats {
	return f.dbFactory.Stats()
}

// Close drops the schema for create-drop units and closes the pool. It is
// safe to call more than once.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()

		f.closeErr = f.dbFactory.Close(context.Background())
		if f.singleton {
			factoriesMu.Lock()
			if factories[f.name] == f {
				delete(factories, f.name)
			}
			factoriesMu.Unlock()
		}
		f.logger.Info("Session factory closed", "unit", f.name)
	})
	return f.closeErr
}

func structType(instance interface{}) reflect.Type {
	t := reflect.TypeOf(instance)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
