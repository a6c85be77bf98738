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
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"github.com/uptrace/bun"

	"github.com/tomoncle/hellopersist/database"
)

// QueryRecorder collects executed statements by their leading keyword.
type QueryRecorder struct {
	mu      sync.Mutex
	ops     []string
	queries []string
}

var _ bun.QueryHook = (*QueryRecorder)(nil)

func (r *QueryRecorder) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (r *QueryRecorder) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	op := ""
	if fields := strings.Fields(event.Query); len(fields) > 0 {
		op = strings.ToUpper(fields[0])
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	r.queries = append(r.queries, event.Query)
}

func (r *QueryRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
	r.queries = nil
}

func (r *QueryRecorder) Count(op string) int {
	return len(r.Queries(op))
}

func (r *QueryRecorder) Queries(op string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for i, o := range r.ops {
		if o == op {
			out = append(out, r.queries[i])
		}
	}
	return out
}

// Ops returns the leading keyword of every statement, skipping transaction
// control.
func (r *QueryRecorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, o := range r.ops {
		switch o {
		case "BEGIN", "COMMIT", "ROLLBACK":
			continue
		}
		out = append(out, o)
	}
	return out
}

// OpenMemoryFactory builds a factory over a private in-memory SQLite
// database with the given models, closed when the test ends.
func OpenMemoryFactory(t *testing.T, models []database.SQLModel, opts ...Option) (*Factory, *QueryRecorder) {
	t.Helper()
	rec := &QueryRecorder{}
	opts = append([]Option{WithModels(models...), WithQueryHook(rec)}, opts...)
	f, err := NewFactory(context.Background(), database.MemoryConfig(t.Name()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	rec.Reset()
	return f, rec
}

// CounterValue sums the test scope counters called name whose tags include tags.
func CounterValue(scope tally.TestScope, name string, tags map[string]string) int64 {
	var total int64
	for _, c := range scope.Snapshot().Counters() {
		if c.Name() != name {
			continue
		}
		match := true
		for k, v := range tags {
			if c.Tags()[k] != v {
				match = false
				break
			}
		}
		if match {
			total += c.Value()
		}
	}
	return total
}

// BeginSession opens a session with an active transaction.
func BeginSession(t *testing.T, f *Factory) *Session {
	t.Helper()
	s, err := f.CreateSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Transaction().Begin(context.Background()))
	return s
}
