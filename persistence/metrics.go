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

import "github.com/uber-go/tally/v4"

// metrics are the factory-wide statistics, reported under the
// "persistence" sub-scope.
type metrics struct {
	sessionsOpened tally.Counter
	sessionsClosed tally.Counter
	cacheHits      tally.Counter
	cacheMisses    tally.Counter
	flushes        tally.Counter
	inserts        tally.Counter
	updates        tally.Counter
	deletes        tally.Counter
	commits        tally.Counter
	rollbacks      tally.Counter
	flushLatency   tally.Timer
}

func newMetrics(scope tally.Scope) *metrics {
	s := scope.SubScope("persistence")
	return &metrics{
		sessionsOpened: s.Counter("sessions_opened"),
		sessionsClosed: s.Counter("sessions_closed"),
		cacheHits:      s.Counter("cache_hits"),
		cacheMisses:    s.Counter("cache_misses"),
		flushes:        s.Counter("flushes"),
		inserts:        s.Counter("entity_inserts"),
		updates:        s.Counter("entity_updates"),
		deletes:        s.Counter("entity_deletes"),
		commits:        s.Counter("commits"),
		rollbacks:      s.Counter("rollbacks"),
		flushLatency:   s.Timer("flush_latency"),
	}
}
