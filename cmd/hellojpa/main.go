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

package main

import (
	"context"
	"errors"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/tomoncle/hellopersist/model"
	"github.com/tomoncle/hellopersist/persistence"
	"github.com/tomoncle/hellopersist/utils"
)

var (
	app = kingpin.New("hellojpa", "Walks through the entity lifecycle against a persistence unit")

	descriptor = app.Flag("config", "persistence unit descriptor").
			Short('c').
			Default(persistence.DefaultDescriptorPath).
			Envar("HELLOJPA_CONFIG").
			String()

	unit = app.Flag("unit", "persistence unit name").
		Short('u').
		Default("hello").
		String()

	logLevel = app.Flag("log-level", "trace, debug, info, warn or error").
			Default("info").
			Envar("LOG_LEVEL").
			String()
)

var log = utils.NewLogger("HELLOJPA")

func main() {
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))
	utils.SetAllLoggersLevel(*logLevel)

	ctx := context.Background()
	factory, err := persistence.CreateFactory(ctx, *unit, persistence.WithDescriptor(*descriptor))
	if err != nil {
		log.WithError(err).Fatal("Failed to create session factory")
	}

	err = run(ctx, factory)
	err = multierr.Append(err, factory.Close())
	if err != nil {
		log.WithError(err).Error("hellojpa failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, factory *persistence.Factory) (err error) {
	session, err := factory.CreateSession(ctx)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, session.Close()) }()

	tx := session.Transaction()
	if err := tx.Begin(ctx); err != nil {
		return err
	}
	if _, err := lifecycle(ctx, session); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	return tx.Commit(ctx)
}

// walkthrough records the instances lifecycle touched. Members that were
// not seeded stay nil.
type walkthrough struct {
	page     []*model.Member
	created  *model.Member
	cached   *model.Member
	detached *model.Member
	removed  *model.Member
}

func lifecycle(ctx context.Context, session *persistence.Session) (*walkthrough, error) {
	w := &walkthrough{}
	var err error
	w.page, err = persistence.CreateQuery[model.Member](session).
		Order("id").
		SetFirstResult(1).
		SetMaxResults(10).
		GetResultList(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range w.page {
		log.WithField("id", m.ID).Infof("member.name = %s", m.Username)
	}

	w.created = model.NewMember(100, "HelloJPA2")
	w.created.RoleType = model.RoleUser
	if err := session.Persist(ctx, w.created); err != nil {
		return nil, err
	}

	w.cached, err = persistence.Find[model.Member](ctx, session, 100)
	if err != nil {
		return nil, err
	}
	log.WithField("same_instance", w.cached == w.created).Info("found member 100 in the persistence context")

	loaded, err := persistence.Find[model.Member](ctx, session, 200)
	if errors.Is(err, persistence.ErrEntityNotFound) {
		log.Warn("member 200 is not seeded, skipping detach and remove")
		return w, nil
	}
	if err != nil {
		return nil, err
	}
	log.WithField("id", loaded.ID).Infof("loaded member %s", loaded.Username)

	if err := session.Detach(loaded); err != nil {
		return nil, err
	}
	loaded.Username = "never written"
	w.detached = loaded

	victim, err := persistence.Find[model.Member](ctx, session, 201)
	switch {
	case errors.Is(err, persistence.ErrEntityNotFound):
		return w, nil
	case err != nil:
		return nil, err
	}
	if err := session.Remove(victim); err != nil {
		return nil, err
	}
	w.removed = victim
	return w, nil
}
