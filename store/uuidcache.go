/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package store owns the dimension-UUID lookup and the per-table prepared
// statement cache that the writer uses to turn a WorkItem into database
// rows.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const unknownName = "unknown"

// ErrMissingUnknownRow is returned at startup if a dimension table lacks
// the mandatory "unknown" row.
var ErrMissingUnknownRow = errors.New("store: dimension table is missing its \"unknown\" row")

// dimTable is one of the four dimension lookup tables loaded at startup.
type dimTable struct {
	name    string
	byName  map[string]uuid.UUID
	unknown uuid.UUID
}

func loadDimTable(ctx context.Context, pool *pgxpool.Pool, table string) (*dimTable, error) {
	rows, err := pool.Query(ctx, fmt.Sprintf(`SELECT id, name FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", table, err)
	}
	defer rows.Close()

	dt := &dimTable{name: table, byName: make(map[string]uuid.UUID)}
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		dt.byName[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}

	unk, ok := dt.byName[unknownName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingUnknownRow, table)
	}
	dt.unknown = unk
	return dt, nil
}

// UuidCache holds the four dimension string->UUID mappings, loaded once at
// startup and immutable thereafter. It requires no synchronization for
// reads once constructed.
type UuidCache struct {
	application     *dimTable
	os              *dimTable
	cpuManufacturer *dimTable
	cpuArchitecture *dimTable
}

// NewUuidCacheForTesting builds a UuidCache directly from in-memory maps,
// bypassing the database. Each map must contain an "unknown" entry, same
// as the real tables. It exists for tests elsewhere in this module that
// need a UuidCache without a live Postgres.
func NewUuidCacheForTesting(application, os, cpuManufacturer, cpuArchitecture map[string]uuid.UUID) (*UuidCache, error) {
	mk := func(name string, m map[string]uuid.UUID) (*dimTable, error) {
		unk, ok := m[unknownName]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingUnknownRow, name)
		}
		return &dimTable{name: name, byName: m, unknown: unk}, nil
	}
	app, err := mk("application", application)
	if err != nil {
		return nil, err
	}
	o, err := mk("os", os)
	if err != nil {
		return nil, err
	}
	mfg, err := mk("cpu_manufacturer", cpuManufacturer)
	if err != nil {
		return nil, err
	}
	arch, err := mk("cpu_architecture", cpuArchitecture)
	if err != nil {
		return nil, err
	}
	return &UuidCache{application: app, os: o, cpuManufacturer: mfg, cpuArchitecture: arch}, nil
}

// LoadUuidCache loads all four dimension tables from the database. It
// fails if any table is missing its "unknown" row.
func LoadUuidCache(ctx context.Context, pool *pgxpool.Pool) (*UuidCache, error) {
	app, err := loadDimTable(ctx, pool, "application")
	if err != nil {
		return nil, err
	}
	os, err := loadDimTable(ctx, pool, "os")
	if err != nil {
		return nil, err
	}
	mfg, err := loadDimTable(ctx, pool, "cpu_manufacturer")
	if err != nil {
		return nil, err
	}
	arch, err := loadDimTable(ctx, pool, "cpu_architecture")
	if err != nil {
		return nil, err
	}
	return &UuidCache{application: app, os: os, cpuManufacturer: mfg, cpuArchitecture: arch}, nil
}

// Application resolves an application name to its UUID. Unlike the other
// three dimensions, an unregistered application does NOT fall back to
// "unknown" — the server refuses data for applications it doesn't know
// about, so ok is false and the writer must drop the item.
func (c *UuidCache) Application(name string) (id uuid.UUID, ok bool) {
	id, ok = c.application.byName[name]
	return
}

// OS resolves an OS name to its UUID, falling back to the os table's own
// "unknown" row if the name is not present.
func (c *UuidCache) OS(name string) uuid.UUID {
	if id, ok := c.os.byName[name]; ok {
		return id
	}
	return c.os.unknown
}

// CPUManufacturer resolves a manufacturer name to its UUID, falling back
// to the cpu_manufacturer table's own "unknown" row.
//
// The original implementation this pipeline is modeled on fell back to the
// os table's unknown row here instead of cpu_manufacturer's — an
// observable bug. This implementation intentionally does not reproduce it.
func (c *UuidCache) CPUManufacturer(name string) uuid.UUID {
	if id, ok := c.cpuManufacturer.byName[name]; ok {
		return id
	}
	return c.cpuManufacturer.unknown
}

// Architecture resolves an architecture name to its UUID, falling back to
// the cpu_architecture table's own "unknown" row.
//
// Same note as CPUManufacturer: the original fell back to the os table's
// unknown row here. Not reproduced.
func (c *UuidCache) Architecture(name string) uuid.UUID {
	if id, ok := c.cpuArchitecture.byName[name]; ok {
		return id
	}
	return c.cpuArchitecture.unknown
}
