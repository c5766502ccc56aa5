/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// Table names the four metrics tables this pipeline writes to. The factor
// list for each is part of the table's contract and must be stable across
// the process lifetime — see Factors.
type Table string

const (
	TableCPUCapabilities Table = "cpu_capabilities"
	TableCPUCaches       Table = "cpu_caches"
	TableMemory          Table = "memory"
	TableCFCountry       Table = "cf_country"
)

// Factors lists, in $1..$n order, the non-HLL columns for each table. This
// is fixed at construction rather than derived from caller input: the
// "same table name always implies the same factor list" invariant
// (spec.md §3/§9) is structural here, not merely documented.
var Factors = map[Table][]string{
	TableCPUCapabilities: {
		"day", "application", "os", "cpu_manufacturer", "architecture",
		"x86_sse2", "x86_sse3", "x86_ssse3", "x86_sse4_1",
		"x86_fma3", "x86_avx", "x86_avx2", "x86_avx512f",
	},
	TableCPUCaches: {
		"day", "application",
		"l1i", "l1d", "l1u", "l2i", "l2d", "l2u", "l3i", "l3d", "l3u",
	},
	TableMemory: {
		"day", "application", "total_memory",
	},
	TableCFCountry: {
		"day", "application", "country",
	},
}

// Querier is the subset of *pgxpool.Pool the statement cache needs. It
// exists so tests can substitute a fake without a live Postgres.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Statement is a built, cached upsert for one table.
type Statement struct {
	Table   Table
	Factors []string
	SQL     string
}

// buildUpsertSQL renders the INSERT ... ON CONFLICT ... DO UPDATE template
// from spec.md §4.4 for the given table and factor list. $<n+1> and $<n+2>
// are, respectively, the machine-id hash input and the IP hash input.
func buildUpsertSQL(table Table, factors []string) string {
	n := len(factors)

	placeholders := make([]string, n)
	setList := make([]string, n)
	for i, f := range factors {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		setList[i] = f
	}

	return fmt.Sprintf(
		`INSERT INTO %s AS t (%s, users_by_id, users_by_ip)
VALUES (%s,
        hll_empty() || hll_hash_text($%d),
        hll_empty() || hll_hash_text($%d))
ON CONFLICT ON CONSTRAINT %s_upsert_constraint DO UPDATE SET
  (users_by_id, users_by_ip) = (
     t.users_by_id || hll_hash_text($%d),
     t.users_by_ip || hll_hash_text($%d)
  )`,
		table, strings.Join(setList, ", "),
		strings.Join(placeholders, ", "), n+1, n+2,
		table, n+1, n+2,
	)
}

// StatementCache is a mutex-protected map of table name -> built upsert
// statement, populated lazily on first use and never evicted. The lock is
// held only for the lookup/insert window, never across a query.
type StatementCache struct {
	mtx   sync.Mutex
	stmts map[Table]*Statement
}

// NewStatementCache returns an empty statement cache.
func NewStatementCache() *StatementCache {
	return &StatementCache{stmts: make(map[Table]*Statement)}
}

// get returns the cached statement for table, building and caching it on
// first use.
func (c *StatementCache) get(table Table) (*Statement, error) {
	c.mtx.Lock()
	if s, ok := c.stmts[table]; ok {
		c.mtx.Unlock()
		return s, nil
	}
	c.mtx.Unlock()

	factors, ok := Factors[table]
	if !ok {
		return nil, fmt.Errorf("store: unknown table %q", table)
	}
	s := &Statement{
		Table:   table,
		Factors: factors,
		SQL:     buildUpsertSQL(table, factors),
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	if existing, ok := c.stmts[table]; ok {
		return existing, nil
	}
	c.stmts[table] = s
	return s, nil
}

// Upsert executes the cached upsert for table, merging machineID and ip
// into the row's two HLL sketches. factorValues must be supplied in the
// same order as Factors[table].
func (c *StatementCache) Upsert(ctx context.Context, q Querier, table Table, factorValues []any, machineID, ip string) error {
	stmt, err := c.get(table)
	if err != nil {
		return err
	}
	if len(factorValues) != len(stmt.Factors) {
		return fmt.Errorf("store: %s expects %d factors, got %d", table, len(stmt.Factors), len(factorValues))
	}
	args := append(append([]any{}, factorValues...), machineID, ip)
	_, err = q.Exec(ctx, stmt.SQL, args...)
	return err
}

// UnknownIP is substituted for the resolved caller IP when none is known.
const UnknownIP = "123.123.123.123"
