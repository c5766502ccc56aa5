/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package writer owns the bounded work queue between the HTTP ingestion
// handler and the database: it resolves dimension UUIDs, buckets
// submissions by day, and fans each one out across the four metrics
// tables concurrently.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gravwell/hwsurvey/anonymization"
	"github.com/gravwell/hwsurvey/ingest/log"
	"github.com/gravwell/hwsurvey/payload"
	"github.com/gravwell/hwsurvey/ratelog"
	"github.com/gravwell/hwsurvey/store"
)

// queueDepth bounds how many submissions may be buffered ahead of the
// database. Past this, the HTTP handler sheds load rather than blocking a
// request goroutine on a slow database.
const queueDepth = 1000

// ErrQueueFull is returned by Send when the queue is saturated.
var ErrQueueFull = errors.New("writer: queue is full")

// dayFormat buckets submissions to a calendar day in UTC.
const dayFormat = "2006-01-02"

// WorkItem is one parsed, ready-to-persist submission.
type WorkItem struct {
	Token      uuid.UUID
	IP         string
	Country    string
	Payload    payload.PayloadV1
	ReceivedAt time.Time
}

// Writer consumes WorkItems from a bounded channel and persists them.
// dbHandle is the subset of *pgxpool.Pool the writer needs: upserts plus
// the health-check ping. Declared here (rather than taking *pgxpool.Pool
// directly) so tests can substitute a fake without a live Postgres.
type dbHandle interface {
	store.Querier
	Ping(ctx context.Context) error
}

type Writer struct {
	pool  dbHandle
	cache *store.UuidCache
	stmts *store.StatementCache
	lgr   *log.Logger
	rl    *ratelog.Limiter

	items chan WorkItem
}

// New constructs a Writer. pool is used both for the upserts themselves
// (it satisfies store.Querier) and for periodic health checks.
func New(pool *pgxpool.Pool, cache *store.UuidCache, stmts *store.StatementCache, lgr *log.Logger) *Writer {
	return &Writer{
		pool:  pool,
		cache: cache,
		stmts: stmts,
		lgr:   lgr,
		rl:    ratelog.New(lgr, 30*time.Second),
		items: make(chan WorkItem, queueDepth),
	}
}

// Send enqueues item without blocking. If the queue is full it returns
// ErrQueueFull immediately rather than applying backpressure to the
// caller — the HTTP handler that calls this must not block a request
// goroutine on a slow database.
func (w *Writer) Send(item WorkItem) error {
	select {
	case w.items <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is canceled or the database is judged
// unreachable, in which case it returns a non-nil error so the caller can
// treat it as fatal. It is meant to run in its own goroutine from main.
func (w *Writer) Run(ctx context.Context) error {
	healthCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 1)
	go w.superviseHealth(healthCtx, fatal)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-fatal:
			return err
		case item := <-w.items:
			w.process(ctx, item)
		}
	}
}

// process resolves dimensions for one item and fans its four table
// upserts out concurrently. A missing application mapping drops the item
// with a rate-limited warning; every other failure is logged (rate-limited)
// and the remaining tables still get their chance.
func (w *Writer) process(ctx context.Context, item WorkItem) {
	appID, ok := w.cache.Application(item.Payload.ApplicationName)
	if !ok {
		w.rl.Warn("dropping submission for unregistered application",
			log.KV("application", item.Payload.ApplicationName))
		return
	}

	osID := w.cache.OS(anonymization.NormalizeOS(item.Payload.OS))
	mfgID := w.cache.CPUManufacturer(anonymization.NormalizeManufacturer(item.Payload.Simdsp.CPUManufacturer))
	archID := w.cache.Architecture(anonymization.NormalizeArch(item.Payload.Simdsp.CPUArchitecture))
	day := item.ReceivedAt.UTC().Format(dayFormat)

	ip := item.IP
	if ip == "" {
		ip = store.UnknownIP
	}
	machineID := item.Payload.MachineID

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		c := item.Payload.Simdsp.CPUCapabilities
		w.upsert(ctx, store.TableCPUCapabilities, []any{
			day, appID, osID, mfgID, archID,
			c.X86SSE2, c.X86SSE3, c.X86SSSE3, c.X86SSE41,
			c.X86FMA3, c.X86AVX, c.X86AVX2, c.X86AVX512F,
		}, machineID, ip)
	}()

	go func() {
		defer wg.Done()
		ci := item.Payload.Simdsp.CacheInfo
		w.upsert(ctx, store.TableCPUCaches, []any{
			day, appID,
			anonymization.RoundCache(ci.L1I), anonymization.RoundCache(ci.L1D), anonymization.RoundCache(ci.L1U),
			anonymization.RoundCache(ci.L2I), anonymization.RoundCache(ci.L2D), anonymization.RoundCache(ci.L2U),
			anonymization.RoundCache(ci.L3I), anonymization.RoundCache(ci.L3D), anonymization.RoundCache(ci.L3U),
		}, machineID, ip)
	}()

	go func() {
		defer wg.Done()
		w.upsert(ctx, store.TableMemory, []any{
			day, appID, anonymization.RoundMem(item.Payload.Memory.Total),
		}, machineID, ip)
	}()

	go func() {
		defer wg.Done()
		country := item.Country
		if country == "" {
			country = "XX"
		}
		if len(country) != 2 {
			w.rl.Warn("dropping cf_country branch for malformed country code",
				log.KV("country", country))
			return
		}
		w.upsert(ctx, store.TableCFCountry, []any{
			day, appID, country,
		}, machineID, ip)
	}()

	wg.Wait()
}

func (w *Writer) upsert(ctx context.Context, table store.Table, factors []any, machineID, ip string) {
	if err := w.stmts.Upsert(ctx, w.pool, table, factors, machineID, ip); err != nil {
		w.rl.Error("upsert failed", log.KV("table", string(table)), log.KVErr(err))
	}
}

// superviseHealth pings the pool on an interval. Once consecutive
// failures reach maxHealthFailure it writes a fatal error to fatal and
// returns, which Run propagates to its caller so the process can exit
// rather than spin forever against a database that is gone for good.
func (w *Writer) superviseHealth(ctx context.Context, fatal chan<- error) {
	const (
		checkInterval    = 30 * time.Second
		pingTimeout      = 5 * time.Second
		maxHealthFailure = 5
	)

	failures := 0
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := w.pool.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			w.rl.Error("database health check failed",
				log.KV("consecutive_failures", failures), log.KVErr(err))
			if failures >= maxHealthFailure {
				select {
				case fatal <- fmt.Errorf("writer: database unreachable after %d consecutive health checks: %w", maxHealthFailure, err):
				default:
				}
				return
			}
		}
	}
}
