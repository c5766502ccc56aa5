/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command hwsurveyd is the ingestion server: it serves POST /submit/v1,
// resolves each submission's dimensions, and merges it into the HLL
// sketches backing the hardware-survey dashboards.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gravwell/hwsurvey/config"
	"github.com/gravwell/hwsurvey/httpapi"
	"github.com/gravwell/hwsurvey/ingest/log"
	"github.com/gravwell/hwsurvey/store"
	"github.com/gravwell/hwsurvey/utils"
	"github.com/gravwell/hwsurvey/writer"
)

func main() {
	os.Exit(run())
}

func run() int {
	address := flag.String("address", "127.0.0.1", "address to listen on")
	port := flag.Uint("port", 10000, "port to listen on")
	flag.Parse()

	lgr := log.New(os.Stderr)
	lgr.SetLevel(log.INFO)

	var dbURL string
	if err := config.LoadEnvVar(&dbURL, "DATABASE_URL", nil); err != nil || dbURL == "" {
		lgr.Fatal("DATABASE_URL environment variable is required", log.KVErr(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		lgr.Error("failed to create database pool", log.KVErr(err))
		return 1
	}
	defer pool.Close()

	cache, err := store.LoadUuidCache(ctx, pool)
	if err != nil {
		lgr.Error("failed to load dimension caches", log.KVErr(err))
		return 1
	}

	w := writer.New(pool, cache, store.NewStatementCache(), lgr)

	srv := &http.Server{
		Addr:    net.JoinHostPort(*address, strconv.FormatUint(uint64(*port), 10)),
		Handler: httpapi.NewHandler(w, lgr),
	}

	writerErr := make(chan error, 1)
	go func() { writerErr <- w.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		lgr.Info("listening", log.KV("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := utils.GetQuitChannel()

	select {
	case sig := <-quit:
		lgr.Info("received signal, shutting down", log.KV("signal", fmt.Sprint(sig)))
	case err := <-writerErr:
		lgr.Error("writer exited fatally, shutting down", log.KVErr(err))
		cancel()
		shutdown(srv, lgr)
		return 1
	case err := <-serveErr:
		lgr.Error("http server exited unexpectedly", log.KVErr(err))
		cancel()
		return 1
	}

	cancel()
	shutdown(srv, lgr)
	return 0
}

func shutdown(srv *http.Server, lgr *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lgr.Error("error during http server shutdown", log.KVErr(err))
	}
}
