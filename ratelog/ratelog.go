/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ratelog throttles a log call site so a client that spams
// malformed submissions cannot spam the log right along with it. Each
// Limiter instance owns one independent rate budget; callers typically
// keep one per call site (handler-level, writer-level, and so on), each
// ticking at the cadence that site needs.
package ratelog

import (
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
	"golang.org/x/time/rate"

	"github.com/gravwell/hwsurvey/ingest/log"
)

// Limiter wraps a *log.Logger with a token-bucket throttle: at most one
// log line escapes per tick, any calls in between are silently dropped.
// Burst is fixed at 1 — there is no allowance for bursts of log lines,
// only a steady trickle.
type Limiter struct {
	lgr *log.Logger
	rl  *rate.Limiter
	mtx sync.Mutex
}

// New returns a Limiter that allows at most one log line through every
// interval, backed by lgr.
func New(lgr *log.Logger, interval time.Duration) *Limiter {
	return &Limiter{
		lgr: lgr,
		rl:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Warn logs msg at WARN level if the rate budget allows it; otherwise it
// is a no-op.
func (l *Limiter) Warn(msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	allow := l.rl.Allow()
	l.mtx.Unlock()
	if allow {
		l.lgr.Warn(msg, sds...)
	}
}

// Error logs msg at ERROR level if the rate budget allows it; otherwise it
// is a no-op.
func (l *Limiter) Error(msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	allow := l.rl.Allow()
	l.mtx.Unlock()
	if allow {
		l.lgr.Error(msg, sds...)
	}
}
