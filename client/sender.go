/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/gravwell/hwsurvey/hostfacts"
	"github.com/gravwell/hwsurvey/ingest/log"
	"github.com/gravwell/hwsurvey/payload"
	"github.com/gravwell/hwsurvey/simdsp"
)

const (
	submitSubPath = "/submit/v1"

	// retryDur and jitterBase feed computeSleep's (base + jitter)^attempt
	// formula below. This deliberately reproduces the original client's
	// overflow-prone retry curve rather than a conventional bounded
	// exponential backoff — see computeSleep.
	retryDur   = 30 * time.Second
	jitterBase = 20 * time.Second

	// requestTimeout is generous because voyager may be calling home from
	// anywhere in the world to a single regional endpoint.
	requestTimeout = 30 * time.Second

	defaultMaxAttempts = 5

	maxLoggedBodyBytes = 1024
)

// Sender builds a payload from the local host and ships it to an
// hwsurveyd endpoint, retrying on transport failure.
type Sender struct {
	appName string
	hf      hostfacts.Source
	sd      simdsp.Source
	hc      *http.Client
	lgr     *log.Logger
	rnd     *rand.Rand
}

// NewSender constructs a Sender for appName using hf/sd to build each
// outgoing payload.
func NewSender(appName string, hf hostfacts.Source, sd simdsp.Source, lgr *log.Logger) *Sender {
	return &Sender{
		appName: appName,
		hf:      hf,
		sd:      sd,
		hc:      &http.Client{},
		lgr:     lgr,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SendSynchronously builds a fresh payload and attempts delivery up to
// maxAttempts times, sleeping between attempts per computeSleep. It
// returns an error if the URL or payload cannot be prepared, if every
// attempt has been exhausted, if a retry sleep cannot be computed, or if
// ctx is canceled while waiting between attempts.
func (s *Sender) SendSynchronously(ctx context.Context, rawURL, token string, maxAttempts int) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing target url: %w", err)
	}
	target = target.JoinPath(submitSubPath)
	q := target.Query()
	q.Set("token", token)
	target.RawQuery = q.Encode()

	p, err := BuildPayload(s.appName, s.hf, s.sd)
	if err != nil {
		return fmt.Errorf("building payload: %w", err)
	}
	body, err := json.Marshal(payload.Envelope{Version: "v1", V1: &p})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.attempt(ctx, target.String(), body); err != nil {
			lastErr = err
			s.lgr.Warn("error sending metrics, retrying", log.KVErr(err))
			if attempt == maxAttempts {
				return fmt.Errorf("unable to send: %w", lastErr)
			}
			sleep, serr := s.computeSleep(attempt)
			if serr != nil {
				return serr
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			continue
		}
		s.lgr.Info("sent metrics")
		return nil
	}
	return fmt.Errorf("unable to send: %w", lastErr)
}

// SendMetrics fires off a best-effort SendSynchronously in the background
// with the default retry budget; callers that don't need to know whether
// the report ever landed use this.
func (s *Sender) SendMetrics(rawURL, token string) {
	go func() {
		if err := s.SendSynchronously(context.Background(), rawURL, token, defaultMaxAttempts); err != nil {
			s.lgr.Warn("unable to send metrics", log.KVErr(err))
		}
	}()
}

// attempt performs one HTTP POST. A transport-level failure (timeout,
// connection refused, DNS, ...) is returned as an error so the caller
// retries. A non-2xx HTTP response is logged and treated as success: the
// server was reachable and answered, which is all this loop promises.
func (s *Sender) attempt(ctx context.Context, target string, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, rerr := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBodyBytes))
		if rerr != nil {
			respBody = []byte("unable to read body")
		}
		s.lgr.Warn("got non-2xx status from server",
			log.KV("status", resp.StatusCode), log.KV("body", string(respBody)))
	}
	return nil
}

// computeSleep reproduces the original client's retry curve exactly:
// sleep = (30 + jitter)^attempt seconds, where jitter is uniform on
// [10s, 30s). This grows far faster than a conventional exponential
// backoff and is known to overflow past a handful of attempts; it is
// kept as-is rather than "fixed" because the retry budget this pipeline
// uses (5 attempts) never reaches the range where that matters.
func (s *Sender) computeSleep(attempt int) (time.Duration, error) {
	jitter, err := s.computeJitter()
	if err != nil {
		return 0, err
	}
	base := retryDur.Seconds() + jitter.Seconds()
	candidate := math.Pow(base, float64(attempt))
	if err := checkFinitePositive(candidate); err != nil {
		return 0, fmt.Errorf("computing retry sleep: %w", err)
	}
	return time.Duration(candidate * float64(time.Second)), nil
}

func (s *Sender) computeJitter() (time.Duration, error) {
	frac := 0.5 + s.rnd.Float64() // uniform on [0.5, 1.5)
	candidate := jitterBase.Seconds() * frac
	if err := checkFinitePositive(candidate); err != nil {
		return 0, fmt.Errorf("computing jitter: %w", err)
	}
	return time.Duration(candidate * float64(time.Second)), nil
}

func checkFinitePositive(v float64) error {
	if v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Errorf("unable to compute retry duration: %v", v)
	}
	return nil
}
