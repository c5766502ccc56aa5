/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package httpapi is the HTTP ingestion surface: a single endpoint that
// decodes a survey submission and hands it to the writer's queue.
package httpapi

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/google/uuid"

	"github.com/gravwell/hwsurvey/ingest/log"
	"github.com/gravwell/hwsurvey/payload"
	"github.com/gravwell/hwsurvey/ratelog"
	"github.com/gravwell/hwsurvey/writer"
)

// maxBodyBytes caps a submission body well above any real payload's size
// while still refusing anything built to exhaust memory.
const maxBodyBytes = 10240

// sender is the minimum a Writer must offer this handler; it lets tests
// substitute a fake.
type sender interface {
	Send(writer.WorkItem) error
}

// Handler serves POST /submit/v1.
type Handler struct {
	w   sender
	rl  *ratelog.Limiter
	mux *http.ServeMux
}

// NewHandler builds the ingestion handler. w receives every well-formed
// submission; lgr backs the handler's rate-limited rejection logging.
func NewHandler(w sender, lgr *log.Logger) http.Handler {
	h := &Handler{
		w:  w,
		rl: ratelog.New(lgr, 3*time.Second),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit/v1", h.submit)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(rw, r)
}

// submit decodes one hardware-survey envelope and enqueues it. Every
// failure path responds 400 and logs (rate-limited) rather than ever
// panicking or hanging a request goroutine on a full queue.
func (h *Handler) submit(rw http.ResponseWriter, r *http.Request) {
	token, err := uuid.Parse(r.URL.Query().Get("token"))
	if err != nil {
		h.reject(rw, "missing or malformed token", log.KVErr(err))
		return
	}

	r.Body = http.MaxBytesReader(rw, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.reject(rw, "failed reading submission body", log.KVErr(err))
		return
	}

	var env payload.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.reject(rw, "failed decoding submission envelope", log.KVErr(err))
		return
	}
	if env.V1 == nil {
		h.reject(rw, "submission envelope carried no payload")
		return
	}

	item := writer.WorkItem{
		Token:      token,
		IP:         clientIP(r),
		Country:    r.Header.Get("CF-IPCountry"),
		Payload:    *env.V1,
		ReceivedAt: time.Now().UTC(),
	}

	if err := h.w.Send(item); err != nil {
		h.reject(rw, "submission queue is full", log.KVErr(err))
		return
	}

	rw.WriteHeader(http.StatusOK)
}

func (h *Handler) reject(rw http.ResponseWriter, msg string, sds ...rfc5424.SDParam) {
	h.rl.Warn(msg, sds...)
	rw.WriteHeader(http.StatusBadRequest)
}

// clientIP prefers Cloudflare's forwarded-IP header, falling back to the
// connection's own remote address with its ephemeral source port
// stripped — the port varies per connection even for the same client, and
// it ends up hashed into the users_by_ip HLL sketch (writer.process),
// where a varying port would make one client look like many.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
