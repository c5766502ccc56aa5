package client

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravwell/hwsurvey/ingest/log"
	"github.com/gravwell/hwsurvey/payload"
)

func deterministicRand() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

type fixedHostfacts struct{}

func (fixedHostfacts) TotalMemory() (uint64, error) { return 16 << 30, nil }
func (fixedHostfacts) OS() string                   { return "linux" }
func (fixedHostfacts) Hostname() (string, error)    { return "test-host", nil }
func (fixedHostfacts) MACAddress() (string, error)  { return "aabbccddeeff", nil }

type fixedSimdsp struct{}

func (fixedSimdsp) Detect() (payload.CPUInfo, error) {
	return payload.CPUInfo{CPUManufacturer: "intel", CPUArchitecture: "x86_64"}, nil
}

func TestBuildPayloadWiresFactsAndCPUInfo(t *testing.T) {
	p, err := BuildPayload("demo-app", fixedHostfacts{}, fixedSimdsp{})
	if err != nil {
		t.Fatal(err)
	}
	if p.ApplicationName != "demo-app" || p.OS != "linux" || p.Memory.Total != 16<<30 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.MachineID == "" {
		t.Fatal("expected a derived machine id")
	}
}

func TestSendSynchronouslySucceedsOnFirstAttempt(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSender("demo-app", fixedHostfacts{}, fixedSimdsp{}, log.NewDiscardLogger())
	if err := s.SendSynchronously(context.Background(), srv.URL, "tok", 3); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly 1 request, got %d", hits)
	}
}

func TestSendSynchronouslyTreatsNon2xxAsSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSender("demo-app", fixedHostfacts{}, fixedSimdsp{}, log.NewDiscardLogger())
	if err := s.SendSynchronously(context.Background(), srv.URL, "tok", 3); err != nil {
		t.Fatalf("a non-2xx response should not be a retryable error: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly 1 request (no retry on non-2xx), got %d", hits)
	}
}

func TestSendSynchronouslyRetriesOnTransportFailure(t *testing.T) {
	s := NewSender("demo-app", fixedHostfacts{}, fixedSimdsp{}, log.NewDiscardLogger())
	s.rnd = deterministicRand()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := s.SendSynchronously(ctx, "http://127.0.0.1:1", "tok", 2)
	if err == nil {
		t.Fatal("expected an error when the server is unreachable and the context expires mid-backoff")
	}
}

func TestComputeSleepIsDeterministicForAFixedSeed(t *testing.T) {
	s := NewSender("demo-app", fixedHostfacts{}, fixedSimdsp{}, log.NewDiscardLogger())
	s.rnd = deterministicRand()

	d1, err := s.computeSleep(1)
	if err != nil {
		t.Fatal(err)
	}

	s.rnd = deterministicRand()
	d2, err := s.computeSleep(1)
	if err != nil {
		t.Fatal(err)
	}

	if d1 != d2 {
		t.Fatalf("expected the same seed to produce the same sleep duration, got %v and %v", d1, d2)
	}
	if d1 <= 0 {
		t.Fatalf("expected a positive sleep duration, got %v", d1)
	}
}
