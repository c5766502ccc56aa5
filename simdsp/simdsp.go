/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package simdsp is the in-process stand-in for the native simdsp bridge
// the survey client normally shells out to. It detects the local CPU's
// cache topology, manufacturer/architecture strings, and SIMD feature
// flags using klauspost/cpuid instead of a cgo bridge, behind the same
// Source boundary the real bridge would sit behind.
package simdsp

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"

	"github.com/gravwell/hwsurvey/payload"
)

// Source detects the local CPU's topology and capabilities. It is an
// interface so tests can inject a fixed CPUInfo instead of depending on
// whatever CPU the test happens to run on.
type Source interface {
	Detect() (payload.CPUInfo, error)
}

// Default is the cpuid-backed Source used in production.
type Default struct{}

// Detect reads cpuid.CPU, which self-initializes on first use, and maps
// it onto the wire CPUInfo shape.
func (Default) Detect() (payload.CPUInfo, error) {
	c := cpuid.CPU

	return payload.CPUInfo{
		CPUManufacturer: manufacturer(c.VendorString),
		CPUArchitecture: architecture(),
		CacheInfo: payload.CacheInfo{
			L1I: u64(c.Cache.L1I),
			L1D: u64(c.Cache.L1D),
			L2U: u64(c.Cache.L2),
			L3U: u64(c.Cache.L3),
		},
		CPUCapabilities: payload.CPUCapabilities{
			X86SSE2:       c.Supports(cpuid.SSE2),
			X86SSE3:       c.Supports(cpuid.SSE3),
			X86SSSE3:      c.Supports(cpuid.SSSE3),
			X86SSE41:      c.Supports(cpuid.SSE4),
			X86PopcntInsn: c.Supports(cpuid.POPCNT),
			X86AVX:        c.Supports(cpuid.AVX),
			X86AVX2:       c.Supports(cpuid.AVX2),
			X86FMA3:       c.Supports(cpuid.FMA3),
			X86FMA4:       c.Supports(cpuid.FMA4),
			X86XOP:        c.Supports(cpuid.XOP),
			X86AVX512F:    c.Supports(cpuid.AVX512F),
			X86AVX512BW:   c.Supports(cpuid.AVX512BW),
			X86AVX512DQ:   c.Supports(cpuid.AVX512DQ),
			X86AVX512VL:   c.Supports(cpuid.AVX512VL),
		},
	}, nil
}

func u64(n int) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// manufacturer maps cpuid's vendor string onto the closed vocabulary the
// anonymization package expects further down the pipeline; anything it
// doesn't recognize is passed through as-is and normalized there instead.
func manufacturer(vendor string) string {
	switch vendor {
	case "GenuineIntel":
		return "intel"
	case "AuthenticAMD":
		return "amd"
	default:
		return vendor
	}
}

// architecture reports the name the server's closed architecture
// vocabulary expects (see anonymization.NormalizeArch), not Go's own
// GOARCH spelling.
func architecture() string {
	if runtime.GOARCH == "arm64" {
		return "aarch64"
	}
	return "x86"
}
