/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package payload defines the versioned hardware-survey report envelope
// shared between the client and the ingestion server.
package payload

import (
	"encoding/json"
	"errors"
)

// ErrUnknownVersion is returned when an envelope's version discriminator
// does not match a known payload variant.
var ErrUnknownVersion = errors.New("payload: unknown version")

// CacheInfo carries the nine cache sizes (bytes) simdsp reports: L1/L2/L3,
// each split into instruction/data/unified.
type CacheInfo struct {
	L1I uint64 `json:"l1i"`
	L1D uint64 `json:"l1d"`
	L1U uint64 `json:"l1u"`
	L2I uint64 `json:"l2i"`
	L2D uint64 `json:"l2d"`
	L2U uint64 `json:"l2u"`
	L3I uint64 `json:"l3i"`
	L3D uint64 `json:"l3d"`
	L3U uint64 `json:"l3u"`
}

// CPUCapabilities is the fixed-shape record of boolean CPU feature flags.
// All fourteen are carried on the wire; only a subset is ever persisted
// (see store.Factors[store.TableCPUCapabilities]).
type CPUCapabilities struct {
	X86SSE2        bool `json:"x86_sse2"`
	X86SSE3        bool `json:"x86_sse3"`
	X86SSSE3       bool `json:"x86_ssse3"`
	X86SSE41       bool `json:"x86_sse4_1"`
	X86PopcntInsn  bool `json:"x86_popcnt_insn"`
	X86AVX         bool `json:"x86_avx"`
	X86AVX2        bool `json:"x86_avx2"`
	X86FMA3        bool `json:"x86_fma3"`
	X86FMA4        bool `json:"x86_fma4"`
	X86XOP         bool `json:"x86_xop"`
	X86AVX512F     bool `json:"x86_avx512f"`
	X86AVX512BW    bool `json:"x86_avx512bw"`
	X86AVX512DQ    bool `json:"x86_avx512dq"`
	X86AVX512VL    bool `json:"x86_avx512vl"`
}

// CPUInfo is the nested record produced by the simdsp bridge.
type CPUInfo struct {
	CPUManufacturer string          `json:"cpu_manufacturer"`
	CPUArchitecture string          `json:"cpu_architecture"`
	CacheInfo       CacheInfo       `json:"cache_info"`
	CPUCapabilities CPUCapabilities `json:"cpu_capabilities"`
}

// Memory carries the reporting system's total memory in bytes.
type Memory struct {
	Total uint64 `json:"total"`
}

// PayloadV1 is the sole currently-defined envelope variant.
type PayloadV1 struct {
	Simdsp          CPUInfo `json:"simdsp"`
	Memory          Memory  `json:"memory"`
	OS              string  `json:"os"`
	ApplicationName string  `json:"application_name"`
	MachineID       string  `json:"machine_id"`
}

// envelopeHeader is used only to sniff the version discriminator before
// deciding how to unmarshal the rest of the object.
type envelopeHeader struct {
	Version string `json:"version"`
}

// Envelope is the tagged-union wire form: a version discriminator plus,
// today, exactly one payload variant. Adding v2 means adding a case to
// UnmarshalJSON/MarshalJSON, not changing the wire shape of v1.
type Envelope struct {
	Version string
	V1      *PayloadV1
}

// UnmarshalJSON dispatches on the version discriminator.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var hdr envelopeHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return err
	}
	switch hdr.Version {
	case "v1":
		var v1 PayloadV1
		if err := json.Unmarshal(data, &v1); err != nil {
			return err
		}
		e.Version = "v1"
		e.V1 = &v1
		return nil
	default:
		return ErrUnknownVersion
	}
}

// MarshalJSON re-attaches the version discriminator to whichever variant is
// populated.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch e.Version {
	case "v1":
		if e.V1 == nil {
			return nil, ErrUnknownVersion
		}
		type wire struct {
			Version string `json:"version"`
			PayloadV1
		}
		return json.Marshal(wire{Version: "v1", PayloadV1: *e.V1})
	default:
		return nil, ErrUnknownVersion
	}
}
