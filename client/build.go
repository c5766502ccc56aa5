/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package client is the voyager side of the pipeline: it assembles a
// PayloadV1 from the local host and ships it to an hwsurveyd instance,
// retrying with backoff on failure.
package client

import (
	"fmt"

	"github.com/gravwell/hwsurvey/hostfacts"
	"github.com/gravwell/hwsurvey/payload"
	"github.com/gravwell/hwsurvey/simdsp"
)

// BuildPayload assembles a PayloadV1 for appName from the given host and
// CPU-detection sources.
func BuildPayload(appName string, hf hostfacts.Source, sd simdsp.Source) (payload.PayloadV1, error) {
	cpuInfo, err := sd.Detect()
	if err != nil {
		return payload.PayloadV1{}, fmt.Errorf("detecting cpu info: %w", err)
	}

	total, err := hf.TotalMemory()
	if err != nil {
		return payload.PayloadV1{}, fmt.Errorf("reading total memory: %w", err)
	}

	mac, err := hf.MACAddress()
	if err != nil {
		return payload.PayloadV1{}, fmt.Errorf("reading mac address: %w", err)
	}

	hostname, err := hf.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return payload.PayloadV1{
		Simdsp:          cpuInfo,
		Memory:          payload.Memory{Total: total},
		OS:              hf.OS(),
		ApplicationName: appName,
		MachineID:       payload.MachineID(mac, hostname),
	}, nil
}
