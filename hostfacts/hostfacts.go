/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package hostfacts collects the host-identity and host-capacity facts a
// hardware survey report needs but that simdsp doesn't cover: total
// memory, OS name, hostname, and a MAC address to seed the machine ID.
package hostfacts

import (
	"errors"
	"net"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// ErrNoMACAddress is returned when no usable network interface with a
// hardware address can be found.
var ErrNoMACAddress = errors.New("hostfacts: no interface with a MAC address found")

// Source reports the host facts BuildPayload needs. It is an interface so
// tests can substitute fixed values instead of reading the real host.
type Source interface {
	TotalMemory() (uint64, error)
	OS() string
	Hostname() (string, error)
	MACAddress() (string, error)
}

// Default is the gopsutil/stdlib-backed Source used in production.
type Default struct{}

// TotalMemory returns the host's total physical memory in bytes.
func (Default) TotalMemory() (uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.Total, nil
}

// goosNames maps runtime.GOOS to the names the server's closed OS
// vocabulary expects. Only "darwin" differs; everything else already
// matches (linux, windows, freebsd, openbsd).
var goosNames = map[string]string{
	"darwin": "macos",
}

// OS returns the runtime's GOOS value, translated to the server's closed OS
// vocabulary where the two naming schemes differ (GOOS "darwin" vs. the
// wire vocabulary "macos").
func (Default) OS() string {
	if name, ok := goosNames[runtime.GOOS]; ok {
		return name
	}
	return runtime.GOOS
}

// Hostname returns the hostname reported by gopsutil's host.Info, falling
// back to the OS-level os.Hostname lookup if that fails or is empty.
func (Default) Hostname() (string, error) {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname, nil
	}
	return osHostname()
}

// MACAddress returns the lowercase, colon-free hex MAC address of the
// first non-loopback interface that has one. Interface enumeration order
// on most platforms is stable across reboots, which is what gives the
// derived machine ID its stability.
func (Default) MACAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(ifc.HardwareAddr) == 0 {
			continue
		}
		return macHex(ifc.HardwareAddr), nil
	}
	return "", ErrNoMACAddress
}
