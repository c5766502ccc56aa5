/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package payload

import (
	"crypto/sha512"
	"encoding/hex"
)

// salt is the ASCII encoding of a fixed UUID, used as a domain separator
// for the machine-ID hash. It is not a secret; it exists so that the same
// MAC+hostname pair hashes to a value that is not trivially reversible or
// directly comparable to other uses of SHA-512 on the same inputs.
const salt = "98badb58-e077-11ec-8edf-00d8612ce6ed"

// MachineID derives the double-hashed, hex-encoded machine identifier from
// a lowercase 12-hex-character MAC address and a hostname.
//
//	level2 = sha512(salt || 0x00 || macHex || "\n" || hostname), hex
//	result = sha512(level2_hex_ascii), hex
//
// The null byte between salt and macHex is a domain separator. The level2
// hex string is fed as ASCII into the second hash, not its raw bytes.
func MachineID(macHex, hostname string) string {
	h1 := sha512.New()
	h1.Write([]byte(salt))
	h1.Write([]byte{0})
	h1.Write([]byte(macHex))
	h1.Write([]byte("\n"))
	h1.Write([]byte(hostname))
	level2 := hex.EncodeToString(h1.Sum(nil))

	h2 := sha512.New()
	h2.Write([]byte(level2))
	return hex.EncodeToString(h2.Sum(nil))
}
