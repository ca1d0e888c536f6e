// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Fingerprint returns the Keccak-256 digest of the method's canonical
// listing, including instruction IDs. Two methods with equal fingerprints
// have the same instructions in the same order with the same numbering.
func Fingerprint(m *Method) [32]byte {
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(FormatWithIDs(m)))
	h.Sum(out[:0])
	return out
}

// FingerprintHex is Fingerprint rendered as a hex string.
func FingerprintHex(m *Method) string {
	fp := Fingerprint(m)
	return hex.EncodeToString(fp[:])
}
