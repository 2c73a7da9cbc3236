// Package cryptox computes content digests used to recognise the same chat
// message arriving through different paths.
package cryptox

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Digest returns the hex BLAKE2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes parts as one stream, separated by a zero byte so that
// ("ab","c") and ("a","bc") differ. The result is a truncated hex digest.
func Fingerprint(parts ...string) string {
	h, _ := blake2b.New(16, nil)
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
