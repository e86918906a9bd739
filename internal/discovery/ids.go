package discovery

import (
	"crypto/sha256"
	"encoding/hex"
)

// DocumentID derives the stable document identifier from the source URL.
// Every downstream stage keys on this value, so it must never change for a
// given URL.
func DocumentID(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}

// Fingerprint derives the change marker for a document from its title and the
// freshest HTTP validator available (Last-Modified, ETag, or Content-Length).
// Two probes of an unchanged document yield the same fingerprint.
func Fingerprint(title, marker string) string {
	sum := sha256.Sum256([]byte(title + "-" + marker))
	return hex.EncodeToString(sum[:])
}
