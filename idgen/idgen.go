// Package idgen generates and validates the identifiers handed out by rfpgen.
//
// Every stored record gets a type-scoped UUIDv7 ("rfp_…", "prp_…"), so an
// identifier tells which table it belongs to and sorts by creation time.
// Constructors accept a Generator, which keeps the strategy swappable in tests.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Type prefixes.
const (
	PrefixRFP      = "rfp_"
	PrefixProposal = "prp_"
	PrefixRequest  = "req_"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Short and URL-safe; used for request IDs where a UUID is too verbose.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// RFP returns a new RFP identifier.
func RFP() string { return PrefixRFP + Default() }

// Proposal returns a new proposal identifier.
func Proposal() string { return PrefixProposal + Default() }

// Parse validates a UUID string and returns it in canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}

// ParsePrefixed validates an identifier of the form prefix+UUID and returns
// it with the UUID part in canonical form.
func ParsePrefixed(prefix, s string) (string, error) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return "", fmt.Errorf("invalid id %q: want prefix %q", s, prefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil || len(rest) != 36 {
		return "", fmt.Errorf("invalid id %q: malformed UUID", s)
	}
	return prefix + u.String(), nil
}
