// Package uploadsafe holds the guards applied to client-supplied uploads:
// bounded reads and filename cleaning.
package uploadsafe

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameBytes caps a stored filename.
const MaxFilenameBytes = 255

// ErrTooLarge is returned when a read exceeds its limit.
var ErrTooLarge = errors.New("uploadsafe: content too large")

// LimitedReadAll reads at most maxBytes from r. It fails with ErrTooLarge
// if r holds more.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// CleanFilename reduces a client-supplied name to its last path element
// (either separator), drops control and format characters and caps the
// result at MaxFilenameBytes. It returns "" when nothing usable is left.
func CleanFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	if len(name) > MaxFilenameBytes {
		cut := MaxFilenameBytes
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimSpace(name[:cut])
	}
	return name
}
