package order

import (
	"crypto/rand"
	"encoding/base32"
	"time"

	"github.com/go-faster/errors"
)

// NumberGenerator produces a human-readable order number. Uniqueness is
// enforced by storage, not by the generator.
type NumberGenerator func(now time.Time) (string, error)

var numberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateNumber returns a number of the form ORD-YYYYMMDD-XXXXXXXX with a
// random 40-bit suffix.
func GenerateNumber(now time.Time) (string, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + numberEncoding.EncodeToString(b[:]), nil
}
