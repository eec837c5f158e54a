package sessiongen

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// IDScheme turns a sequential session counter into its public identifier.
// Implementations must be pure: the same counter always yields the same id.
type IDScheme interface {
	// SessionID returns the identifier for counter n (n starts at 1).
	SessionID(n int64) string

	// Name returns the scheme name used in configuration.
	Name() string
}

// Scheme names accepted by ParseIDScheme.
const (
	SchemeSequential = "sequential"
	SchemeMD5        = "md5"
	SchemeMurmur3    = "murmur3"
)

// SequentialIDs renders the counter itself.
type SequentialIDs struct{}

func (SequentialIDs) SessionID(n int64) string { return strconv.FormatInt(n, 10) }
func (SequentialIDs) Name() string             { return SchemeSequential }

// MD5IDs renders the lowercase hex MD5 digest of the counter's decimal
// string. The digest is an opaque fixed-width label, not a security
// boundary.
type MD5IDs struct{}

func (MD5IDs) SessionID(n int64) string {
	sum := md5.Sum([]byte(strconv.FormatInt(n, 10)))
	return hex.EncodeToString(sum[:])
}

func (MD5IDs) Name() string { return SchemeMD5 }

// Murmur3IDs renders the 128-bit murmur3 hash of the counter's decimal
// string as 32 lowercase hex characters.
type Murmur3IDs struct{}

func (Murmur3IDs) SessionID(n int64) string {
	h1, h2 := murmur3.Sum128([]byte(strconv.FormatInt(n, 10)))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

func (Murmur3IDs) Name() string { return SchemeMurmur3 }

// ParseIDScheme returns the scheme registered under name.
func ParseIDScheme(name string) (IDScheme, error) {
	switch name {
	case SchemeSequential, "":
		return SequentialIDs{}, nil
	case SchemeMD5:
		return MD5IDs{}, nil
	case SchemeMurmur3:
		return Murmur3IDs{}, nil
	default:
		return nil, fmt.Errorf("unknown id scheme: %s", name)
	}
}

// IsHashed reports whether ids from the scheme are fixed-width hex labels
// rather than the counter itself.
func IsHashed(s IDScheme) bool {
	_, seq := s.(SequentialIDs)
	return !seq
}
