package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidIdentity is returned when a string is not a well-formed identity.
var ErrInvalidIdentity = errors.New("invalid identity")

// Position is a commit position in the changeset stream. Positions are
// totally ordered and strictly increasing per partition.
type Position int64

// Genesis is the position before the first commit of any stream.
const Genesis Position = 0

// Identity is an internal typed identity of the form "<Prefix>_<seq>".
// The prefix names the identity type (e.g. "Document"), the sequence comes
// from a monotonic generator and is never reused.
type Identity string

// NewIdentity formats an identity from its prefix and sequence.
func NewIdentity(prefix string, seq int64) Identity {
	return Identity(prefix + "_" + strconv.FormatInt(seq, 10))
}

// ParseIdentity validates s and returns it as an Identity.
func ParseIdentity(s string) (Identity, error) {
	id := Identity(strings.TrimSpace(s))
	if _, _, err := id.split(); err != nil {
		return "", err
	}
	return id, nil
}

// Prefix returns the identity type prefix, or "" if malformed.
func (id Identity) Prefix() string {
	prefix, _, err := id.split()
	if err != nil {
		return ""
	}
	return prefix
}

// Seq returns the numeric part of the identity.
func (id Identity) Seq() (int64, bool) {
	_, seq, err := id.split()
	return seq, err == nil
}

// IsZero reports whether id is empty.
func (id Identity) IsZero() bool { return id == "" }

func (id Identity) String() string { return string(id) }

func (id Identity) split() (string, int64, error) {
	s := string(id)
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	seq, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || seq <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return s[:i], seq, nil
}
