// Package commitlog reads raw commits from a backend and turns them into
// enriched changesets.
//
// The backend only knows positions, aliases and JSON payloads. The Source
// resolves the aggregate identity and alias references through identity
// translators and decodes payloads through the event-type registry, so
// projections receive ready-to-apply changesets in strict position order.
//
// Import Path: readmodel.dev/projector/internal/commitlog
package commitlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"readmodel.dev/projector/internal/domain"
)

var (
	// ErrUnavailable marks a transient backend failure. Callers back off and
	// retry; it never means end of stream.
	ErrUnavailable = errors.New("commit log unavailable")
	// ErrOutOfOrder marks a backend answer that does not move forward.
	ErrOutOfOrder = errors.New("commit position out of order")
	// ErrHeadUnsupported is returned by Head when the backend cannot report it.
	ErrHeadUnsupported = errors.New("commit log head not supported")
)

// MalformedCommitError reports a commit that cannot be turned into a valid
// changeset. Retrying yields the same error.
type MalformedCommitError struct {
	Position domain.Position
	Err      error
}

func (e *MalformedCommitError) Error() string {
	return fmt.Sprintf("malformed commit at position %d: %v", e.Position, e.Err)
}

func (e *MalformedCommitError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is a MalformedCommitError and returns it.
func IsMalformed(err error) (*MalformedCommitError, bool) {
	var mce *MalformedCommitError
	if errors.As(err, &mce) {
		return mce, true
	}
	return nil, false
}

// AliasRef names an alias of a given identity kind.
type AliasRef struct {
	Kind  string `json:"kind"`
	Alias string `json:"alias"`
}

// RawEvent is an event as stored by the write side.
type RawEvent struct {
	Type    string              `json:"type"`
	Payload json.RawMessage     `json:"payload,omitempty"`
	Aliases map[string]AliasRef `json:"aliases,omitempty"`
}

// RawCommit is a commit as stored by the write side. The aggregate is named
// either by identity or by alias.
type RawCommit struct {
	Position       domain.Position `json:"position"`
	CommitID       string          `json:"commit_id"`
	AggregateID    string          `json:"aggregate_id,omitempty"`
	AggregateAlias *AliasRef       `json:"aggregate_alias,omitempty"`
	Version        int64           `json:"version"`
	IssuedBy       string          `json:"issued_by"`
	CommittedAt    time.Time       `json:"committed_at"`
	Events         []RawEvent      `json:"events"`
}

// Backend returns the first commit strictly after a position.
type Backend interface {
	Fetch(ctx context.Context, after domain.Position) (RawCommit, bool, error)
}

// HeadReader reports the position of the latest commit.
type HeadReader interface {
	Head(ctx context.Context) (domain.Position, error)
}
