package commitlog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/identity"
	"readmodel.dev/projector/internal/pkg/logger"
)

// Option configures a Source.
type Option func(*Source)

// WithAutoCreateAliases controls whether unknown aliases get a new identity
// while enriching. Enabled by default: the write side may reference an alias
// before any projection saw it.
func WithAutoCreateAliases(enabled bool) Option {
	return func(s *Source) { s.autoCreate = enabled }
}

// Source is the commit enhancer in front of a Backend.
type Source struct {
	backend     Backend
	types       *domain.EventTypes
	translators *identity.Registry
	autoCreate  bool
}

// NewSource creates a Source. translators may be nil when commits carry no
// aliases.
func NewSource(backend Backend, types *domain.EventTypes, translators *identity.Registry, opts ...Option) *Source {
	if types == nil {
		types = domain.NewEventTypes()
	}
	if translators == nil {
		translators, _ = identity.NewRegistry()
	}
	s := &Source{backend: backend, types: types, translators: translators, autoCreate: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchNext returns the enriched changeset following after. ok is false when
// no commit is available yet. Errors wrapping ErrUnavailable are transient;
// a *MalformedCommitError names a commit that will never enrich.
func (s *Source) FetchNext(ctx context.Context, after domain.Position) (*domain.Changeset, bool, error) {
	raw, ok, err := s.backend.Fetch(ctx, after)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false, err
		}
		if errors.Is(err, ErrUnavailable) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, false, nil
	}
	if raw.Position <= after {
		return nil, false, fmt.Errorf("%w: asked after %d, got %d", ErrOutOfOrder, after, raw.Position)
	}

	cs, err := s.enrich(ctx, raw)
	if err != nil {
		return nil, false, err
	}
	return cs, true, nil
}

// Head returns the latest position when the backend can report it.
func (s *Source) Head(ctx context.Context) (domain.Position, error) {
	hr, ok := s.backend.(HeadReader)
	if !ok {
		return domain.Genesis, ErrHeadUnsupported
	}
	return hr.Head(ctx)
}

func (s *Source) enrich(ctx context.Context, raw RawCommit) (*domain.Changeset, error) {
	malformed := func(err error) error {
		return &MalformedCommitError{Position: raw.Position, Err: err}
	}

	aggregate, err := s.aggregateID(ctx, raw)
	if err != nil {
		return nil, s.classify(raw.Position, err)
	}

	events := make([]domain.Event, 0, len(raw.Events))
	for i, re := range raw.Events {
		if re.Type == "" {
			return nil, malformed(fmt.Errorf("event %d has no type", i))
		}
		t := domain.EventType(re.Type)
		payload, err := s.types.Decode(t, re.Payload)
		if err != nil {
			return nil, malformed(fmt.Errorf("event %d: %w", i, err))
		}
		evt := domain.Event{Type: t, Payload: payload}
		if len(re.Aliases) > 0 {
			evt.Refs = make(map[string]domain.Identity, len(re.Aliases))
			for name, ref := range re.Aliases {
				id, err := s.translate(ctx, ref)
				if err != nil {
					return nil, s.classify(raw.Position, fmt.Errorf("event %d ref %s: %w", i, name, err))
				}
				evt.Refs[name] = id
			}
		}
		events = append(events, evt)
	}

	cs := &domain.Changeset{
		CommitID:         raw.CommitID,
		AggregateID:      aggregate,
		Position:         raw.Position,
		AggregateVersion: raw.Version,
		Events:           events,
		IssuedBy:         raw.IssuedBy,
		CommittedAt:      raw.CommittedAt,
	}
	if err := cs.Validate(); err != nil {
		return nil, malformed(err)
	}
	return cs, nil
}

func (s *Source) aggregateID(ctx context.Context, raw RawCommit) (domain.Identity, error) {
	switch {
	case raw.AggregateID != "":
		return domain.ParseIdentity(raw.AggregateID)
	case raw.AggregateAlias != nil:
		return s.translate(ctx, *raw.AggregateAlias)
	default:
		return "", fmt.Errorf("%w: commit names no aggregate", domain.ErrInvalidChangeset)
	}
}

func (s *Source) translate(ctx context.Context, ref AliasRef) (domain.Identity, error) {
	tr, ok := s.translators.Lookup(ref.Kind)
	if !ok {
		return "", fmt.Errorf("%w: no translator for kind %q", errUnknownKind, ref.Kind)
	}
	return tr.Translate(ctx, ref.Alias, s.autoCreate)
}

var errUnknownKind = errors.New("unknown identity kind")

// classify separates content problems, which never heal, from store
// failures, which do.
func (s *Source) classify(pos domain.Position, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrInvalidIdentity),
		errors.Is(err, domain.ErrInvalidChangeset),
		errors.Is(err, identity.ErrAliasNotFound),
		errors.Is(err, identity.ErrAliasRequired),
		errors.Is(err, errUnknownKind):
		return &MalformedCommitError{Position: pos, Err: err}
	default:
		logger.Warn("Identity resolution failed",
			zap.Int64("position", int64(pos)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: resolve identities at %d: %v", ErrUnavailable, pos, err)
	}
}
