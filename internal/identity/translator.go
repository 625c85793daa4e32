// Package identity maps external string aliases to internal identities.
//
// A Translator owns one identity kind (prefix). Lookups go through an
// insert-only concurrent cache, then the alias store; creation draws a
// sequence number from a Generator and relies on the store's conditional
// insert so concurrent creators converge on a single identity.
//
// Import Path: readmodel.dev/projector/internal/identity
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/pkg/logger"
)

var (
	// ErrAliasRequired indicates an empty alias.
	ErrAliasRequired = errors.New("alias is required")
	// ErrAliasNotFound indicates an alias with no identity when creation is off.
	ErrAliasNotFound = errors.New("alias not found")
	// ErrForeignIdentity indicates an identity of another kind.
	ErrForeignIdentity = errors.New("identity belongs to another kind")
)

// Translator resolves aliases of one identity kind.
type Translator struct {
	prefix string
	store  AliasStore
	gen    Generator

	byAlias *xsync.Map[string, domain.Identity]
	byID    *xsync.Map[domain.Identity, string]
	group   singleflight.Group
}

// NewTranslator creates a translator for identities "<prefix>_<seq>".
func NewTranslator(prefix string, store AliasStore, gen Generator) (*Translator, error) {
	if prefix == "" || strings.HasSuffix(prefix, "_") {
		return nil, fmt.Errorf("invalid identity prefix %q", prefix)
	}
	if store == nil || gen == nil {
		return nil, errors.New("alias store and generator are required")
	}
	return &Translator{
		prefix:  prefix,
		store:   store,
		gen:     gen,
		byAlias: xsync.NewMap[string, domain.Identity](),
		byID:    xsync.NewMap[domain.Identity, string](),
	}, nil
}

// Kind returns the identity prefix.
func (t *Translator) Kind() string { return t.prefix }

// Translate returns the identity of alias. With autoCreate a missing alias
// gets a new identity; without it a miss returns ErrAliasNotFound.
func (t *Translator) Translate(ctx context.Context, alias string, autoCreate bool) (domain.Identity, error) {
	key := normalizeAlias(alias)
	if key == "" {
		return "", ErrAliasRequired
	}
	if id, ok := t.byAlias.Load(key); ok {
		return id, nil
	}

	flight := "get:" + key
	if autoCreate {
		flight = "create:" + key
	}
	// The flight is shared, so it must outlive the caller that started it.
	ch := t.group.DoChan(flight, func() (any, error) {
		return t.resolve(context.WithoutCancel(ctx), key, autoCreate)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(domain.Identity), nil
	}
}

func (t *Translator) resolve(ctx context.Context, key string, autoCreate bool) (domain.Identity, error) {
	id, found, err := t.store.Get(ctx, t.prefix, key)
	if err != nil {
		return "", fmt.Errorf("lookup %s alias %q: %w", t.prefix, key, err)
	}
	if found {
		t.remember(key, id)
		return id, nil
	}
	if !autoCreate {
		return "", fmt.Errorf("%w: %s %q", ErrAliasNotFound, t.prefix, key)
	}

	seq, err := t.gen.Next(ctx, t.prefix)
	if err != nil {
		return "", fmt.Errorf("generate %s identity: %w", t.prefix, err)
	}
	candidate := domain.NewIdentity(t.prefix, seq)
	inserted, winner, err := t.store.InsertIfAbsent(ctx, t.prefix, key, candidate)
	if err != nil {
		return "", fmt.Errorf("create %s alias %q: %w", t.prefix, key, err)
	}
	if !inserted {
		logger.Debug("Alias created concurrently, using winner",
			zap.String("kind", t.prefix),
			zap.String("alias", key),
			zap.String("discarded", candidate.String()),
			zap.String("identity", winner.String()),
		)
	}
	t.remember(key, winner)
	return winner, nil
}

// GetAlias returns the alias of id. found is false when id has no alias.
func (t *Translator) GetAlias(ctx context.Context, id domain.Identity) (string, bool, error) {
	if id.Prefix() != t.prefix {
		return "", false, fmt.Errorf("%w: %s is not %s", ErrForeignIdentity, id, t.prefix)
	}
	if alias, ok := t.byID.Load(id); ok {
		return alias, true, nil
	}
	alias, found, err := t.store.GetAlias(ctx, t.prefix, id)
	if err != nil {
		return "", false, fmt.Errorf("reverse lookup %s: %w", id, err)
	}
	if found {
		t.remember(alias, id)
	}
	return alias, found, nil
}

// GetAliases returns the aliases of ids. Identities without an alias are
// omitted; a nil or empty input yields an empty map.
func (t *Translator) GetAliases(ctx context.Context, ids []domain.Identity) (map[domain.Identity]string, error) {
	out := make(map[domain.Identity]string, len(ids))
	var misses []domain.Identity
	for _, id := range ids {
		if id.Prefix() != t.prefix {
			continue
		}
		if alias, ok := t.byID.Load(id); ok {
			out[id] = alias
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	found, err := t.store.GetMany(ctx, t.prefix, misses)
	if err != nil {
		return nil, fmt.Errorf("reverse lookup %d %s identities: %w", len(misses), t.prefix, err)
	}
	for id, alias := range found {
		t.remember(alias, id)
		out[id] = alias
	}
	return out, nil
}

func (t *Translator) remember(alias string, id domain.Identity) {
	t.byAlias.LoadOrStore(alias, id)
	t.byID.LoadOrStore(id, alias)
}

// normalizeAlias makes aliases case-insensitive.
func normalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
