package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"readmodel.dev/projector/internal/domain"
	"readmodel.dev/projector/internal/identity"
	apperrors "readmodel.dev/projector/internal/pkg/errors"
)

// AliasMapping is the response of the identity endpoints.
type AliasMapping struct {
	Kind     string `json:"kind"`
	Alias    string `json:"alias"`
	Identity string `json:"identity"`
}

// ResolveAlias handles GET /api/v1/aliases/{kind}/{alias}. It never creates
// identities.
func (s *Server) ResolveAlias(c *gin.Context, kind, alias string) {
	tr, ok := s.translator(kind)
	if !ok {
		_ = c.Error(unknownKind(kind))
		return
	}
	id, err := tr.Translate(c.Request.Context(), alias, false)
	switch {
	case errors.Is(err, identity.ErrAliasNotFound):
		_ = c.Error(apperrors.ErrAliasNotFoundf(kind, alias))
		return
	case errors.Is(err, identity.ErrAliasRequired):
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeValidationFailed, "alias is required", http.StatusBadRequest))
		return
	case err != nil:
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInternal, "failed to resolve alias", http.StatusInternalServerError))
		return
	}
	resolved, _, err := tr.GetAlias(c.Request.Context(), id)
	if err != nil || resolved == "" {
		resolved = alias
	}
	c.JSON(http.StatusOK, AliasMapping{Kind: kind, Alias: resolved, Identity: id.String()})
}

// GetIdentityAlias handles GET /api/v1/identities/{identity}/alias.
func (s *Server) GetIdentityAlias(c *gin.Context, raw string) {
	id, err := domain.ParseIdentity(raw)
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeIdentityInvalid, "identity is malformed", http.StatusBadRequest).
			WithParams(map[string]interface{}{"identity": raw}))
		return
	}
	tr, ok := s.translator(id.Prefix())
	if !ok {
		_ = c.Error(unknownKind(id.Prefix()))
		return
	}
	alias, found, err := tr.GetAlias(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInternal, "failed to look up alias", http.StatusInternalServerError))
		return
	}
	if !found {
		_ = c.Error(apperrors.NotFound(apperrors.CodeIdentityNotFound, "identity has no alias").
			WithParams(map[string]interface{}{"identity": id.String()}))
		return
	}
	c.JSON(http.StatusOK, AliasMapping{Kind: id.Prefix(), Alias: alias, Identity: id.String()})
}

func (s *Server) translator(kind string) (*identity.Translator, bool) {
	if s.translators == nil {
		return nil, false
	}
	return s.translators.Lookup(kind)
}

func unknownKind(kind string) error {
	return apperrors.NotFound(apperrors.CodeTranslatorUnknown, "no translator for identity kind").
		WithParams(map[string]interface{}{"kind": kind})
}
