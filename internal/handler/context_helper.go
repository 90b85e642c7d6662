package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/followup-api/internal/middleware"
	"github.com/noah-isme/followup-api/internal/models"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
	"github.com/noah-isme/followup-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		return nil
	}
	return claims
}

// ownerFromContext writes a 401 and returns false when no practitioner is attached.
func ownerFromContext(c *gin.Context) (string, bool) {
	owner := claimsFromContext(c).OwnerID()
	if owner == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return owner, true
}

// actorFromContext names the practitioner in resolution records.
func actorFromContext(c *gin.Context) string {
	claims := claimsFromContext(c)
	if claims == nil {
		return ""
	}
	if claims.Email != "" {
		return claims.Email
	}
	return claims.OwnerID()
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, key+" must be a number")
	}
	return v, nil
}
