package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

const headerTenantID = "X-Tenant-ID"

// respondError writes the structured error body for err.
func (s *Server) respondError(c *gin.Context, err error) {
	var verr *common.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": common.ErrValidation.Error(), "fields": verr.Fields})
	case errors.Is(err, common.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrScopeViolation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		s.logger.Error("Request failed",
			"path", c.FullPath(),
			"error", err,
			"request_id", c.GetString(ctxRequestID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// tenantScope reads the tenant from the tenant_id query parameter or the
// X-Tenant-ID header. It never falls back to a default tenant.
func tenantScope(c *gin.Context) (model.Scope, error) {
	raw := c.Query("tenant_id")
	if raw == "" {
		raw = c.GetHeader(headerTenantID)
	}
	return parseTenant(raw)
}

func parseTenant(raw string) (model.Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Scope{}, model.Scope{}.Validate()
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return model.Scope{}, fmt.Errorf("%w: tenant_id must be a positive integer", common.ErrScopeViolation)
	}
	scope := model.TenantScope(id)
	return scope, scope.Validate()
}
