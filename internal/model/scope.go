// Package model defines the domain types shared by the ledger, the resolver and the agent.
package model

import (
	"fmt"
	"strings"

	"github.com/Veraticus/dompet/internal/common"
)

// Scope identifies whose data an operation may touch.
// Every ledger call carries one; there is no ambient "current tenant".
type Scope struct {
	SessionID string
	TenantID  int64
}

// TenantScope returns a scope with no conversation attached.
func TenantScope(tenantID int64) Scope {
	return Scope{TenantID: tenantID}
}

// Validate fails with ErrScopeViolation when the tenant is missing.
func (s Scope) Validate() error {
	if s.TenantID <= 0 {
		return fmt.Errorf("%w: tenant id is required", common.ErrScopeViolation)
	}
	return nil
}

// ValidateSession also requires a session id.
func (s Scope) ValidateSession() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", common.ErrValidation)
	}
	return nil
}

// Key renders the scope as a stable map/redis key fragment.
func (s Scope) Key() string {
	return fmt.Sprintf("%d:%s", s.TenantID, s.SessionID)
}
