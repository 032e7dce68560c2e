package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avaccess/internal/audit"
	"github.com/vyrodovalexey/avaccess/internal/gate"
	"github.com/vyrodovalexey/avaccess/internal/policy"
	"github.com/vyrodovalexey/avaccess/internal/token"
)

// authorizeRequest is the body of POST /v1/authorize.
type authorizeRequest struct {
	Token    string                 `json:"token" binding:"required"`
	Resource string                 `json:"resource" binding:"required"`
	Action   string                 `json:"action" binding:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// authorizeResponse is the decision returned to the caller. Internal
// detail never crosses this boundary.
type authorizeResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Subject string `json:"subject,omitempty"`
	Role    string `json:"role,omitempty"`
}

func (s *Server) handleAuthorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	if _, ok := metadata[gate.MetaClientIP]; !ok {
		metadata[gate.MetaClientIP] = c.ClientIP()
	}
	if _, ok := metadata[gate.MetaUserAgent]; !ok {
		metadata[gate.MetaUserAgent] = c.Request.UserAgent()
	}

	result := s.gate.Authorize(c.Request.Context(), req.Token, req.Resource, req.Action, metadata)

	resp := authorizeResponse{
		Allowed: result.Allowed,
		Reason:  result.Reason,
	}
	if result.Identity != nil {
		resp.Subject = result.Identity.Subject
		resp.Role = string(result.Identity.Role)
	}

	c.JSON(http.StatusOK, resp)
}

// issueTokenRequest is the body of POST /v1/tokens.
type issueTokenRequest struct {
	Subject string `json:"subject" binding:"required"`
	Role    string `json:"role" binding:"required"`
	TTL     string `json:"ttl,omitempty"`
}

func (s *Server) handleIssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	role := token.Role(req.Role)
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ttl"})
			return
		}
		ttl = parsed
	}

	raw, err := s.gate.IssueToken(c.Request.Context(), req.Subject, role, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": raw})
}

// revokeTokenRequest is the body of DELETE /v1/tokens.
type revokeTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) handleRevokeToken(c *gin.Context) {
	var req revokeTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	revoked := s.gate.RevokeToken(c.Request.Context(), req.Token)
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

func (s *Server) handleClearBlacklist(c *gin.Context) {
	s.authority.ClearBlacklist()
	s.recordAdmin(c, audit.ActionBlacklistClear, nil)
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// recordAdmin writes an audit record for a completed administrative
// mutation of authorization state.
func (s *Server) recordAdmin(c *gin.Context, action audit.Action, resource *audit.Resource) {
	event := audit.NewEvent(audit.EventTypeAdministrative, action, audit.OutcomeSuccess)
	event.Subject = &audit.Subject{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	event.Resource = resource
	s.auditor.LogEvent(c.Request.Context(), event)
}

// storeError maps policy store failures onto HTTP statuses.
func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, policy.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, policy.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": "policy name already exists"})
	case errors.Is(err, policy.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleCreatePolicy(c *gin.Context) {
	var p policy.Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := s.store.CreatePolicy(c.Request.Context(), &p); err != nil {
		storeError(c, err)
		return
	}
	s.recordAdmin(c, audit.ActionPolicyCreate, &audit.Resource{Name: p.Name, ID: p.ID})
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleListPolicies(c *gin.Context) {
	policies, err := s.store.ListPolicies(c.Request.Context())
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

func (s *Server) handleGetPolicy(c *gin.Context) {
	p, err := s.store.GetPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdatePolicy(c *gin.Context) {
	var p policy.Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p.ID = c.Param("id")
	p.UpdatedAt = time.Now()

	if err := s.store.UpdatePolicy(c.Request.Context(), &p); err != nil {
		storeError(c, err)
		return
	}
	s.recordAdmin(c, audit.ActionPolicyUpdate, &audit.Resource{Name: p.Name, ID: p.ID})
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleDeletePolicy(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.DeletePolicy(c.Request.Context(), id); err != nil {
		storeError(c, err)
		return
	}
	s.recordAdmin(c, audit.ActionPolicyDelete, &audit.Resource{ID: id})
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateRule(c *gin.Context) {
	var r policy.PolicyRule
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	r.PolicyID = c.Param("id")

	if err := s.store.CreateRule(c.Request.Context(), &r); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) handleListRules(c *gin.Context) {
	rules, err := s.store.ListRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	if err := s.store.DeleteRule(c.Request.Context(), c.Param("id"), c.Param("ruleId")); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateRolePolicy(c *gin.Context) {
	var rp policy.RolePolicy
	if err := c.ShouldBindJSON(&rp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if rp.AssignedAt.IsZero() {
		rp.AssignedAt = time.Now()
	}

	if err := s.store.CreateRolePolicy(c.Request.Context(), &rp); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rp)
}

func (s *Server) handleDeleteRolePolicy(c *gin.Context) {
	role := token.Role(c.Param("role"))
	if err := s.store.DeleteRolePolicy(c.Request.Context(), role, c.Param("id")); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateUserPolicy(c *gin.Context) {
	var up policy.UserPolicy
	if err := c.ShouldBindJSON(&up); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if up.AssignedAt.IsZero() {
		up.AssignedAt = time.Now()
	}

	if err := s.store.CreateUserPolicy(c.Request.Context(), &up); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, up)
}

func (s *Server) handleDeleteUserPolicy(c *gin.Context) {
	if err := s.store.DeleteUserPolicy(c.Request.Context(), c.Param("userId"), c.Param("id")); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
