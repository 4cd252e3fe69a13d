package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cpike5/gatelink/pkg/accounts"
	"github.com/cpike5/gatelink/pkg/httputil"
	"github.com/cpike5/gatelink/pkg/invite"
)

func (s *Server) issueInvite(w http.ResponseWriter, r *http.Request) {
	var req IssueInviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ExternalID <= 0 {
		httputil.WriteBadRequest(w, "external_id must be a positive integer")
		return
	}
	if req.TTLHours < 0 {
		httputil.WriteBadRequest(w, "ttl_hours must not be negative")
		return
	}

	token, err := s.registry.Issue(r.Context(), req.ExternalID, req.DisplayName, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		s.writeInviteError(w, "issue", err)
		return
	}

	if s.metrics != nil {
		s.metrics.InvitesIssuedTotal.Inc()
	}
	httputil.WriteJSON(w, http.StatusCreated, toInviteResponse(token))
}

func (s *Server) validateInvite(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	token, err := s.registry.Validate(r.Context(), code)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, ValidateResponse{
			Valid:  true,
			Reason: ReasonValid,
			Invite: toInviteResponse(token),
		})
	case errors.Is(err, invite.ErrNotFound):
		httputil.WriteJSON(w, http.StatusOK, ValidateResponse{Valid: false, Reason: ReasonNotFound})
	case errors.Is(err, invite.ErrAlreadyConsumed):
		httputil.WriteJSON(w, http.StatusOK, ValidateResponse{Valid: false, Reason: ReasonAlreadyConsumed})
	case errors.Is(err, invite.ErrExpired):
		httputil.WriteJSON(w, http.StatusOK, ValidateResponse{Valid: false, Reason: ReasonExpired})
	default:
		httputil.WriteInternalError(w, err)
	}
}

func (s *Server) consumeInvite(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req ConsumeInviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.AccountID == "" {
		httputil.WriteBadRequest(w, "account_id is required")
		return
	}

	token, err := s.registry.Consume(r.Context(), code, req.AccountID)
	if err != nil {
		s.writeInviteError(w, "consume", err)
		return
	}

	if s.metrics != nil {
		s.metrics.InvitesConsumedTotal.Inc()
	}
	httputil.WriteJSON(w, http.StatusOK, toInviteResponse(token))
}

func (s *Server) revokeInvite(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	if err := s.registry.Revoke(r.Context(), code); err != nil {
		s.writeInviteError(w, "revoke", err)
		return
	}

	if s.metrics != nil {
		s.metrics.InvitesRevokedTotal.Inc()
	}
	httputil.WriteNoContent(w)
}

func (s *Server) listInvites(w http.ResponseWriter, r *http.Request) {
	externalID, ok := s.parseExternalID(w, r)
	if !ok {
		return
	}

	tokens, err := s.registry.ListFor(r.Context(), externalID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	responses := make([]*InviteResponse, 0, len(tokens))
	for _, token := range tokens {
		responses = append(responses, toInviteResponse(token))
	}
	httputil.WriteJSON(w, http.StatusOK, responses)
}

func (s *Server) linkAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req LinkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ExternalID <= 0 {
		httputil.WriteBadRequest(w, "external_id must be a positive integer")
		return
	}

	if err := s.linker.Link(r.Context(), accountID, req.ExternalID, req.DisplayName); err != nil {
		s.writeInviteError(w, "link", err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) unlinkAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	if err := s.linker.Unlink(r.Context(), accountID); err != nil {
		s.writeInviteError(w, "unlink", err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Role == "" {
		httputil.WriteBadRequest(w, "role is required")
		return
	}

	if err := s.linker.AssignRole(r.Context(), accountID, req.Role); err != nil {
		s.writeInviteError(w, "assign_role", err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) removeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := s.linker.RemoveRole(r.Context(), vars["id"], vars["role"]); err != nil {
		s.writeInviteError(w, "remove_role", err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) rolesOf(w http.ResponseWriter, r *http.Request) {
	externalID, ok := s.parseExternalID(w, r)
	if !ok {
		return
	}

	roles, err := s.cache.RolesOf(r.Context(), externalID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RolesResponse{ExternalID: externalID, Roles: roles})
}

func (s *Server) checkRole(w http.ResponseWriter, r *http.Request) {
	externalID, ok := s.parseExternalID(w, r)
	if !ok {
		return
	}
	role := mux.Vars(r)["role"]

	allowed, err := s.cache.IsInRole(r.Context(), externalID, role)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RoleCheckResponse{
		ExternalID: externalID,
		Role:       role,
		Allowed:    allowed,
	})
}

func (s *Server) invalidateCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.InvalidateAll(r.Context()); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) parseExternalID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["externalID"]
	externalID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || externalID <= 0 {
		httputil.WriteBadRequest(w, "invalid external identity")
		return 0, false
	}
	return externalID, true
}

// writeInviteError maps the closed error set onto HTTP statuses and reason
// codes, and records the failure metric.
func (s *Server) writeInviteError(w http.ResponseWriter, operation string, err error) {
	status, reason := http.StatusInternalServerError, ""
	switch {
	case errors.Is(err, invite.ErrNotFound):
		status, reason = http.StatusNotFound, ReasonNotFound
	case errors.Is(err, invite.ErrAlreadyConsumed):
		status, reason = http.StatusConflict, ReasonAlreadyConsumed
	case errors.Is(err, invite.ErrExpired):
		status, reason = http.StatusGone, ReasonExpired
	case errors.Is(err, invite.ErrAlreadyLinked):
		status, reason = http.StatusConflict, ReasonAlreadyLinked
	case errors.Is(err, invite.ErrNotActive):
		status, reason = http.StatusConflict, ReasonNotActive
	case errors.Is(err, accounts.ErrLinkConflict):
		status, reason = http.StatusConflict, ReasonLinkConflict
	case errors.Is(err, accounts.ErrAccountNotFound):
		status, reason = http.StatusNotFound, "account_not_found"
	}

	if s.metrics != nil {
		label := reason
		if label == "" {
			label = "internal"
		}
		s.metrics.InviteFailuresTotal.WithLabelValues(operation, label).Inc()
	}

	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("operation", operation).Error("operation failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteReason(w, status, reason, err.Error())
}
