// Package http serves the tenant connection command surface and its event
// streams.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/connections"
	"github.com/nextlevelbuilder/edugate/internal/store"
	"github.com/nextlevelbuilder/edugate/pkg/protocol"
)

// DefaultHeartbeat is the keep-alive interval on event streams.
const DefaultHeartbeat = 30 * time.Second

// ConnectionHandler serves /v1/tenants/{id}/connection/*.
type ConnectionHandler struct {
	mgr            *connections.Manager
	tenants        store.TenantStore
	auth           *Authenticator
	limiter        *RateLimiter
	allowedOrigins []string
	heartbeat      time.Duration
}

func NewConnectionHandler(mgr *connections.Manager, tenants store.TenantStore, auth *Authenticator, limiter *RateLimiter) *ConnectionHandler {
	if limiter == nil {
		limiter = NewRateLimiter(-1, 0)
	}
	return &ConnectionHandler{
		mgr:       mgr,
		tenants:   tenants,
		auth:      auth,
		limiter:   limiter,
		heartbeat: DefaultHeartbeat,
	}
}

// SetAllowedOrigins restricts browser origins on the WebSocket stream.
func (h *ConnectionHandler) SetAllowedOrigins(origins []string) { h.allowedOrigins = origins }

// SetHeartbeat overrides the stream keep-alive interval.
func (h *ConnectionHandler) SetHeartbeat(d time.Duration) { h.heartbeat = d }

// RegisterRoutes registers all connection routes on the given mux.
func (h *ConnectionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(protocol.RouteConnect, h.tenant(h.limited(protocol.CommandConnect, h.handleConnect)))
	mux.HandleFunc(protocol.RoutePairingCode, h.tenant(h.limited(protocol.CommandRequestPairingCode, h.handlePairingCode)))
	mux.HandleFunc(protocol.RouteDisconnect, h.tenant(h.handleDisconnect))
	mux.HandleFunc(protocol.RouteReconnect, h.tenant(h.handleReconnect))
	mux.HandleFunc(protocol.RouteRefreshQR, h.tenant(h.limited(protocol.CommandRefreshQR, h.handleRefreshQR)))
	mux.HandleFunc(protocol.RouteStatus, h.tenant(h.handleStatus))
	mux.HandleFunc(protocol.RouteEvents, h.tenant(h.handleEvents))
	mux.HandleFunc(protocol.RouteEventsWS, h.tenant(h.handleWS))
	mux.HandleFunc(protocol.RouteGroup, h.tenant(h.handleBindGroup))
}

type tenantHandler func(w http.ResponseWriter, r *http.Request, tenant *store.TenantData)

// tenant authenticates the caller and loads the tenant named by {id}.
func (h *ConnectionHandler) tenant(next tenantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, "invalid tenant id")
			return
		}

		p, err := h.auth.Authenticate(r, id)
		switch {
		case errors.Is(err, errForbidden):
			writeError(w, http.StatusForbidden, protocol.ErrCodeForbidden, "token not valid for this tenant")
			return
		case err != nil:
			writeError(w, http.StatusUnauthorized, protocol.ErrCodeUnauthorized, "unauthorized")
			return
		}

		t, err := h.tenants.Get(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, protocol.ErrCodeNotFound, "tenant not found")
			return
		}
		if err != nil {
			slog.Error("http.tenant_lookup_failed", "tenant", id, "error", err)
			writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternal, "tenant lookup failed")
			return
		}

		next(w, r.WithContext(withPrincipal(r.Context(), p)), t)
	}
}

func (h *ConnectionHandler) limited(command string, next tenantHandler) tenantHandler {
	return func(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
		if !h.limiter.Allow(t.ID.String() + ":" + command) {
			slog.Warn("security.rate_limited", "tenant", t.ID, "command", command)
			writeError(w, http.StatusTooManyRequests, protocol.ErrCodeRateLimited, "too many requests")
			return
		}
		next(w, r, t)
	}
}

type commandResponse struct {
	Success          bool       `json:"success"`
	Connected        bool       `json:"connected,omitempty"`
	Locked           bool       `json:"locked,omitempty"`
	LockedUntil      *time.Time `json:"lockedUntil,omitempty"`
	RemainingSeconds int        `json:"remainingSeconds,omitempty"`
	PhoneNumber      string     `json:"phoneNumber,omitempty"`
	GroupAddress     string     `json:"groupAddress,omitempty"`
	Error            string     `json:"error,omitempty"`
	Message          string     `json:"message,omitempty"`
}

// writeCommandError maps manager errors to HTTP responses.
func writeCommandError(w http.ResponseWriter, err error) {
	var le *connections.LockedError
	switch {
	case errors.As(err, &le):
		until := le.Until
		writeJSON(w, http.StatusLocked, commandResponse{
			Locked:           true,
			LockedUntil:      &until,
			RemainingSeconds: int(le.Remaining.Round(time.Second) / time.Second),
			Error:            protocol.ErrCodeLocked,
			Message:          err.Error(),
		})
	case errors.Is(err, connections.ErrAlreadyConnected):
		writeError(w, http.StatusConflict, protocol.ErrCodeAlreadyConnected, err.Error())
	case errors.Is(err, connections.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidPhone, err.Error())
	case errors.Is(err, connections.ErrInvalidGroup):
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidGroup, err.Error())
	case errors.Is(err, connections.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, protocol.ErrCodeInternal, err.Error())
	default:
		slog.Error("http.command_failed", "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternal, "internal error")
	}
}

func (h *ConnectionHandler) handleConnect(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
	res, err := h.mgr.Connect(r.Context(), t.ID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	if res.Connected {
		writeJSON(w, http.StatusOK, commandResponse{Success: true, Connected: true})
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Success: true})
}

type pairingCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

func (h *ConnectionHandler) handlePairingCode(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
	var req pairingCodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	phone, err := h.mgr.RequestPairingCode(r.Context(), t.ID, req.PhoneNumber)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Success: true, PhoneNumber: phone})
}

func (h *ConnectionHandler) handleDisconnect(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
	if err := h.mgr.Disconnect(r.Context(), t.ID); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Success: true})
}

// handleReconnect is the administrative recovery path: it tears down the
// link and clears the attempt counter and lock.
func (h *ConnectionHandler) handleReconnect(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
	p, _ := PrincipalFrom(r.Context())
	if !p.IsAdmin() {
		writeError(w, http.StatusForbidden, protocol.ErrCodeForbidden, "admin role required")
		return
	}
	if err := h.mgr.Disconnect(r.Context(), t.ID); err != nil {
		writeCommandError(w, err)
		return
	}
	if err := h.mgr.ResetAttempts(r.Context(), t.ID); err != nil {
		writeCommandError(w, err)
		return
	}
	slog.Info("security.connection_reset", "tenant", t.ID, "operator", p.Operator, "role", p.Role)
	writeJSON(w, http.StatusOK, commandResponse{Success: true})
}

func (h *ConnectionHandler) handleRefreshQR(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
	if err := h.mgr.RefreshQR(r.Context(), t.ID); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Success: true})
}

type bindGroupRequest struct {
	GroupAddress string `json:"groupAddress"`
}

// handleBindGroup binds the tenant's school group so group messages route to
// it. Admin only.
func (h *ConnectionHandler) handleBindGroup(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
	p, _ := PrincipalFrom(r.Context())
	if !p.IsAdmin() {
		writeError(w, http.StatusForbidden, protocol.ErrCodeForbidden, "admin role required")
		return
	}
	var req bindGroupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	addr, err := h.mgr.BindGroup(r.Context(), t.ID, req.GroupAddress)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	slog.Info("security.group_bound", "tenant", t.ID, "operator", p.Operator, "group", addr)
	writeJSON(w, http.StatusOK, commandResponse{Success: true, GroupAddress: addr})
}

type tenantInfo struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	GatewayAddress string    `json:"gatewayAddress,omitempty"`
	GroupAddress   string    `json:"groupAddress,omitempty"`
}

type statusResponse struct {
	Success bool `json:"success"`
	connections.State
	Tenant tenantInfo `json:"tenant"`
}

func (h *ConnectionHandler) handleStatus(w http.ResponseWriter, r *http.Request, t *store.TenantData) {
	st, err := h.mgr.State(r.Context(), t.ID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Success: true,
		State:   st,
		Tenant: tenantInfo{
			ID:             t.ID,
			Name:           t.Name,
			GatewayAddress: t.GatewayAddress,
			GroupAddress:   t.GroupAddress,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, commandResponse{Error: code, Message: message})
}
