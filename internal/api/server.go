package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"

	"github.com/rs/zerolog"
)

// HealthChecker is implemented by the database manager.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Presence is the live view of who is connected.
type Presence interface {
	IsOnline(userID string) bool
	Stats() map[string]int
}

// Dependencies are the stores and services the REST surface reads from.
type Dependencies struct {
	Verifier  interfaces.Verifier
	Directory interfaces.Directory
	Messages  interfaces.MessageStore
	Presence  interfaces.PresenceStore
	Tokens    interfaces.DeviceTokenStore
	Health    HealthChecker
	Live      Presence
}

// Server serves the REST API: health, presence lookups, message history and
// device token registration. Everything under /api/ requires a bearer token.
type Server struct {
	deps   Dependencies
	router *http.ServeMux
	logger zerolog.Logger
}

type contextKey struct{}

// NewServer creates a server and registers its routes.
func NewServer(deps Dependencies, logger zerolog.Logger) *Server {
	s := &Server{
		deps:   deps,
		router: http.NewServeMux(),
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("GET /health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))

	api := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(h)))
	}
	s.router.Handle("GET /api/presence/{userId}", api(s.getPresence))
	s.router.Handle("GET /api/channels/{channelId}/messages", api(s.channelHistory))
	s.router.Handle("GET /api/direct/{peerId}/messages", api(s.directHistory))
	s.router.Handle("POST /api/devices/token", api(s.registerDevice))
	s.router.Handle("DELETE /api/devices/token", api(s.unregisterDevice))
	s.router.Handle("OPTIONS /api/", s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type DeviceTokenResponse struct {
	Token      string    `json:"token"`
	DeviceType string    `json:"deviceType,omitempty"`
	DeviceID   string    `json:"deviceId,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
	}
	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		resp.Status = "unhealthy"
		resp.Database = "unavailable"
	}
	if s.deps.Live != nil {
		resp.Connections = s.deps.Live.Stats()
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// GET /api/presence/{userId}
func (s *Server) getPresence(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	event, err := s.deps.Presence.Presence(r.Context(), userID)
	if err != nil {
		s.sendError(w, err)
		return
	}

	// the registry is authoritative for the live flag; the store may lag
	if s.deps.Live != nil && s.deps.Live.IsOnline(userID) {
		event.IsOnline = true
		event.Status = types.StatusActive
	}
	s.writeJSON(w, http.StatusOK, event)
}

// GET /api/channels/{channelId}/messages?cursor=&limit=
func (s *Server) channelHistory(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	channelID := r.PathValue("channelId")

	member, err := s.deps.Directory.IsChannelMember(r.Context(), channelID, caller.ID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if !member {
		s.sendError(w, types.ErrNotAMember)
		return
	}

	cursor, limit, err := pageParams(r)
	if err != nil {
		s.sendError(w, err)
		return
	}
	page, err := s.deps.Messages.ChannelHistory(r.Context(), channelID, cursor, limit)
	if err != nil {
		s.sendError(w, historyError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// GET /api/direct/{peerId}/messages?cursor=&limit=
func (s *Server) directHistory(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	peerID := r.PathValue("peerId")

	if _, err := s.deps.Directory.User(r.Context(), peerID); err != nil {
		s.sendError(w, err)
		return
	}

	cursor, limit, err := pageParams(r)
	if err != nil {
		s.sendError(w, err)
		return
	}
	page, err := s.deps.Messages.DirectHistory(r.Context(), caller.ID, peerID, cursor, limit)
	if err != nil {
		s.sendError(w, historyError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// POST /api/devices/token
func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterDeviceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, err)
		return
	}

	token := types.DeviceToken{
		UserID:     callerFrom(r.Context()).ID,
		Token:      req.Token,
		DeviceType: req.DeviceType,
		DeviceID:   req.DeviceID,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.deps.Tokens.SaveDeviceToken(r.Context(), token); err != nil {
		s.sendError(w, storeError(err))
		return
	}

	s.logger.Debug().Str("user_id", token.UserID).Str("device_type", token.DeviceType).Msg("device token registered")
	s.writeJSON(w, http.StatusCreated, DeviceTokenResponse{
		Token:      token.Token,
		DeviceType: token.DeviceType,
		DeviceID:   token.DeviceID,
		UpdatedAt:  token.UpdatedAt,
	})
}

// DELETE /api/devices/token
func (s *Server) unregisterDevice(w http.ResponseWriter, r *http.Request) {
	var req types.UnregisterDeviceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, err)
		return
	}

	if err := s.deps.Tokens.DeleteDeviceToken(r.Context(), callerFrom(r.Context()).ID, req.Token); err != nil {
		s.sendError(w, storeError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pageParams(r *http.Request) (string, int, error) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return "", 0, types.ErrInvalidRequest
		}
		limit = n
	}
	return q.Get("cursor"), limit, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024))
	if err := dec.Decode(v); err != nil {
		return types.ErrInvalidRequest
	}
	return nil
}

func historyError(err error) error {
	if errors.Is(err, interfaces.ErrInvalidCursor) {
		return types.ErrInvalidRequest
	}
	return storeError(err)
}

// storeError tags unclassified persistence failures so they are reported
// without detail.
func storeError(err error) error {
	if types.ErrorCode(err) != types.CodeInternal {
		return err
	}
	return errors.Join(types.ErrStore, err)
}

var statusByCode = map[string]int{
	types.CodeUnauthorized:      http.StatusUnauthorized,
	types.CodeNotAMember:        http.StatusForbidden,
	types.CodeBlocked:           http.StatusForbidden,
	types.CodeChannelNotFound:   http.StatusNotFound,
	types.CodeRecipientNotFound: http.StatusNotFound,
	types.CodeInvalidRequest:    http.StatusBadRequest,
	types.CodeRateLimited:       http.StatusTooManyRequests,
	types.CodeStoreFailure:      http.StatusServiceUnavailable,
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	payload := types.NewErrorPayload(err, "")
	status, ok := statusByCode[payload.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	s.writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    payload.Code,
		Message: payload.Message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

// authMiddleware verifies the bearer token and stores the caller's identity
// on the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, credential, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(credential) == "" {
			s.sendError(w, types.ErrAuth)
			return
		}

		identity, err := s.deps.Verifier.Verify(r.Context(), strings.TrimSpace(credential))
		if err != nil {
			if !errors.Is(err, types.ErrAuth) {
				s.logger.Error().Err(err).Msg("credential verification failed")
				err = errors.Join(types.ErrStore, err)
			}
			s.sendError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, identity)))
	})
}

func callerFrom(ctx context.Context) types.UserIdentity {
	identity, _ := ctx.Value(contextKey{}).(types.UserIdentity)
	return identity
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
