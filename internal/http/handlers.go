package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wealthflow/internal/core"
	"wealthflow/internal/identity"
	"wealthflow/internal/log"
	"wealthflow/internal/middleware/trace"
)

// Error codes returned in JSON error bodies
const (
	CodeNoToken      = "NO_TOKEN"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeAuthFailed   = "AUTH_FAILED"
	CodeBadRequest   = "BAD_REQUEST"
	CodeRateLimited  = "RATE_LIMITED"
	CodePushFailed   = "PUSH_FAILED"
)

type contextKey string

const userContextKey contextKey = "user"

// UserFromContext returns the user the authenticate middleware resolved
func UserFromContext(ctx context.Context) (core.User, bool) {
	u, ok := ctx.Value(userContextKey).(core.User)
	return u, ok
}

// PushRequest is the body of POST /api/push
type PushRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PushResponse reports how the event was dispatched. Delivered is only known
// for direct emits; bus publishes are delivered asynchronously by every instance.
type PushResponse struct {
	Via       string `json:"via"`
	Delivered int    `json:"delivered"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "OK",
		"timestamp":   s.now().UTC().Format(time.RFC3339),
		"environment": s.environment,
		"service":     ServiceName,
		"uptime":      s.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "Route not found",
		"path":  r.URL.Path,
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "Method not allowed",
		"path":  r.URL.Path,
	})
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusTooManyRequests, "Too many requests", CodeRateLimited)
}

// authenticate resolves the bearer token to a user and stores it on the context
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := identity.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "No token provided", CodeNoToken)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		user, err := s.provider.GetUser(ctx, token)
		cancel()
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, identity.ErrMissingToken) {
				writeError(w, http.StatusUnauthorized, "Invalid or expired token", CodeInvalidToken)
				return
			}
			log.FromContext(r.Context()).ErrorContext(r.Context(), "Authentication failed",
				log.FieldError, err.Error(),
				log.FieldRequestID, trace.GetRequestID(r.Context()))
			writeError(w, http.StatusInternalServerError, "Authentication failed", CodeAuthFailed)
			return
		}

		ctx = context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userKey buckets rate limits by authenticated user
func userKey(r *http.Request) string {
	if u, ok := UserFromContext(r.Context()); ok {
		return "user:" + u.ID
	}
	return "anon"
}

// handlePush emits an event to every connection of the calling user
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	logger := log.FromContext(r.Context())

	var req PushRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid push body: %v", err), CodeBadRequest)
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "event type is required", CodeBadRequest)
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		writeError(w, http.StatusBadRequest, "payload is not valid JSON", CodeBadRequest)
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	if s.publisher != nil {
		if err := s.publisher.PublishUserEvent(r.Context(), user.ID, req.Type, payload); err != nil {
			logger.ErrorContext(r.Context(), "Failed to publish push",
				log.FieldUserID, user.ID,
				log.FieldEventType, req.Type,
				log.FieldError, err.Error())
			writeError(w, http.StatusBadGateway, "Could not publish event", CodePushFailed)
			return
		}
		writeJSON(w, http.StatusAccepted, PushResponse{Via: "bus"})
		return
	}

	delivered, err := s.emitter.EmitToUser(user.ID, req.Type, payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
		return
	}
	logger.DebugContext(r.Context(), "Push emitted",
		log.FieldUserID, user.ID,
		log.FieldEventType, req.Type,
		"delivered", delivered)
	writeJSON(w, http.StatusAccepted, PushResponse{Via: "direct", Delivered: delivered})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
