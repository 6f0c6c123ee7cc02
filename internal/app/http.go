package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"golang.org/x/sync/errgroup"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", s.withMiddleware(http.HandlerFunc(s.handle)))
	return mux
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/register" {
		var body struct {
			UserID      string `json:"userId"`
			AccessToken string `json:"accessToken"`
			DeviceID    string `json:"deviceId"`
			FirstName   string `json:"firstName"`
			LastName    string `json:"lastName"`
			Photo       string `json:"photo"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		session, err := s.service.Register(r.Context(), CreateUserParams{
			UserID:      body.UserID,
			AccessToken: body.AccessToken,
			DeviceID:    body.DeviceID,
			FirstName:   body.FirstName,
			LastName:    body.LastName,
			Photo:       body.Photo,
		})
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		var body struct {
			UserID      string `json:"userId"`
			AccessToken string `json:"accessToken"`
			DeviceID    string `json:"deviceId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		session, err := s.service.Login(r.Context(), body.UserID, body.AccessToken, body.DeviceID)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/logout" {
		// Tokens are stateless; logout is a client-side discard.
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	sessionUser, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "user" {
		s.handleUser(w, r, parts[2], parts)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "group" {
		s.handleGroup(w, r, sessionUser, parts)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "invite" {
		s.handleInvite(w, r, sessionUser, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) handleUser(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodGet {
		var (
			user   User
			groups []Group
		)
		eg, ctx := errgroup.WithContext(r.Context())
		eg.Go(func() error {
			var err error
			user, err = s.service.Users.Get(ctx, userID)
			return err
		})
		eg.Go(func() error {
			var err error
			groups, err = s.service.Users.Groups(ctx, userID)
			return err
		})
		if err := eg.Wait(); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user, "groups": groups})
		return
	}

	if len(parts) == 4 && parts[3] == "kudos" && r.Method == http.MethodPost {
		var body struct {
			Amount int `json:"amount"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		total, err := s.service.Users.GiveKudos(r.Context(), userID, body.Amount)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "kudos": total})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) handleGroup(w http.ResponseWriter, r *http.Request, sessionUser string, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodPost {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		groupID, err := s.service.Groups.Create(r.Context(), sessionUser, body.Name)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		group, err := s.service.Groups.Get(r.Context(), groupID)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"group": group})
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
		return
	}
	groupID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodGet {
		var (
			group   Group
			members []User
		)
		eg, ctx := errgroup.WithContext(r.Context())
		eg.Go(func() error {
			var err error
			group, err = s.service.Groups.Get(ctx, groupID)
			return err
		})
		eg.Go(func() error {
			var err error
			members, err = s.service.Groups.Members(ctx, groupID)
			return err
		})
		if err := eg.Wait(); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"group": group, "members": members})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodPut {
		var body struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if body.UserID == "" {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "userId is required")
			return
		}
		if err := s.service.Groups.AddUser(r.Context(), body.UserID, groupID); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.Groups.Remove(r.Context(), groupID); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "task" && r.Method == http.MethodPost {
		var body struct {
			Title      string `json:"title"`
			AssignedTo string `json:"assignedTo"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		task, err := s.service.Groups.CreateTask(r.Context(), groupID, sessionUser, body.AssignedTo, body.Title)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"task": task})
		return
	}

	if len(parts) == 4 && (parts[3] == "tasks" || parts[3] == "completed") && r.Method == http.MethodGet {
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be an integer")
				return
			}
			limit = parsed
		}
		var (
			tasks []Task
			err   error
		)
		if parts[3] == "tasks" {
			tasks, err = s.service.Groups.Tasks(r.Context(), groupID, limit)
		} else {
			tasks, err = s.service.Groups.CompletedTasks(r.Context(), groupID, limit)
		}
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
		return
	}

	if len(parts) == 5 && parts[3] == "task" && r.Method == http.MethodDelete {
		if err := s.service.Groups.DeleteTask(r.Context(), groupID, parts[4]); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 5 && parts[3] == "complete" && r.Method == http.MethodPost {
		s.handleCompleteTask(w, r, sessionUser, groupID, parts[4])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

// handleCompleteTask runs the move and the member fetch in parallel, then
// fans the notification out. A push failure is logged, not surfaced: the
// completion already committed.
func (s *HTTPServer) handleCompleteTask(w http.ResponseWriter, r *http.Request, sessionUser, groupID, taskID string) {
	var (
		task    Task
		members []User
	)
	eg, ctx := errgroup.WithContext(r.Context())
	eg.Go(func() error {
		var err error
		task, err = s.service.Groups.CompleteTask(ctx, groupID, taskID, sessionUser)
		return err
	})
	eg.Go(func() error {
		var err error
		members, err = s.service.Groups.Members(ctx, groupID)
		return err
	})
	if err := eg.Wait(); err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}

	if err := s.service.NotifyCompletion(r.Context(), sessionUser, task, members); err != nil {
		slog.Error("completion push failed", "group", groupID, "task", task.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *HTTPServer) handleInvite(w http.ResponseWriter, r *http.Request, sessionUser string, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodPost {
		var body struct {
			GroupID string `json:"groupId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if body.GroupID == "" {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "groupId is required")
			return
		}

		members, err := s.service.Groups.Members(r.Context(), body.GroupID)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		isMember := false
		for _, member := range members {
			if member.ID == sessionUser {
				isMember = true
				break
			}
		}
		if !isMember {
			writeError(w, http.StatusForbidden, "FORBIDDEN",
				fmt.Sprintf("user %s is not a member of group %s", sessionUser, body.GroupID))
			return
		}

		code, err := s.service.Invites.Create(r.Context(), sessionUser, body.GroupID)
		if err != nil {
			status, errCode, message := mapError(err)
			writeError(w, status, errCode, message)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"code": code})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		invite, err := s.service.Invites.Get(r.Context(), parts[2])
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invite": invite})
		return
	}

	if len(parts) == 4 && parts[3] == "redeem" && r.Method == http.MethodPost {
		invite, err := s.service.Invites.Get(r.Context(), parts[2])
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		if err := s.service.Groups.AddUser(r.Context(), sessionUser, invite.GroupID); err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "groupId": invite.GroupID})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return "", false
	}
	userID, err := s.service.SessionUser(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return "", false
	}
	return userID, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		observeRequest(r.Method, writer.status, duration)
		slog.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string) {
	if domain, ok := asDomainError(err); ok {
		return domain.Status, domain.Code, domain.Message
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
