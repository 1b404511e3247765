package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/accounts"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/store"
	"taskboard/api/internal/uploads"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	uploads    uploads.Store
	corsOrigin string
	log        *logrus.Logger
}

func NewHTTPServer(service *Service, uploadStore uploads.Store, corsOrigin string, log *logrus.Logger) *HTTPServer {
	return &HTTPServer{service: service, uploads: uploadStore, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
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
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
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

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "users":
		s.handleUsers(w, r, parts)
	case "organizations":
		s.handleOrganizations(w, r, parts)
	case "boards":
		s.handleBoards(w, r, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// ── /api/users ──

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method == http.MethodPost && len(parts) == 3 {
		switch parts[2] {
		case "signup":
			s.handleSignUp(w, r)
			return
		case "login":
			s.handleLogin(w, r)
			return
		case "logout":
			s.handleLogout(w, r)
			return
		}
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "profile" {
		userID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		payload, err := s.service.Profile(r.Context(), userID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": payload})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "orgUsers" {
		orgID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		items, err := s.service.OrgUsers(r.Context(), session, orgID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": items})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "analytics" {
		orgID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		items, err := s.service.UserAnalytics(r.Context(), session, orgID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analytics": items})
		return
	}

	if r.Method == http.MethodPut && len(parts) == 3 {
		userID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleUpdateProfile(w, r, session, userID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Phone    string `json:"phone"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, user, err := s.service.SignUp(r.Context(), accounts.SignUpRequest{
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
		Phone:    body.Phone,
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	setSessionCookie(w, session)
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": session.Token,
		"user":  user,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, user, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, map[string]any{
		"token": session.Token,
		"user":  user,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := requestToken(r); token != "" {
		if session, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			_ = s.service.Logout(r.Context(), session)
		}
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request, session Session, userID int64) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
		return
	}
	pic, err := s.storeUpload(r, "profile_pic")
	if err != nil {
		writeError(w, http.StatusBadRequest, "UPLOAD_FAILED", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateProfile(r.Context(), session, accounts.UpdateProfileRequest{
		UserID:     userID,
		Name:       r.FormValue("name"),
		Email:      r.FormValue("email"),
		Phone:      r.FormValue("phone"),
		ProfilePic: pic,
	})
	if err != nil {
		if pic != nil {
			s.service.DiscardUpload(*pic)
		}
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": payload})
}

// ── /api/organizations ──

func (s *HTTPServer) handleOrganizations(w http.ResponseWriter, r *http.Request, parts []string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "createOrg" {
		var body struct {
			Name    string  `json:"name"`
			Members []int64 `json:"members"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateOrganization(r.Context(), session, body.Name, body.Members)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"organization": payload})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "getOrgs" {
		items, err := s.service.Organizations(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"organizations": items})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "analytics" {
		orgID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		payload, err := s.service.OrgTaskAnalytics(r.Context(), session, orgID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analytics": payload})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 5 && parts[2] == "cards" && parts[3] == "analytics" {
		orgID, ok := parseID(w, parts[4])
		if !ok {
			return
		}
		items, err := s.service.CardAnalytics(r.Context(), session, orgID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analytics": items})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "boards" {
		orgID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		items, err := s.service.Boards(r.Context(), session, orgID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"boards": items})
		return
	}

	if r.Method == http.MethodPost && len(parts) == 5 && parts[3] == "boards" && parts[4] == "createBoard" {
		orgID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleCreateBoard(w, r, session, orgID)
		return
	}

	if len(parts) == 4 && parts[3] == "cards" {
		boardID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		if r.Method == http.MethodGet {
			items, err := s.service.Cards(r.Context(), session, boardID)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"cards": items})
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateCard(r.Context(), session, boardID, body.Name)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"card": payload})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request, session Session, orgID int64) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
		return
	}
	img, err := s.storeUpload(r, "img")
	if err != nil {
		writeError(w, http.StatusBadRequest, "UPLOAD_FAILED", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateBoard(r.Context(), session, orgID, r.FormValue("name"), img)
	if err != nil {
		if img != nil {
			s.service.DiscardUpload(*img)
		}
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"board": payload})
}

// ── /api/boards ──

func (s *HTTPServer) handleBoards(w http.ResponseWriter, r *http.Request, parts []string) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPut && len(parts) == 4 && parts[2] == "tasks" && parts[3] == "move" {
		var body MoveTaskInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.MoveTask(r.Context(), session, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "analytics" {
		orgID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		items, err := s.service.ActivityAnalytics(r.Context(), session, orgID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analytics": items})
		return
	}

	if len(parts) == 4 && parts[3] == "tasks" {
		id, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.BoardTasks(r.Context(), session, id)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			s.handleCreateTask(w, r, session, id)
		case http.MethodPut:
			s.handleUpdateTask(w, r, session, id)
		case http.MethodDelete:
			if err := s.service.DeleteTask(r.Context(), session, id); err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request, session Session, cardID int64) {
	input, err := s.parseTaskForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateTask(r.Context(), session, cardID, input)
	if err != nil {
		if input.Img != nil {
			s.service.DiscardUpload(*input.Img)
		}
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": payload})
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request, session Session, taskID int64) {
	input, err := s.parseTaskForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.UpdateTask(r.Context(), session, taskID, input); err != nil {
		if input.Img != nil {
			s.service.DiscardUpload(*input.Img)
		}
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// parseTaskForm reads a task create/update multipart body: text fields plus an
// optional "img" file and a "tags" field holding a JSON array.
func (s *HTTPServer) parseTaskForm(r *http.Request) (TaskInput, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return TaskInput{}, fmt.Errorf("invalid multipart form")
	}

	input := TaskInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Priority:    strings.ToLower(strings.TrimSpace(r.FormValue("priority"))),
	}

	if raw := strings.TrimSpace(r.FormValue("position")); raw != "" {
		pos, err := strconv.Atoi(raw)
		if err != nil {
			return TaskInput{}, fmt.Errorf("position must be an integer")
		}
		input.Position = &pos
	}

	if raw := strings.TrimSpace(r.FormValue("assigned_to")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return TaskInput{}, fmt.Errorf("assigned_to must be an integer")
		}
		input.AssignedTo = &id
	}

	if raw := strings.TrimSpace(r.FormValue("due_date")); raw != "" {
		due, err := parseDate(raw)
		if err != nil {
			return TaskInput{}, fmt.Errorf("due_date must be an RFC 3339 timestamp or YYYY-MM-DD date")
		}
		input.DueDate = &due
	}

	if raw := strings.TrimSpace(r.FormValue("tags")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Tags); err != nil {
			return TaskInput{}, fmt.Errorf("tags must be a JSON array")
		}
	}

	img, err := s.storeUpload(r, "img")
	if err != nil {
		return TaskInput{}, err
	}
	input.Img = img
	return input, nil
}

// storeUpload stores the named form file, when present, and returns its
// public path.
func (s *HTTPServer) storeUpload(r *http.Request, field string) (*string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	defer file.Close()

	stored, err := s.uploads.Save(r.Context(), uploads.NewName(header.Filename), file, header.Size, contentType(header))
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", field, err)
	}
	return &stored, nil
}

func contentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func parseDate(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", raw)
}

// ── Sessions and plumbing ──

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := requestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// requestToken prefers the http-only session cookie, falling back to a
// bearer header for non-browser clients.
func requestToken(r *http.Request) string {
	if cookie, err := r.Cookie("token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func setSessionCookie(w http.ResponseWriter, session Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
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

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
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

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
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

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var invalidInput *accounts.ValidationError
	if errors.As(err, &invalidInput) {
		return http.StatusBadRequest, "VALIDATION_ERROR", invalidInput.Reason, nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, accounts.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, accounts.ErrEmailExists), errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "Card changed since last read, refresh and retry", nil
	case errors.Is(err, store.ErrTaskNotInCard):
		return http.StatusConflict, "TASK_NOT_IN_CARD", "Task is no longer in the source card", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
