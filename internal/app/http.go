package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"tandem/api/internal/auth"
	"tandem/api/internal/export"
	"tandem/api/internal/search"
	"tandem/api/internal/store"
	"tandem/api/internal/telemetry"
)

type HTTPServer struct {
	service     *Service
	corsOrigin  string
	tokenSecret []byte
}

func NewHTTPServer(service *Service, corsOrigin, tokenSecret string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, tokenSecret: []byte(tokenSecret)}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/session/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/session", s.handleSession).Methods(http.MethodGet)

	r.HandleFunc("/api/workspaces/{id}", s.authed(s.handleWorkspace)).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/members", s.authed(s.handleMembers)).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/join", s.authed(s.handleJoin)).Methods(http.MethodPost)
	r.HandleFunc("/api/workspaces/{id}/channels", s.authed(s.handleListChannels)).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/channels", s.authed(s.handleCreateChannel)).Methods(http.MethodPost)
	r.HandleFunc("/api/workspaces/{id}/dms", s.authed(s.handleListDMs)).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/dms", s.authed(s.handleEnsureDM)).Methods(http.MethodPost)

	r.HandleFunc("/api/channels/{id}/messages", s.authed(s.handleChannelMessages)).Methods(http.MethodGet)
	r.HandleFunc("/api/channels/{id}/messages", s.authed(s.handleSendChannelMessage)).Methods(http.MethodPost)
	r.HandleFunc("/api/channels/{id}/pins", s.authed(s.handleChannelPins)).Methods(http.MethodGet)
	r.HandleFunc("/api/dms/{id}/messages", s.authed(s.handleDMMessages)).Methods(http.MethodGet)
	r.HandleFunc("/api/dms/{id}/messages", s.authed(s.handleSendDMMessage)).Methods(http.MethodPost)
	r.HandleFunc("/api/dms/{id}/pins", s.authed(s.handleDMPins)).Methods(http.MethodGet)

	r.HandleFunc("/api/messages/{id}", s.authed(s.handleMessage)).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/{id}/reactions", s.authed(s.handleToggleReaction)).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}/read", s.authed(s.handleMarkRead)).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}/reads", s.authed(s.handleReads)).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/{id}/pin", s.authed(s.handleTogglePin)).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}/replies", s.authed(s.handleThreadReplies)).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/{id}/replies", s.authed(s.handleReplyToThread)).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}/attachments", s.authed(s.handleUploadAttachment)).Methods(http.MethodPost)

	r.HandleFunc("/api/search", s.authed(s.handleSearch)).Methods(http.MethodGet)

	r.HandleFunc("/api/assist/tone", s.authed(s.handleAssistTone)).Methods(http.MethodPost)
	r.HandleFunc("/api/assist/notes", s.authed(s.handleAssistNotes)).Methods(http.MethodPost)
	r.HandleFunc("/api/assist/org-brain", s.authed(s.handleAssistOrgBrain)).Methods(http.MethodPost)
	r.HandleFunc("/api/assist/suggest-reply", s.authed(s.handleAssistSuggestReply)).Methods(http.MethodPost)

	r.HandleFunc("/api/export", s.authed(s.handleExport)).Methods(http.MethodGet)

	r.HandleFunc("/api/ws", s.handleWS).Methods(http.MethodGet)

	return s.withMiddleware(r)
}

// identity middleware

type identityKey struct{}

func (s *HTTPServer) authed(next func(http.ResponseWriter, *http.Request, Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token", nil)
			return
		}
		id, err := s.service.IdentityFromToken(r.Context(), token)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next(w, r.WithContext(ctx), id)
	}
}

// health and session

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
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
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleLogin issues a signed access token. Development convenience;
// production deployments front this with the identity provider.
func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	body.Email = strings.TrimSpace(body.Email)
	if body.Name == "" || body.Email == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "name and email are required", nil)
		return
	}
	// The profile id column is a UUID, so the derived subject must be
	// one too. Same email, same id, across logins.
	sub := uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+strings.ToLower(body.Email)))
	token, err := auth.IssueToken(s.tokenSecret, auth.Claims{
		Sub:   sub.String(),
		Name:  body.Name,
		Email: body.Email,
		Exp:   time.Now().Add(24 * time.Hour).Unix(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
		return
	}
	id, err := s.service.IdentityFromToken(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"userId":   id.UserID,
		"userName": id.Name,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	id, err := s.service.IdentityFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        id.UserID,
		"userName":      id.Name,
		"email":         id.Email,
	})
}

// workspaces

func (s *HTTPServer) handleWorkspace(w http.ResponseWriter, r *http.Request, id Identity) {
	ws, err := s.service.Workspace(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkspaceDTO(ws))
}

func (s *HTTPServer) handleMembers(w http.ResponseWriter, r *http.Request, id Identity) {
	members, err := s.service.Members(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]memberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberDTO(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (s *HTTPServer) handleJoin(w http.ResponseWriter, r *http.Request, id Identity) {
	if err := s.service.JoinWorkspace(r.Context(), mux.Vars(r)["id"], id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListChannels(w http.ResponseWriter, r *http.Request, id Identity) {
	channels, err := s.service.Channels(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]channelDTO, 0, len(channels))
	for _, c := range channels {
		out = append(out, toChannelDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func (s *HTTPServer) handleCreateChannel(w http.ResponseWriter, r *http.Request, id Identity) {
	var body struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ch, err := s.service.CreateChannel(r.Context(), mux.Vars(r)["id"], body.Name, body.Type, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChannelDTO(ch))
}

func (s *HTTPServer) handleListDMs(w http.ResponseWriter, r *http.Request, id Identity) {
	dms, err := s.service.DMs(r.Context(), mux.Vars(r)["id"], id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]dmDTO, 0, len(dms))
	for _, d := range dms {
		out = append(out, toDMDTO(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"dms": out})
}

func (s *HTTPServer) handleEnsureDM(w http.ResponseWriter, r *http.Request, id Identity) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	dm, err := s.service.EnsureDM(r.Context(), mux.Vars(r)["id"], body.UserID, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDMDTO(dm))
}

// messages

func queryLimit(r *http.Request) int {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	return limit
}

func (s *HTTPServer) handleChannelMessages(w http.ResponseWriter, r *http.Request, id Identity) {
	msgs, err := s.service.ChannelMessages(r.Context(), mux.Vars(r)["id"], queryLimit(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessageDTOs(msgs)})
}

func (s *HTTPServer) handleDMMessages(w http.ResponseWriter, r *http.Request, id Identity) {
	msgs, err := s.service.DMMessages(r.Context(), mux.Vars(r)["id"], queryLimit(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessageDTOs(msgs)})
}

func (s *HTTPServer) handleSendChannelMessage(w http.ResponseWriter, r *http.Request, id Identity) {
	s.handleSendMessage(w, r, id, mux.Vars(r)["id"], "")
}

func (s *HTTPServer) handleSendDMMessage(w http.ResponseWriter, r *http.Request, id Identity) {
	s.handleSendMessage(w, r, id, "", mux.Vars(r)["id"])
}

func (s *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request, id Identity, channelID, dmID string) {
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	msg, err := s.service.SendMessage(r.Context(), channelID, dmID, body.Content, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageDTO(msg))
}

func (s *HTTPServer) handleMessage(w http.ResponseWriter, r *http.Request, id Identity) {
	msg, err := s.service.Message(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageDTO(msg))
}

func (s *HTTPServer) handleToggleReaction(w http.ResponseWriter, r *http.Request, id Identity) {
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Emoji) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "emoji is required", nil)
		return
	}
	present, err := s.service.ToggleReaction(r.Context(), mux.Vars(r)["id"], body.Emoji, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reacted": present})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request, id Identity) {
	if err := s.service.MarkRead(r.Context(), mux.Vars(r)["id"], id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReads(w http.ResponseWriter, r *http.Request, id Identity) {
	reads, err := s.service.Reads(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": toReceiptDTOs(reads)})
}

func (s *HTTPServer) handleTogglePin(w http.ResponseWriter, r *http.Request, id Identity) {
	pinned, err := s.service.TogglePin(r.Context(), mux.Vars(r)["id"], id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pinned": pinned})
}

func (s *HTTPServer) handleChannelPins(w http.ResponseWriter, r *http.Request, id Identity) {
	pins, err := s.service.Pinned(r.Context(), mux.Vars(r)["id"], "")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pins": toPinDTOs(pins)})
}

func (s *HTTPServer) handleDMPins(w http.ResponseWriter, r *http.Request, id Identity) {
	pins, err := s.service.Pinned(r.Context(), "", mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pins": toPinDTOs(pins)})
}

// threads

func (s *HTTPServer) handleThreadReplies(w http.ResponseWriter, r *http.Request, id Identity) {
	replies, err := s.service.ThreadReplies(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replies": toReplyDTOs(replies)})
}

func (s *HTTPServer) handleReplyToThread(w http.ResponseWriter, r *http.Request, id Identity) {
	var body struct {
		ReplyText string `json:"replyText"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	reply, err := s.service.ReplyToThread(r.Context(), mux.Vars(r)["id"], body.ReplyText, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReplyDTO(reply))
}

// attachments

const maxUploadBytes = 25 << 20

func (s *HTTPServer) handleUploadAttachment(w http.ResponseWriter, r *http.Request, id Identity) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "Multipart form required", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "A file field is required", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	att, err := s.service.UploadAttachment(r.Context(), mux.Vars(r)["id"], header.Filename, contentType, header.Size, file, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttachmentDTO(att))
}

// search

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, id Identity) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "A q parameter is required", nil)
		return
	}
	limit := 20
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	resp := s.service.Search(r.Context(), search.Query{
		Text:              text,
		FilterType:        search.ResultType(q.Get("type")),
		FilterWorkspaceID: q.Get("workspaceId"),
		FilterChannelID:   q.Get("channelId"),
		Limit:             limit,
		Offset:            offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

// assist

func (s *HTTPServer) handleAssistTone(w http.ResponseWriter, r *http.Request, id Identity) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "message is required", nil)
		return
	}
	res, err := s.service.AnalyzeTone(r.Context(), body.Message, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type conversationBody struct {
	ChannelID string `json:"channelId"`
	DMID      string `json:"dmId"`
}

func (b conversationBody) valid() bool {
	return (b.ChannelID == "") != (b.DMID == "")
}

func (s *HTTPServer) handleAssistNotes(w http.ResponseWriter, r *http.Request, id Identity) {
	var body conversationBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if !body.valid() {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Exactly one of channelId or dmId is required", nil)
		return
	}
	res, err := s.service.MeetingNotes(r.Context(), body.ChannelID, body.DMID, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleAssistOrgBrain(w http.ResponseWriter, r *http.Request, id Identity) {
	var body struct {
		WorkspaceID string `json:"workspaceId"`
		Question    string `json:"question"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "question is required", nil)
		return
	}
	res, err := s.service.AskOrgBrain(r.Context(), body.WorkspaceID, body.Question, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleAssistSuggestReply(w http.ResponseWriter, r *http.Request, id Identity) {
	var body conversationBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if !body.valid() {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Exactly one of channelId or dmId is required", nil)
		return
	}
	reply, err := s.service.SuggestReply(r.Context(), body.ChannelID, body.DMID, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reply": reply})
}

// export

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, id Identity) {
	q := r.URL.Query()
	channelID := q.Get("channelId")
	dmID := q.Get("dmId")
	if (channelID == "") == (dmID == "") {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "Exactly one of channelId or dmId is required", nil)
		return
	}
	format := export.Format(q.Get("format"))
	if format == "" {
		format = export.FormatPDF
	}
	if format != export.FormatPDF && format != export.FormatDOCX {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "format must be pdf or docx", nil)
		return
	}
	includeThreads := q.Get("includeThreads") == "true"

	var (
		result *export.Result
		err    error
	)
	if q.Get("kind") == "notes" {
		result, err = s.service.ExportNotes(r.Context(), channelID, dmID, format, id)
	} else {
		result, err = s.service.ExportTranscript(r.Context(), channelID, dmID, format, includeThreads)
	}
	if err != nil {
		switch {
		case errors.Is(err, export.ErrConversationUnavailable):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
		case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
			writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export renderer unavailable", nil)
		default:
			s.writeServiceError(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// error mapping

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// middleware and helpers

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		if r.Method == http.MethodOptions {
			setCORSHeaders(w.Header(), s.corsOrigin)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if r.URL.Path != "/api/ws" {
			setCORSHeaders(writer.Header(), s.corsOrigin)
		}
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		telemetry.HTTPRequests.WithLabelValues(r.URL.Path, strconv.Itoa(writer.status)).Inc()
		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade pass through the status recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack unsupported")
	}
	return hj.Hijack()
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
