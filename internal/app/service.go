package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"tandem/api/internal/assist"
	"tandem/api/internal/auth"
	"tandem/api/internal/blob"
	"tandem/api/internal/config"
	"tandem/api/internal/export"
	"tandem/api/internal/live"
	"tandem/api/internal/realtime"
	"tandem/api/internal/search"
	"tandem/api/internal/store"
	"tandem/api/internal/telemetry"
)

// Identity is the verified caller of a request.
type Identity struct {
	UserID string
	Name   string
	Email  string
}

// Service wires the row store, the push transport and the platform
// sidecars behind one API surface. All conversation writes go through
// it so every mutation reaches the change feed.
type Service struct {
	cfg         config.Config
	store       Store
	feed        *realtime.Client
	blob        *blob.Service
	search      *search.Service
	assist      *assist.Service
	assistLimit *assist.Limiter
	export      *export.Service
}

func New(cfg config.Config, st Store, feed *realtime.Client, blobSvc *blob.Service, searchSvc *search.Service, assistSvc *assist.Service) *Service {
	s := &Service{
		cfg:         cfg,
		store:       st,
		feed:        feed,
		blob:        blobSvc,
		search:      searchSvc,
		assist:      assistSvc,
		assistLimit: assist.NewLimiter(cfg.AssistRPS, cfg.AssistBurst),
	}
	s.export = export.NewService(&exportStore{store: st})
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// IdentityFromToken verifies an access token and keeps the profile row
// in sync with the identity provider's claims.
func (s *Service) IdentityFromToken(ctx context.Context, token string) (Identity, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Identity{}, domainError(http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token", nil)
	}
	if err := s.store.UpsertProfile(ctx, store.Profile{
		ID:       claims.Sub,
		FullName: claims.Name,
		Email:    claims.Email,
	}); err != nil {
		return Identity{}, fmt.Errorf("upsert profile: %w", err)
	}
	return Identity{UserID: claims.Sub, Name: claims.Name, Email: claims.Email}, nil
}

// Windows returns the sync timing configuration.
func (s *Service) Windows() live.Windows {
	return live.Windows{
		Dedupe:      s.cfg.DedupeWindow,
		Swap:        s.cfg.SwapWindow,
		TypingIdle:  s.cfg.TypingIdle,
		PresenceTTL: s.cfg.PresenceTTL,
		Settle:      s.cfg.SettleDelay,
	}
}

// NewLiveSession creates a realtime session for one connected view.
// Its store publishes every insert to the change feed, so the sender's
// own confirmation arrives the same way everyone else's does.
func (s *Service) NewLiveSession(id Identity) *live.Session {
	return live.NewSession(live.SessionConfig{
		UserID: id.UserID,
		Profile: store.Profile{
			ID:       id.UserID,
			FullName: id.Name,
			Email:    id.Email,
		},
		Store:   &publishingStore{store: s.store, service: s},
		Feed:    s.feed,
		Windows: s.Windows(),
	})
}

// publishingStore adapts the row store for live sessions: reads pass
// through, inserts additionally hit the change feed and the search
// index.
type publishingStore struct {
	store   Store
	service *Service
}

func (p *publishingStore) ListChannelMessages(ctx context.Context, channelID string, limit int) ([]store.Message, error) {
	return p.store.ListChannelMessages(ctx, channelID, limit)
}

func (p *publishingStore) ListDMMessages(ctx context.Context, dmID string, limit int) ([]store.Message, error) {
	return p.store.ListDMMessages(ctx, dmID, limit)
}

func (p *publishingStore) GetMessage(ctx context.Context, messageID string) (store.Message, error) {
	return p.store.GetMessage(ctx, messageID)
}

func (p *publishingStore) InsertMessage(ctx context.Context, channelID, dmID, senderID, content string) (store.Message, error) {
	return p.service.insertAndPublish(ctx, channelID, dmID, senderID, content)
}

func (p *publishingStore) ListReactions(ctx context.Context, messageID string) ([]store.Reaction, error) {
	return p.store.ListReactions(ctx, messageID)
}

func (p *publishingStore) ListReads(ctx context.Context, messageID string) ([]store.ReadReceipt, error) {
	return p.store.ListReads(ctx, messageID)
}

func (s *Service) insertAndPublish(ctx context.Context, channelID, dmID, senderID, content string) (store.Message, error) {
	msg, err := s.store.InsertMessage(ctx, channelID, dmID, senderID, content)
	if err != nil {
		return store.Message{}, err
	}

	row, err := json.Marshal(map[string]any{
		"id":         msg.ID,
		"channel_id": msg.ChannelID,
		"dm_id":      msg.DMID,
		"sender_id":  msg.SenderID,
		"content":    msg.Content,
		"created_at": msg.CreatedAt,
	})
	if err == nil {
		ev := realtime.Event{
			Table:  "messages",
			Action: realtime.ActionInsert,
			Match:  conversationMatch(msg.ChannelID, msg.DMID),
			Row:    row,
		}
		if err := s.feed.Publish(ctx, ev); err != nil {
			// The row is committed; readers converge on the next fetch.
			log.Printf("app: publish message %s: %v", msg.ID, err)
		}
	}

	s.indexMessage(ctx, msg)
	if s.assist != nil && s.assist.IsConfigured() {
		go func() {
			mctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.assist.StoreReplyMemory(mctx, senderID, content); err != nil {
				log.Printf("app: reply memory: %v", err)
			}
		}()
	}
	return msg, nil
}

func conversationMatch(channelID, dmID string) realtime.Match {
	if dmID != "" {
		return realtime.Match{Column: "dm_id", Value: dmID}
	}
	return realtime.Match{Column: "channel_id", Value: channelID}
}

func conversationKey(channelID, dmID string) live.Key {
	if dmID != "" {
		return live.DMKey(dmID)
	}
	return live.ChannelKey(channelID)
}

func (s *Service) indexMessage(ctx context.Context, msg store.Message) {
	if s.search == nil {
		return
	}
	rec := search.MessageRecord{
		ID:        msg.ID,
		Content:   msg.Content,
		ChannelID: msg.ChannelID,
		DMID:      msg.DMID,
	}
	if profile, err := s.store.GetProfile(ctx, msg.SenderID); err == nil {
		rec.SenderName = profile.FullName
	}
	if msg.ChannelID != "" {
		if ch, err := s.store.GetChannel(ctx, msg.ChannelID); err == nil {
			rec.WorkspaceID = ch.WorkspaceID
		}
	} else if dm, err := s.store.GetDM(ctx, msg.DMID); err == nil {
		rec.WorkspaceID = dm.WorkspaceID
	}
	s.search.IndexMessage(rec)
}

// publishAux emits a secondary-state change on the conversation-scoped
// topic the live sessions demux from.
func (s *Service) publishAux(ctx context.Context, table string, action realtime.Action, channelID, dmID, messageID string, extra map[string]any) {
	payload := map[string]any{"message_id": messageID}
	for k, v := range extra {
		payload[k] = v
	}
	row, err := json.Marshal(payload)
	if err != nil {
		return
	}
	key := conversationKey(channelID, dmID)
	ev := realtime.Event{
		Table:  table,
		Action: action,
		Match:  realtime.Match{Column: "conversation", Value: key.String()},
		Row:    row,
	}
	if err := s.feed.Publish(ctx, ev); err != nil {
		log.Printf("app: publish %s for %s: %v", table, messageID, err)
	}
}

// --- workspaces, channels, DMs ---

func (s *Service) Workspace(ctx context.Context, workspaceID string) (store.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Workspace{}, domainError(http.StatusNotFound, "WORKSPACE_NOT_FOUND", "Workspace not found", nil)
	}
	return ws, err
}

func (s *Service) Members(ctx context.Context, workspaceID string) ([]store.WorkspaceMember, error) {
	return s.store.ListWorkspaceMembers(ctx, workspaceID)
}

func (s *Service) JoinWorkspace(ctx context.Context, workspaceID string, id Identity) error {
	if _, err := s.Workspace(ctx, workspaceID); err != nil {
		return err
	}
	return s.store.EnsureMembership(ctx, workspaceID, id.UserID, "member")
}

func (s *Service) Channels(ctx context.Context, workspaceID string) ([]store.Channel, error) {
	return s.store.ListChannels(ctx, workspaceID)
}

func (s *Service) CreateChannel(ctx context.Context, workspaceID, name, chanType string, id Identity) (store.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Channel{}, domainError(http.StatusBadRequest, "INVALID_CHANNEL", "Channel name is required", nil)
	}
	if chanType != "public" && chanType != "private" {
		chanType = "public"
	}
	return s.store.CreateChannel(ctx, workspaceID, name, chanType, id.UserID)
}

func (s *Service) DMs(ctx context.Context, workspaceID string, id Identity) ([]store.DirectMessage, error) {
	return s.store.ListDMsForUser(ctx, workspaceID, id.UserID)
}

func (s *Service) EnsureDM(ctx context.Context, workspaceID, otherUserID string, id Identity) (store.DirectMessage, error) {
	if otherUserID == "" || otherUserID == id.UserID {
		return store.DirectMessage{}, domainError(http.StatusBadRequest, "INVALID_DM", "A DM needs a distinct second participant", nil)
	}
	return s.store.EnsureDM(ctx, workspaceID, id.UserID, otherUserID)
}

// --- messages ---

func (s *Service) ChannelMessages(ctx context.Context, channelID string, limit int) ([]store.Message, error) {
	return s.store.ListChannelMessages(ctx, channelID, limit)
}

func (s *Service) DMMessages(ctx context.Context, dmID string, limit int) ([]store.Message, error) {
	return s.store.ListDMMessages(ctx, dmID, limit)
}

func (s *Service) SendMessage(ctx context.Context, channelID, dmID, content string, id Identity) (store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return store.Message{}, domainError(http.StatusBadRequest, "EMPTY_MESSAGE", "Message content is required", nil)
	}
	if (channelID == "") == (dmID == "") {
		return store.Message{}, domainError(http.StatusBadRequest, "INVALID_CONVERSATION", "Exactly one of channelId or dmId is required", nil)
	}
	msg, err := s.insertAndPublish(ctx, channelID, dmID, id.UserID, content)
	if err != nil {
		return store.Message{}, err
	}
	telemetry.MessagesSent.Inc()
	return msg, nil
}

func (s *Service) Message(ctx context.Context, messageID string) (store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Message{}, domainError(http.StatusNotFound, "MESSAGE_NOT_FOUND", "Message not found", nil)
	}
	return msg, err
}

func (s *Service) ToggleReaction(ctx context.Context, messageID, emoji string, id Identity) (bool, error) {
	if !live.IsConfirmedID(messageID) {
		return false, domainError(http.StatusBadRequest, "UNCONFIRMED_MESSAGE", "Cannot react to an unconfirmed message", nil)
	}
	msg, err := s.Message(ctx, messageID)
	if err != nil {
		return false, err
	}
	present, err := s.store.ToggleReaction(ctx, messageID, id.UserID, emoji)
	if err != nil {
		return false, err
	}
	action := realtime.ActionInsert
	if !present {
		action = realtime.ActionDelete
	}
	s.publishAux(ctx, "message_reactions", action, msg.ChannelID, msg.DMID, messageID, map[string]any{
		"user_id": id.UserID,
		"emoji":   emoji,
	})
	return present, nil
}

func (s *Service) MarkRead(ctx context.Context, messageID string, id Identity) error {
	if !live.IsConfirmedID(messageID) {
		// Provisional ids never reach the receipts table.
		return nil
	}
	msg, err := s.Message(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == id.UserID {
		return nil
	}
	if err := s.store.MarkRead(ctx, messageID, id.UserID); err != nil {
		return err
	}
	s.publishAux(ctx, "message_reads", realtime.ActionInsert, msg.ChannelID, msg.DMID, messageID, map[string]any{
		"user_id": id.UserID,
	})
	return nil
}

func (s *Service) Reads(ctx context.Context, messageID string) ([]store.ReadReceipt, error) {
	return s.store.ListReads(ctx, messageID)
}

func (s *Service) TogglePin(ctx context.Context, messageID string, id Identity) (bool, error) {
	if !live.IsConfirmedID(messageID) {
		return false, domainError(http.StatusBadRequest, "UNCONFIRMED_MESSAGE", "Cannot pin an unconfirmed message", nil)
	}
	msg, err := s.Message(ctx, messageID)
	if err != nil {
		return false, err
	}
	pinned, err := s.store.TogglePin(ctx, messageID, msg.ChannelID, msg.DMID, id.UserID)
	if err != nil {
		return false, err
	}
	action := realtime.ActionInsert
	if !pinned {
		action = realtime.ActionDelete
	}
	s.publishAux(ctx, "pinned_messages", action, msg.ChannelID, msg.DMID, messageID, map[string]any{
		"pinned_by": id.UserID,
	})
	return pinned, nil
}

func (s *Service) Pinned(ctx context.Context, channelID, dmID string) ([]store.PinnedMessage, error) {
	return s.store.ListPinned(ctx, channelID, dmID)
}

// --- threads ---

func (s *Service) ThreadReplies(ctx context.Context, threadID string) ([]store.ThreadReply, error) {
	return s.store.ListThreadReplies(ctx, threadID)
}

func (s *Service) ReplyToThread(ctx context.Context, threadID, replyText string, id Identity) (store.ThreadReply, error) {
	replyText = strings.TrimSpace(replyText)
	if replyText == "" {
		return store.ThreadReply{}, domainError(http.StatusBadRequest, "EMPTY_REPLY", "Reply text is required", nil)
	}
	parent, err := s.Message(ctx, threadID)
	if err != nil {
		return store.ThreadReply{}, err
	}
	workspaceID := ""
	if parent.ChannelID != "" {
		if ch, err := s.store.GetChannel(ctx, parent.ChannelID); err == nil {
			workspaceID = ch.WorkspaceID
		}
	} else if dm, err := s.store.GetDM(ctx, parent.DMID); err == nil {
		workspaceID = dm.WorkspaceID
	}

	reply, err := s.store.InsertThreadReply(ctx, threadID, workspaceID, id.UserID, replyText)
	if err != nil {
		return store.ThreadReply{}, err
	}
	s.publishAux(ctx, "thread_replies", realtime.ActionInsert, parent.ChannelID, parent.DMID, threadID, map[string]any{
		"reply_id":  reply.ID,
		"sender_id": id.UserID,
	})
	if s.search != nil {
		s.search.IndexReply(search.ReplyRecord{
			ID:          reply.ID,
			ReplyText:   replyText,
			SenderName:  id.Name,
			ThreadID:    threadID,
			WorkspaceID: workspaceID,
		})
	}
	return reply, nil
}

// --- attachments ---

func (s *Service) UploadAttachment(ctx context.Context, messageID, filename, contentType string, size int64, r io.Reader, id Identity) (store.Attachment, error) {
	if s.blob == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "BLOB_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	msg, err := s.Message(ctx, messageID)
	if err != nil {
		return store.Attachment{}, err
	}
	fileURL, err := s.blob.Upload(ctx, id.UserID, messageID, filename, contentType, size, r)
	if err != nil {
		return store.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}

	workspaceID := ""
	if msg.ChannelID != "" {
		if ch, err := s.store.GetChannel(ctx, msg.ChannelID); err == nil {
			workspaceID = ch.WorkspaceID
		}
	} else if dm, err := s.store.GetDM(ctx, msg.DMID); err == nil {
		workspaceID = dm.WorkspaceID
	}

	att, err := s.store.InsertAttachment(ctx, store.Attachment{
		WorkspaceID: workspaceID,
		MessageID:   messageID,
		FileURL:     fileURL,
		FileType:    contentType,
		FileName:    filename,
		FileSize:    size,
		UploadedBy:  id.UserID,
	})
	if err != nil {
		// Orphaned object; best effort cleanup.
		if rmErr := s.blob.Remove(ctx, fileURL); rmErr != nil {
			log.Printf("app: remove orphaned upload %s: %v", fileURL, rmErr)
		}
		return store.Attachment{}, err
	}
	s.publishAux(ctx, "attachments", realtime.ActionInsert, msg.ChannelID, msg.DMID, messageID, map[string]any{
		"file_url":  fileURL,
		"file_name": filename,
	})
	return att, nil
}

// --- search ---

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// --- assist ---

func (s *Service) assistGate(id Identity) error {
	if s.assist == nil || !s.assist.IsConfigured() {
		return domainError(http.StatusServiceUnavailable, "ASSIST_UNAVAILABLE", "Assist is not configured", nil)
	}
	if !s.assistLimit.Allow(id.UserID) {
		return domainError(http.StatusTooManyRequests, "ASSIST_RATE_LIMITED", "Too many assist requests", nil)
	}
	return nil
}

func (s *Service) AnalyzeTone(ctx context.Context, message string, id Identity) (assist.ToneResult, error) {
	if err := s.assistGate(id); err != nil {
		return assist.ToneResult{}, err
	}
	res, err := s.assist.AnalyzeTone(ctx, message)
	if err != nil {
		telemetry.AssistFailures.Inc()
		return assist.ToneResult{}, domainError(http.StatusBadGateway, "ASSIST_FAILED", "Tone analysis failed", nil)
	}
	return res, nil
}

func (s *Service) MeetingNotes(ctx context.Context, channelID, dmID string, id Identity) (assist.NotesResult, error) {
	if err := s.assistGate(id); err != nil {
		return assist.NotesResult{}, err
	}
	lines, err := s.transcript(ctx, channelID, dmID)
	if err != nil {
		return assist.NotesResult{}, err
	}
	res, err := s.assist.MeetingNotes(ctx, lines)
	if err != nil {
		telemetry.AssistFailures.Inc()
		return assist.NotesResult{}, domainError(http.StatusBadGateway, "ASSIST_FAILED", "Meeting notes generation failed", nil)
	}
	return res, nil
}

func (s *Service) AskOrgBrain(ctx context.Context, workspaceID, question string, id Identity) (assist.BrainAnswer, error) {
	if err := s.assistGate(id); err != nil {
		return assist.BrainAnswer{}, err
	}
	res, err := s.assist.AskOrgBrain(ctx, workspaceID, question)
	if err != nil {
		telemetry.AssistFailures.Inc()
		return assist.BrainAnswer{}, domainError(http.StatusBadGateway, "ASSIST_FAILED", "Org brain request failed", nil)
	}
	return res, nil
}

func (s *Service) SuggestReply(ctx context.Context, channelID, dmID string, id Identity) (string, error) {
	if err := s.assistGate(id); err != nil {
		return "", err
	}
	lines, err := s.transcript(ctx, channelID, dmID)
	if err != nil {
		return "", err
	}
	reply, err := s.assist.SuggestReply(ctx, id.UserID, lines)
	if err != nil {
		telemetry.AssistFailures.Inc()
		return "", domainError(http.StatusBadGateway, "ASSIST_FAILED", "Reply suggestion failed", nil)
	}
	return reply, nil
}

func (s *Service) transcript(ctx context.Context, channelID, dmID string) ([]assist.TranscriptLine, error) {
	var (
		msgs []store.Message
		err  error
	)
	if dmID != "" {
		msgs, err = s.store.ListDMMessages(ctx, dmID, 100)
	} else {
		msgs, err = s.store.ListChannelMessages(ctx, channelID, 100)
	}
	if err != nil {
		return nil, err
	}
	lines := make([]assist.TranscriptLine, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, assist.TranscriptLine{
			Sender:  m.Sender.FullName,
			Content: m.Content,
			SentAt:  m.CreatedAt.Format(time.RFC3339),
		})
	}
	return lines, nil
}

// --- export ---

func (s *Service) ExportTranscript(ctx context.Context, channelID, dmID string, format export.Format, includeThreads bool) (*export.Result, error) {
	return s.export.Export(ctx, export.Request{
		Kind:           export.KindTranscript,
		ChannelID:      channelID,
		DMID:           dmID,
		Format:         format,
		IncludeThreads: includeThreads,
	})
}

// ExportNotes summarizes the conversation via assist and renders the
// result as a document.
func (s *Service) ExportNotes(ctx context.Context, channelID, dmID string, format export.Format, id Identity) (*export.Result, error) {
	notes, err := s.MeetingNotes(ctx, channelID, dmID, id)
	if err != nil {
		return nil, err
	}
	return s.export.Export(ctx, export.Request{
		Kind:      export.KindNotes,
		ChannelID: channelID,
		DMID:      dmID,
		Format:    format,
		Notes: &export.Notes{
			Title:       notes.Title,
			Summary:     notes.Summary,
			KeyPoints:   notes.KeyPoints,
			ActionItems: notes.ActionItems,
			GeneratedAt: time.Now().UTC(),
		},
	})
}

// exportStore adapts the row store for the export renderer.
type exportStore struct {
	store Store
}

func (e *exportStore) GetConversation(ctx context.Context, channelID, dmID string) (export.ConversationInfo, error) {
	if channelID != "" {
		ch, err := e.store.GetChannel(ctx, channelID)
		if err != nil {
			return export.ConversationInfo{}, err
		}
		info := export.ConversationInfo{Title: "#" + ch.Name}
		if ws, err := e.store.GetWorkspace(ctx, ch.WorkspaceID); err == nil {
			info.WorkspaceName = ws.Name
		}
		return info, nil
	}
	dm, err := e.store.GetDM(ctx, dmID)
	if err != nil {
		return export.ConversationInfo{}, err
	}
	info := export.ConversationInfo{Title: dmTitle(dm)}
	if ws, err := e.store.GetWorkspace(ctx, dm.WorkspaceID); err == nil {
		info.WorkspaceName = ws.Name
	}
	return info, nil
}

func dmTitle(dm store.DirectMessage) string {
	names := make([]string, 0, 2)
	for _, p := range []store.Profile{dm.User1, dm.User2} {
		if p.FullName != "" {
			names = append(names, p.FullName)
		}
	}
	if len(names) == 0 {
		return "Direct messages"
	}
	return strings.Join(names, " and ")
}

func (e *exportStore) ListMessages(ctx context.Context, channelID, dmID string) ([]export.MessageInfo, error) {
	var (
		msgs []store.Message
		err  error
	)
	if channelID != "" {
		msgs, err = e.store.ListChannelMessages(ctx, channelID, 500)
	} else {
		msgs, err = e.store.ListDMMessages(ctx, dmID, 500)
	}
	if err != nil {
		return nil, err
	}
	out := make([]export.MessageInfo, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, export.MessageInfo{
			ID:         m.ID,
			Sender:     m.Sender.FullName,
			Content:    m.Content,
			SentAt:     m.CreatedAt,
			Pinned:     m.IsPinned,
			ReplyCount: m.ReplyCount,
		})
	}
	return out, nil
}

func (e *exportStore) ListThreadReplies(ctx context.Context, messageID string) ([]export.ReplyInfo, error) {
	replies, err := e.store.ListThreadReplies(ctx, messageID)
	if err != nil {
		return nil, err
	}
	out := make([]export.ReplyInfo, 0, len(replies))
	for _, r := range replies {
		out = append(out, export.ReplyInfo{Sender: r.Sender.FullName, Body: r.ReplyText})
	}
	return out, nil
}
