package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetConversation(ctx context.Context, channelID, dmID string) (ConversationInfo, error)
	ListMessages(ctx context.Context, channelID, dmID string) ([]MessageInfo, error)
	ListThreadReplies(ctx context.Context, messageID string) ([]ReplyInfo, error)
}

// ConversationInfo holds conversation metadata for the export header
type ConversationInfo struct {
	Title         string
	WorkspaceName string
}

// MessageInfo holds one message to render
type MessageInfo struct {
	ID         string
	Sender     string
	Content    string
	SentAt     time.Time
	Pinned     bool
	ReplyCount int
}

// ReplyInfo holds one thread reply
type ReplyInfo struct {
	Sender string
	Body   string
}

// Service renders conversation exports
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	conv, err := s.store.GetConversation(ctx, req.ChannelID, req.DMID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversationUnavailable, err)
	}

	var html string
	title := conv.Title
	switch req.Kind {
	case KindNotes:
		if req.Notes == nil {
			return nil, fmt.Errorf("notes export without notes")
		}
		if req.Notes.Title != "" {
			title = req.Notes.Title
		}
		html, err = RenderNotesHTML(NotesData{
			Title:         title,
			WorkspaceName: conv.WorkspaceName,
			Conversation:  conv.Title,
			GeneratedAt:   req.Notes.GeneratedAt,
			Summary:       req.Notes.Summary,
			KeyPoints:     req.Notes.KeyPoints,
			ActionItems:   req.Notes.ActionItems,
		})
	default:
		html, err = s.renderTranscript(ctx, req, conv)
	}
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (s *Service) renderTranscript(ctx context.Context, req Request, conv ConversationInfo) (string, error) {
	messages, err := s.store.ListMessages(ctx, req.ChannelID, req.DMID)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	data := TemplateData{
		Title:         conv.Title,
		WorkspaceName: conv.WorkspaceName,
		ExportedAt:    time.Now().UTC(),
		Messages:      make([]TemplateMessage, 0, len(messages)),
	}
	for _, m := range messages {
		tm := TemplateMessage{
			Sender:  m.Sender,
			SentAt:  m.SentAt,
			Content: m.Content,
			Pinned:  m.Pinned,
		}
		if req.IncludeThreads && m.ReplyCount > 0 {
			// Reply fetch failures degrade to a transcript without
			// that thread.
			if replies, err := s.store.ListThreadReplies(ctx, m.ID); err == nil {
				for _, r := range replies {
					tm.Replies = append(tm.Replies, TemplateReply{Sender: r.Sender, Body: r.Body})
				}
			}
		}
		data.Messages = append(data.Messages, tm)
	}
	return RenderTranscriptHTML(data)
}
