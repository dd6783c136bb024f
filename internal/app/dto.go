package app

import (
	"time"

	"tandem/api/internal/live"
	"tandem/api/internal/store"
)

// Wire shapes for JSON responses and websocket frames. The store
// models stay tag-free; everything crossing the API boundary goes
// through these.

type profileDTO struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type workspaceDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
}

type memberDTO struct {
	UserID   string     `json:"userId"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
	Profile  profileDTO `json:"profile"`
}

type channelDTO struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

type dmDTO struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	User1       profileDTO `json:"user1"`
	User2       profileDTO `json:"user2"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type reactionDTO struct {
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

type attachmentDTO struct {
	ID       string `json:"id"`
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

type messageDTO struct {
	ID          string          `json:"id"`
	ChannelID   string          `json:"channelId,omitempty"`
	DMID        string          `json:"dmId,omitempty"`
	SenderID    string          `json:"senderId"`
	Content     string          `json:"content"`
	CreatedAt   time.Time       `json:"createdAt"`
	IsPinned    bool            `json:"isPinned"`
	ReplyCount  int             `json:"replyCount"`
	Provisional bool            `json:"provisional"`
	Sender      profileDTO      `json:"sender"`
	Reactions   []reactionDTO   `json:"reactions"`
	Attachments []attachmentDTO `json:"attachments"`
}

type receiptDTO struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type replyDTO struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"threadId"`
	ReplyText string     `json:"replyText"`
	CreatedAt time.Time  `json:"createdAt"`
	Sender    profileDTO `json:"sender"`
}

type pinDTO struct {
	MessageID string     `json:"messageId"`
	PinnedBy  string     `json:"pinnedBy"`
	PinnedAt  time.Time  `json:"pinnedAt"`
	Message   messageDTO `json:"message"`
}

func toProfileDTO(p store.Profile) profileDTO {
	return profileDTO{ID: p.ID, FullName: p.FullName, Email: p.Email}
}

func toWorkspaceDTO(w store.Workspace) workspaceDTO {
	return workspaceDTO{ID: w.ID, Name: w.Name, Slug: w.Slug, CreatedAt: w.CreatedAt}
}

func toMemberDTO(m store.WorkspaceMember) memberDTO {
	return memberDTO{UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt, Profile: toProfileDTO(m.Profile)}
}

func toChannelDTO(c store.Channel) channelDTO {
	return channelDTO{ID: c.ID, WorkspaceID: c.WorkspaceID, Name: c.Name, Type: c.Type, CreatedBy: c.CreatedBy, CreatedAt: c.CreatedAt}
}

func toDMDTO(d store.DirectMessage) dmDTO {
	return dmDTO{ID: d.ID, WorkspaceID: d.WorkspaceID, User1: toProfileDTO(d.User1), User2: toProfileDTO(d.User2), CreatedAt: d.CreatedAt}
}

func toMessageDTO(m store.Message) messageDTO {
	dto := messageDTO{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		DMID:        m.DMID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		IsPinned:    m.IsPinned,
		ReplyCount:  m.ReplyCount,
		Provisional: !live.IsConfirmedID(m.ID),
		Sender:      toProfileDTO(m.Sender),
		Reactions:   make([]reactionDTO, 0, len(m.Reactions)),
		Attachments: make([]attachmentDTO, 0, len(m.Attachments)),
	}
	for _, r := range m.Reactions {
		dto.Reactions = append(dto.Reactions, reactionDTO{UserID: r.UserID, Emoji: r.Emoji, CreatedAt: r.CreatedAt})
	}
	for _, a := range m.Attachments {
		dto.Attachments = append(dto.Attachments, attachmentDTO{ID: a.ID, FileURL: a.FileURL, FileType: a.FileType, FileName: a.FileName, FileSize: a.FileSize})
	}
	return dto
}

func toMessageDTOs(msgs []store.Message) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	return out
}

func toReceiptDTOs(reads []store.ReadReceipt) []receiptDTO {
	out := make([]receiptDTO, 0, len(reads))
	for _, r := range reads {
		out = append(out, receiptDTO{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return out
}

func toReplyDTO(r store.ThreadReply) replyDTO {
	return replyDTO{ID: r.ID, ThreadID: r.ThreadID, ReplyText: r.ReplyText, CreatedAt: r.CreatedAt, Sender: toProfileDTO(r.Sender)}
}

func toReplyDTOs(replies []store.ThreadReply) []replyDTO {
	out := make([]replyDTO, 0, len(replies))
	for _, r := range replies {
		out = append(out, toReplyDTO(r))
	}
	return out
}

func toPinDTOs(pins []store.PinnedMessage) []pinDTO {
	out := make([]pinDTO, 0, len(pins))
	for _, p := range pins {
		out = append(out, pinDTO{MessageID: p.MessageID, PinnedBy: p.PinnedBy, PinnedAt: p.PinnedAt, Message: toMessageDTO(p.Message)})
	}
	return out
}

func toAttachmentDTO(a store.Attachment) attachmentDTO {
	return attachmentDTO{ID: a.ID, FileURL: a.FileURL, FileType: a.FileType, FileName: a.FileName, FileSize: a.FileSize}
}

// deltaFrame is one server-to-client websocket frame.
type deltaFrame struct {
	Type      string       `json:"type"`
	Key       string       `json:"key,omitempty"`
	Messages  []messageDTO `json:"messages,omitempty"`
	Message   *messageDTO  `json:"message,omitempty"`
	RemovedID string       `json:"removedId,omitempty"`
	MessageID string       `json:"messageId,omitempty"`
	Receipts  []receiptDTO `json:"receipts,omitempty"`
	Typing    []typistDTO  `json:"typing,omitempty"`
}

type typistDTO struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
}

func toDeltaFrame(d live.Delta) deltaFrame {
	frame := deltaFrame{
		Type:      string(d.Type),
		RemovedID: d.RemovedID,
		MessageID: d.MessageID,
	}
	if !d.Key.IsZero() {
		frame.Key = d.Key.String()
	}
	if d.Messages != nil {
		frame.Messages = toMessageDTOs(d.Messages)
	}
	if d.Message.ID != "" {
		dto := toMessageDTO(d.Message)
		frame.Message = &dto
	}
	if d.Typing != nil {
		frame.Typing = make([]typistDTO, 0, len(d.Typing))
		for _, p := range d.Typing {
			frame.Typing = append(frame.Typing, typistDTO{UserID: p.UserID, FullName: p.FullName})
		}
	}
	if d.Receipts != nil {
		frame.Receipts = toReceiptDTOs(d.Receipts)
	}
	return frame
}
