package app

import (
	"context"

	"tandem/api/internal/store"
)

// Store is the slice of the row store the service layer depends on.
// *store.PostgresStore satisfies it; tests substitute fakes.
type Store interface {
	Ping(ctx context.Context) error

	UpsertProfile(ctx context.Context, p store.Profile) error
	GetProfile(ctx context.Context, userID string) (store.Profile, error)

	GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error)
	ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]store.WorkspaceMember, error)
	EnsureMembership(ctx context.Context, workspaceID, userID, role string) error

	ListChannels(ctx context.Context, workspaceID string) ([]store.Channel, error)
	GetChannel(ctx context.Context, channelID string) (store.Channel, error)
	CreateChannel(ctx context.Context, workspaceID, name, chanType, createdBy string) (store.Channel, error)

	EnsureDM(ctx context.Context, workspaceID, userA, userB string) (store.DirectMessage, error)
	GetDM(ctx context.Context, dmID string) (store.DirectMessage, error)
	ListDMsForUser(ctx context.Context, workspaceID, userID string) ([]store.DirectMessage, error)

	ListChannelMessages(ctx context.Context, channelID string, limit int) ([]store.Message, error)
	ListDMMessages(ctx context.Context, dmID string, limit int) ([]store.Message, error)
	GetMessage(ctx context.Context, messageID string) (store.Message, error)
	InsertMessage(ctx context.Context, channelID, dmID, senderID, content string) (store.Message, error)

	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID string) ([]store.Reaction, error)
	MarkRead(ctx context.Context, messageID, userID string) error
	ListReads(ctx context.Context, messageID string) ([]store.ReadReceipt, error)
	TogglePin(ctx context.Context, messageID, channelID, dmID, userID string) (bool, error)
	ListPinned(ctx context.Context, channelID, dmID string) ([]store.PinnedMessage, error)

	InsertThreadReply(ctx context.Context, threadID, workspaceID, senderID, replyText string) (store.ThreadReply, error)
	ListThreadReplies(ctx context.Context, threadID string) ([]store.ThreadReply, error)

	InsertAttachment(ctx context.Context, a store.Attachment) (store.Attachment, error)
}
