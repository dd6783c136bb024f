package store

import "time"

type Profile struct {
	ID        string
	FullName  string
	Email     string
	AvatarURL string
	CreatedAt time.Time
}

type Workspace struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

type WorkspaceMember struct {
	UserID      string
	WorkspaceID string
	Role        string
	JoinedAt    time.Time
	Profile     Profile
}

type Channel struct {
	ID          string
	WorkspaceID string
	Name        string
	Type        string // 'public' or 'private'
	CreatedBy   string
	CreatedAt   time.Time
}

// DirectMessage is a conversation between exactly two users. The pair is
// canonicalized so (a,b) and (b,a) resolve to the same row.
type DirectMessage struct {
	ID          string
	WorkspaceID string
	User1ID     string
	User2ID     string
	User1       Profile
	User2       Profile
	CreatedAt   time.Time
}

type Message struct {
	ID         string
	ChannelID  string // empty for DM messages
	DMID       string // empty for channel messages
	SenderID   string
	Content    string
	CreatedAt  time.Time
	IsPinned   bool
	ReplyCount int

	Sender      Profile
	Reactions   []Reaction
	Attachments []Attachment
}

type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

type ReadReceipt struct {
	MessageID string
	UserID    string
	ReadAt    time.Time
	Profile   Profile
}

type PinnedMessage struct {
	ID        string
	MessageID string
	ChannelID string
	DMID      string
	PinnedBy  string
	PinnedAt  time.Time
	Message   Message
}

type ThreadReply struct {
	ID          string
	ThreadID    string // parent message id
	WorkspaceID string
	SenderID    string
	ReplyText   string
	CreatedAt   time.Time
	Sender      Profile
}

type Attachment struct {
	ID          string
	WorkspaceID string
	MessageID   string
	FileURL     string
	FileType    string
	FileName    string
	FileSize    int64
	UploadedBy  string
	CreatedAt   time.Time
}
