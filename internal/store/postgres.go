package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned for lookups of rows that do not exist. Callers
// on the hydration path treat it as a tolerable race, not a failure.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- profiles / members ----

func (s *PostgresStore) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name, email, avatar_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET full_name=EXCLUDED.full_name, email=EXCLUDED.email, avatar_url=EXCLUDED.avatar_url
	`, p.ID, p.FullName, p.Email, p.AvatarURL)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(full_name,''), email, COALESCE(avatar_url,''), created_at
		FROM profiles WHERE id=$1
	`, userID).Scan(&p.ID, &p.FullName, &p.Email, &p.AvatarURL, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]WorkspaceMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wm.user_id, wm.workspace_id, wm.role, wm.joined_at,
		       p.id, COALESCE(p.full_name,''), p.email, COALESCE(p.avatar_url,'')
		FROM workspace_members wm
		JOIN profiles p ON p.id = wm.user_id
		WHERE wm.workspace_id=$1
		ORDER BY p.full_name ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workspace members: %w", err)
	}
	defer rows.Close()

	members := make([]WorkspaceMember, 0)
	for rows.Next() {
		var m WorkspaceMember
		if err := rows.Scan(&m.UserID, &m.WorkspaceID, &m.Role, &m.JoinedAt,
			&m.Profile.ID, &m.Profile.FullName, &m.Profile.Email, &m.Profile.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan workspace member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace members: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) GetMemberRole(ctx context.Context, workspaceID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM workspace_members WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get member role: %w", err)
	}
	return role, nil
}

// ---- channels / DMs ----

func (s *PostgresStore) ListChannels(ctx context.Context, workspaceID string) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, type, COALESCE(created_by,''), created_at
		FROM channels WHERE workspace_id=$1 ORDER BY name ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := make([]Channel, 0)
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Type, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var c Channel
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, type, COALESCE(created_by,''), created_at
		FROM channels WHERE id=$1
	`, channelID).Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Type, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("get channel: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateChannel(ctx context.Context, workspaceID, name, chanType, createdBy string) (Channel, error) {
	var c Channel
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO channels (workspace_id, name, type, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, workspace_id, name, type, COALESCE(created_by,''), created_at
	`, workspaceID, name, chanType, createdBy).Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Type, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return Channel{}, fmt.Errorf("create channel: %w", err)
	}
	return c, nil
}

// EnsureDM finds or creates the DM conversation between two users. The
// pair is stored in canonical order so either argument order resolves to
// the same row.
func (s *PostgresStore) EnsureDM(ctx context.Context, workspaceID, userA, userB string) (DirectMessage, error) {
	var dm DirectMessage
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO direct_messages (workspace_id, user1_id, user2_id)
		VALUES ($1, LEAST($2::uuid, $3::uuid), GREATEST($2::uuid, $3::uuid))
		ON CONFLICT (workspace_id, user1_id, user2_id)
		DO UPDATE SET workspace_id=EXCLUDED.workspace_id
		RETURNING id, workspace_id, user1_id, user2_id, created_at
	`, workspaceID, userA, userB).Scan(&dm.ID, &dm.WorkspaceID, &dm.User1ID, &dm.User2ID, &dm.CreatedAt)
	if err != nil {
		return DirectMessage{}, fmt.Errorf("ensure dm: %w", err)
	}
	return s.attachDMProfiles(ctx, dm)
}

func (s *PostgresStore) GetDM(ctx context.Context, dmID string) (DirectMessage, error) {
	var dm DirectMessage
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user1_id, user2_id, created_at
		FROM direct_messages WHERE id=$1
	`, dmID).Scan(&dm.ID, &dm.WorkspaceID, &dm.User1ID, &dm.User2ID, &dm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DirectMessage{}, ErrNotFound
	}
	if err != nil {
		return DirectMessage{}, fmt.Errorf("get dm: %w", err)
	}
	return s.attachDMProfiles(ctx, dm)
}

func (s *PostgresStore) ListDMsForUser(ctx context.Context, workspaceID, userID string) ([]DirectMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, user1_id, user2_id, created_at
		FROM direct_messages
		WHERE workspace_id=$1 AND (user1_id=$2 OR user2_id=$2)
		ORDER BY created_at DESC
	`, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("list dms: %w", err)
	}
	defer rows.Close()

	dms := make([]DirectMessage, 0)
	for rows.Next() {
		var dm DirectMessage
		if err := rows.Scan(&dm.ID, &dm.WorkspaceID, &dm.User1ID, &dm.User2ID, &dm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dm: %w", err)
		}
		dms = append(dms, dm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dms: %w", err)
	}
	for i := range dms {
		if dms[i], err = s.attachDMProfiles(ctx, dms[i]); err != nil {
			return nil, err
		}
	}
	return dms, nil
}

func (s *PostgresStore) attachDMProfiles(ctx context.Context, dm DirectMessage) (DirectMessage, error) {
	var err error
	if dm.User1, err = s.GetProfile(ctx, dm.User1ID); err != nil && !errors.Is(err, ErrNotFound) {
		return DirectMessage{}, err
	}
	if dm.User2, err = s.GetProfile(ctx, dm.User2ID); err != nil && !errors.Is(err, ErrNotFound) {
		return DirectMessage{}, err
	}
	return dm, nil
}

// ---- messages ----

const messageColumns = `
	m.id, COALESCE(m.channel_id::text,''), COALESCE(m.dm_id::text,''), m.sender_id,
	COALESCE(m.content,''), m.created_at,
	p.id, COALESCE(p.full_name,''), p.email, COALESCE(p.avatar_url,''),
	(SELECT COUNT(*) FROM thread_replies tr WHERE tr.thread_id = m.id)::int
`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChannelID, &m.DMID, &m.SenderID, &m.Content, &m.CreatedAt,
		&m.Sender.ID, &m.Sender.FullName, &m.Sender.Email, &m.Sender.AvatarURL, &m.ReplyCount)
	return m, err
}

// ListChannelMessages returns the most recent messages of a channel in
// ascending created_at order, with sender profile, reactions,
// attachments and pin status embedded.
func (s *PostgresStore) ListChannelMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	return s.listMessages(ctx, "channel_id", channelID, limit)
}

// ListDMMessages is ListChannelMessages for a direct-message stream.
func (s *PostgresStore) ListDMMessages(ctx context.Context, dmID string, limit int) ([]Message, error) {
	return s.listMessages(ctx, "dm_id", dmID, limit)
}

func (s *PostgresStore) listMessages(ctx context.Context, column, id string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM messages m
		JOIN profiles p ON p.id = m.sender_id
		WHERE m.%s=$1
		ORDER BY m.created_at ASC
		LIMIT $2
	`, messageColumns, column)
	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	if err := s.embedMessageDetails(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetMessage is the hydration fetch: one message by id with full
// relational detail.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM messages m
		JOIN profiles p ON p.id = m.sender_id
		WHERE m.id=$1
	`, messageColumns)
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	messages := []Message{m}
	if err := s.embedMessageDetails(ctx, messages); err != nil {
		return Message{}, err
	}
	return messages[0], nil
}

func (s *PostgresStore) embedMessageDetails(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	index := make(map[string]int, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		index[m.ID] = i
		messages[i].Reactions = []Reaction{}
		messages[i].Attachments = []Attachment{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("list reactions: %w", err)
	}
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan reaction: %w", err)
		}
		if i, ok := index[r.MessageID]; ok {
			messages[i].Reactions = append(messages[i].Reactions, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate reactions: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, COALESCE(workspace_id::text,''), message_id, file_url, COALESCE(file_type,''), file_name, COALESCE(file_size,0), COALESCE(uploaded_by::text,''), created_at
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY created_at ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.MessageID, &a.FileURL, &a.FileType, &a.FileName, &a.FileSize, &a.UploadedBy, &a.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan attachment: %w", err)
		}
		if i, ok := index[a.MessageID]; ok {
			messages[i].Attachments = append(messages[i].Attachments, a)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate attachments: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT message_id FROM pinned_messages WHERE message_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("list pin status: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan pin status: %w", err)
		}
		if i, ok := index[id]; ok {
			messages[i].IsPinned = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate pin status: %w", err)
	}
	return nil
}

// InsertMessage writes the authoritative row and returns it with the
// server-assigned id and timestamp. Exactly one of channelID / dmID must
// be set; the check constraint enforces it.
func (s *PostgresStore) InsertMessage(ctx context.Context, channelID, dmID, senderID, content string) (Message, error) {
	var m Message
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (channel_id, dm_id, sender_id, content)
		VALUES (NULLIF($1,'')::uuid, NULLIF($2,'')::uuid, $3, NULLIF($4,''))
		RETURNING id, COALESCE(channel_id::text,''), COALESCE(dm_id::text,''), sender_id, COALESCE(content,''), created_at
	`, channelID, dmID, senderID, content).Scan(&m.ID, &m.ChannelID, &m.DMID, &m.SenderID, &m.Content, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ---- reactions ----

// ToggleReaction removes the (message, user, emoji) reaction when it
// already exists, otherwise adds it. Returns true when the reaction is
// present after the call.
func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM message_reactions
		WHERE message_id=$1 AND user_id=$2 AND emoji=$3
	`, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete reaction rows: %w", err)
	}
	if affected > 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji)
		VALUES ($1, $2, $3)
	`, messageID, userID, emoji); err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions WHERE message_id=$1 ORDER BY created_at ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	reactions := make([]Reaction, 0)
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return reactions, nil
}

// ---- read receipts ----

// MarkRead records a read receipt at most once per (message, user).
// Re-reads never update the original read_at.
func (s *PostgresStore) MarkRead(ctx context.Context, messageID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReads(ctx context.Context, messageID string) ([]ReadReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mr.message_id, mr.user_id, mr.read_at,
		       p.id, COALESCE(p.full_name,''), p.email, COALESCE(p.avatar_url,'')
		FROM message_reads mr
		JOIN profiles p ON p.id = mr.user_id
		WHERE mr.message_id=$1
		ORDER BY mr.read_at ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reads: %w", err)
	}
	defer rows.Close()

	receipts := make([]ReadReceipt, 0)
	for rows.Next() {
		var r ReadReceipt
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.ReadAt,
			&r.Profile.ID, &r.Profile.FullName, &r.Profile.Email, &r.Profile.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan read receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reads: %w", err)
	}
	return receipts, nil
}

// ---- pins ----

// TogglePin pins the message into its conversation, or unpins it if
// already pinned. Returns true when the message is pinned after the call.
func (s *PostgresStore) TogglePin(ctx context.Context, messageID, channelID, dmID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM pinned_messages WHERE message_id=$1
	`, messageID)
	if err != nil {
		return false, fmt.Errorf("delete pin: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pin rows: %w", err)
	}
	if affected > 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO pinned_messages (message_id, channel_id, dm_id, pinned_by)
		VALUES ($1, NULLIF($2,'')::uuid, NULLIF($3,'')::uuid, $4)
	`, messageID, channelID, dmID, userID); err != nil {
		return false, fmt.Errorf("insert pin: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListPinned(ctx context.Context, channelID, dmID string) ([]PinnedMessage, error) {
	column := "channel_id"
	id := channelID
	if dmID != "" {
		column = "dm_id"
		id = dmID
	}
	query := fmt.Sprintf(`
		SELECT pm.id, pm.message_id, COALESCE(pm.channel_id::text,''), COALESCE(pm.dm_id::text,''), pm.pinned_by, pm.pinned_at
		FROM pinned_messages pm
		WHERE pm.%s=$1
		ORDER BY pm.pinned_at DESC
	`, column)
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list pinned: %w", err)
	}
	defer rows.Close()

	pins := make([]PinnedMessage, 0)
	for rows.Next() {
		var p PinnedMessage
		if err := rows.Scan(&p.ID, &p.MessageID, &p.ChannelID, &p.DMID, &p.PinnedBy, &p.PinnedAt); err != nil {
			return nil, fmt.Errorf("scan pinned: %w", err)
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pinned: %w", err)
	}
	for i := range pins {
		msg, err := s.GetMessage(ctx, pins[i].MessageID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		pins[i].Message = msg
	}
	return pins, nil
}

// ---- thread replies ----

func (s *PostgresStore) InsertThreadReply(ctx context.Context, threadID, workspaceID, senderID, replyText string) (ThreadReply, error) {
	var r ThreadReply
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO thread_replies (thread_id, workspace_id, sender_id, reply_text)
		VALUES ($1, $2, $3, $4)
		RETURNING id, thread_id, workspace_id, sender_id, reply_text, created_at
	`, threadID, workspaceID, senderID, replyText).Scan(&r.ID, &r.ThreadID, &r.WorkspaceID, &r.SenderID, &r.ReplyText, &r.CreatedAt)
	if err != nil {
		return ThreadReply{}, fmt.Errorf("insert thread reply: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListThreadReplies(ctx context.Context, threadID string) ([]ThreadReply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.thread_id, r.workspace_id, r.sender_id, r.reply_text, r.created_at,
		       p.id, COALESCE(p.full_name,''), p.email, COALESCE(p.avatar_url,'')
		FROM thread_replies r
		JOIN profiles p ON p.id = r.sender_id
		WHERE r.thread_id=$1
		ORDER BY r.created_at ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread replies: %w", err)
	}
	defer rows.Close()

	replies := make([]ThreadReply, 0)
	for rows.Next() {
		var r ThreadReply
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.WorkspaceID, &r.SenderID, &r.ReplyText, &r.CreatedAt,
			&r.Sender.ID, &r.Sender.FullName, &r.Sender.Email, &r.Sender.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan thread reply: %w", err)
		}
		replies = append(replies, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread replies: %w", err)
	}
	return replies, nil
}

// ---- attachments ----

func (s *PostgresStore) InsertAttachment(ctx context.Context, a Attachment) (Attachment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO attachments (workspace_id, message_id, file_url, file_type, file_name, file_size, uploaded_by)
		VALUES (NULLIF($1,'')::uuid, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, a.WorkspaceID, a.MessageID, a.FileURL, a.FileType, a.FileName, a.FileSize, a.UploadedBy).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return a, nil
}

// ---- workspaces ----

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var w Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at FROM workspaces WHERE id=$1
	`, workspaceID).Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, ErrNotFound
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) EnsureMembership(ctx context.Context, workspaceID, userID, role string) error {
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO NOTHING
	`, workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("ensure membership: %w", err)
	}
	return nil
}
