package live

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"tandem/api/internal/store"
)

// provisionalPrefix marks locally-fabricated records shown before server
// confirmation. Provisional ids never parse as UUIDs, so they can never
// be mistaken for store rows.
const provisionalPrefix = "pending-"

// NewProvisionalID returns a fresh provisional id, unique per send
// attempt.
func NewProvisionalID() string {
	return provisionalPrefix + uuid.NewString()
}

// IsProvisionalID reports whether id names a record awaiting
// confirmation.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// IsConfirmedID reports whether id is a server-assigned identifier.
// Secondary state (read receipts, reactions) may only ever reference
// confirmed ids.
func IsConfirmedID(id string) bool {
	return uuid.Validate(id) == nil
}

// Insert is the minimal payload of a confirmed message insert as carried
// on the change feed.
type Insert struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id,omitempty"`
	DMID      string    `json:"dm_id,omitempty"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DecodeInsert parses a feed row payload.
func DecodeInsert(row json.RawMessage) (Insert, error) {
	var in Insert
	err := json.Unmarshal(row, &in)
	return in, err
}

// Matches is the reconciliation predicate: a confirmed insert pairs with
// an existing record when content and sender are equal and the creation
// times differ by less than window. Provisional and confirmed records
// have unrelated identifiers, so this is the only possible pairing key.
// Two identical messages from one sender inside the window are
// indistinguishable and will merge; that ambiguity is accepted.
func Matches(existing store.Message, in Insert, window time.Duration) bool {
	if existing.Content != in.Content || existing.SenderID != in.SenderID {
		return false
	}
	delta := existing.CreatedAt.Sub(in.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta < window
}

// minimalMessage builds the placeholder record appended on confirmation,
// before hydration fills in relational detail.
func minimalMessage(in Insert) store.Message {
	return store.Message{
		ID:          in.ID,
		ChannelID:   in.ChannelID,
		DMID:        in.DMID,
		SenderID:    in.SenderID,
		Content:     in.Content,
		CreatedAt:   in.CreatedAt,
		Reactions:   []store.Reaction{},
		Attachments: []store.Attachment{},
	}
}
