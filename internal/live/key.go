// Package live is the realtime conversation synchronization layer: it
// keeps one push subscription per conversation, maintains an optimistic
// in-memory message list reconciled against confirmed feed events,
// hydrates minimal records in the background, and tracks ephemeral
// typing presence.
package live

// Kind discriminates the two conversation surfaces.
type Kind string

const (
	KindChannel Kind = "channel"
	KindDM      Kind = "dm"
)

// Key identifies which message stream a subscription and message list
// belong to. Exactly one key is active per session at a time.
type Key struct {
	Kind Kind
	ID   string
}

func ChannelKey(id string) Key { return Key{Kind: KindChannel, ID: id} }

func DMKey(id string) Key { return Key{Kind: KindDM, ID: id} }

func (k Key) IsZero() bool { return k.ID == "" }

func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	return string(k.Kind) + ":" + k.ID
}

// FilterColumn is the messages column a feed subscription for this key
// filters on.
func (k Key) FilterColumn() string {
	if k.Kind == KindDM {
		return "dm_id"
	}
	return "channel_id"
}
