package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultMessage ResultType = "message"
	ResultReply   ResultType = "reply"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Snippet     string     `json:"snippet"`
	SenderName  string     `json:"senderName"`
	ChannelID   string     `json:"channelId,omitempty"`
	DMID        string     `json:"dmId,omitempty"`
	WorkspaceID string     `json:"workspaceId"`
	ThreadID    string     `json:"threadId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterWorkspaceID string
	FilterChannelID   string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexMessage(m MessageRecord) error
	IndexReply(r ReplyRecord) error
	DeleteMessage(id string) error
}

// MessageRecord is the data we index for a channel or DM message.
type MessageRecord struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	SenderName  string `json:"senderName"`
	ChannelID   string `json:"channelId"`
	DMID        string `json:"dmId"`
	WorkspaceID string `json:"workspaceId"`
}

// ReplyRecord is the data we index for a thread reply.
type ReplyRecord struct {
	ID          string `json:"id"`
	ReplyText   string `json:"replyText"`
	SenderName  string `json:"senderName"`
	ThreadID    string `json:"threadId"`
	WorkspaceID string `json:"workspaceId"`
}
