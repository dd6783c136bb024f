package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across messages and thread_replies
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultMessage {
		msgWhere := "m.content_tsv @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			msgWhere += fmt.Sprintf(" AND COALESCE(c.workspace_id, dm.workspace_id) = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		if q.FilterChannelID != "" {
			msgWhere += fmt.Sprintf(" AND m.channel_id = $%d", argN)
			args = append(args, q.FilterChannelID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.id::text,
				ts_headline('english', coalesce(m.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(pr.full_name, '') AS sender_name,
				coalesce(m.channel_id::text, '') AS channel_id,
				coalesce(m.dm_id::text, '') AS dm_id,
				coalesce(c.workspace_id::text, dm.workspace_id::text, '') AS workspace_id,
				''::text AS thread_id,
				ts_rank(m.content_tsv, %s) AS rank
			FROM messages m
			LEFT JOIN channels c ON c.id = m.channel_id
			LEFT JOIN direct_messages dm ON dm.id = m.dm_id
			LEFT JOIN profiles pr ON pr.id = m.sender_id
			WHERE %s`, tsQuery, tsQuery, msgWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultReply {
		replyWhere := "tr.reply_tsv @@ " + tsQuery
		if q.FilterWorkspaceID != "" {
			replyWhere += fmt.Sprintf(" AND tr.workspace_id = $%d", argN)
			args = append(args, q.FilterWorkspaceID)
			argN++
		}
		if q.FilterChannelID != "" {
			// Channel scoping only applies to messages; skip replies.
			replyWhere += " AND false"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'reply'::text AS type, tr.id::text,
				ts_headline('english', coalesce(tr.reply_text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(pr.full_name, '') AS sender_name,
				''::text AS channel_id,
				''::text AS dm_id,
				coalesce(tr.workspace_id::text, '') AS workspace_id,
				tr.thread_id::text,
				ts_rank(tr.reply_tsv, %s) AS rank
			FROM thread_replies tr
			LEFT JOIN profiles pr ON pr.id = tr.sender_id
			WHERE %s`, tsQuery, tsQuery, replyWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, snippet, sender_name, channel_id, dm_id, workspace_id, thread_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Snippet, &r.SenderName, &r.ChannelID, &r.DMID, &r.WorkspaceID, &r.ThreadID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]MessageRecord, []ReplyRecord, error) {
	msgRows, err := p.db.QueryContext(ctx, `
		SELECT m.id::text, coalesce(m.content, ''), coalesce(pr.full_name, ''),
			coalesce(m.channel_id::text, ''), coalesce(m.dm_id::text, ''),
			coalesce(c.workspace_id::text, dm.workspace_id::text, '')
		FROM messages m
		LEFT JOIN channels c ON c.id = m.channel_id
		LEFT JOIN direct_messages dm ON dm.id = m.dm_id
		LEFT JOIN profiles pr ON pr.id = m.sender_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	messages := make([]MessageRecord, 0)
	for msgRows.Next() {
		var m MessageRecord
		if err := msgRows.Scan(&m.ID, &m.Content, &m.SenderName, &m.ChannelID, &m.DMID, &m.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w", err)
	}

	replyRows, err := p.db.QueryContext(ctx, `
		SELECT tr.id::text, coalesce(tr.reply_text, ''), coalesce(pr.full_name, ''),
			tr.thread_id::text, coalesce(tr.workspace_id::text, '')
		FROM thread_replies tr
		LEFT JOIN profiles pr ON pr.id = tr.sender_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load replies: %w", err)
	}
	defer replyRows.Close()

	replies := make([]ReplyRecord, 0)
	for replyRows.Next() {
		var r ReplyRecord
		if err := replyRows.Scan(&r.ID, &r.ReplyText, &r.SenderName, &r.ThreadID, &r.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, r)
	}
	if err := replyRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate replies: %w", err)
	}

	return messages, replies, nil
}
