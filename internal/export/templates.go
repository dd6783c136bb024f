package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var (
	transcriptTemplate *template.Template
	notesTemplate      *template.Template
)

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	transcriptTemplate = template.Must(template.New("transcript").Funcs(funcMap).Parse(transcriptHTML))
	notesTemplate = template.Must(template.New("notes").Funcs(funcMap).Parse(notesHTML))
}

// TemplateData holds data for transcript template rendering
type TemplateData struct {
	Title         string
	WorkspaceName string
	ExportedAt    time.Time
	Messages      []TemplateMessage
}

// TemplateMessage holds one message for the template
type TemplateMessage struct {
	Sender  string
	SentAt  time.Time
	Content string
	Pinned  bool
	Replies []TemplateReply
}

// TemplateReply holds one thread reply for the template
type TemplateReply struct {
	Sender string
	Body   string
}

// NotesData holds data for meeting-notes template rendering
type NotesData struct {
	Title         string
	WorkspaceName string
	Conversation  string
	GeneratedAt   time.Time
	Summary       string
	KeyPoints     []string
	ActionItems   []string
}

// RenderTranscriptHTML renders the transcript template with provided data
func RenderTranscriptHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderNotesHTML renders the meeting-notes template with provided data
func RenderNotesHTML(data NotesData) (string, error) {
	var buf bytes.Buffer
	if err := notesTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const transcriptHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .message { margin: 1rem 0; }
    .sender { font-weight: bold; }
    .time { color: #999; font-size: 0.85em; margin-left: 0.5rem; }
    .pinned { color: #b8860b; font-size: 0.85em; margin-left: 0.5rem; }
    .reply { background: #f5f5f5; padding: 0.5rem 1rem; margin: 0.25rem 0 0.25rem 2rem; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.WorkspaceName}} | exported {{formatDate .ExportedAt "Jan 2, 2006 15:04"}}</div>
  {{range .Messages}}
  <div class="message">
    <span class="sender">{{.Sender}}</span><span class="time">{{formatDate .SentAt "Jan 2, 2006 15:04"}}</span>{{if .Pinned}}<span class="pinned">pinned</span>{{end}}
    <div>{{.Content}}</div>
    {{range .Replies}}<div class="reply"><span class="sender">{{.Sender}}</span> {{.Body}}</div>{{end}}
  </div>
  {{end}}
</body>
</html>`

const notesHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    h2 { margin-top: 2rem; }
    li { margin: 0.25rem 0; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.WorkspaceName}} | {{.Conversation}} | {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>
  <h2>Summary</h2>
  <p>{{.Summary}}</p>
  {{if .KeyPoints}}
  <h2>Key Points</h2>
  <ul>{{range .KeyPoints}}<li>{{.}}</li>{{end}}</ul>
  {{end}}
  {{if .ActionItems}}
  <h2>Action Items</h2>
  <ul>{{range .ActionItems}}<li>{{.}}</li>{{end}}</ul>
  {{end}}
</body>
</html>`
