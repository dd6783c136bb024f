// Package assist calls the organization's AI sidecar: tone analysis,
// meeting notes, org-brain answers and reply suggestions. The sidecar
// is an external HTTP service and every call is best effort.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Service is the HTTP client for the assist sidecar.
type Service struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(baseURL, apiKey string) *Service {
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns true if the sidecar is configured.
func (s *Service) IsConfigured() bool {
	return s.baseURL != ""
}

// ToneResult is the analysis of one drafted message.
type ToneResult struct {
	Tone       string  `json:"tone"`
	Confidence float64 `json:"confidence"`
	Impact     string  `json:"impact"`
	Suggestion string  `json:"suggestion"`
}

// AnalyzeTone classifies the tone of a drafted message before it is
// sent. The sidecar's output is model-generated, so the fields are
// validated rather than trusted.
func (s *Service) AnalyzeTone(ctx context.Context, message string) (ToneResult, error) {
	var out ToneResult
	err := s.post(ctx, "/analyze-tone", map[string]string{"message": message}, &out)
	if err != nil {
		return ToneResult{}, err
	}
	if out.Tone == "" {
		return ToneResult{}, fmt.Errorf("assist: tone missing from response")
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return ToneResult{}, fmt.Errorf("assist: confidence %v out of range", out.Confidence)
	}
	return out, nil
}

// NotesResult is a structured meeting-notes summary of a conversation.
type NotesResult struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"keyPoints"`
	ActionItems []string `json:"actionItems"`
}

// TranscriptLine is one message handed to the summarizer.
type TranscriptLine struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	SentAt  string `json:"sentAt"`
}

// MeetingNotes summarizes a conversation transcript.
func (s *Service) MeetingNotes(ctx context.Context, lines []TranscriptLine) (NotesResult, error) {
	var out NotesResult
	err := s.post(ctx, "/meeting-notes", map[string]any{"transcript": lines}, &out)
	if err != nil {
		return NotesResult{}, err
	}
	if out.Summary == "" {
		return NotesResult{}, fmt.Errorf("assist: summary missing from response")
	}
	return out, nil
}

// BrainAnswer is an org-brain response with its sources.
type BrainAnswer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// AskOrgBrain answers a question against the workspace's message
// history.
func (s *Service) AskOrgBrain(ctx context.Context, workspaceID, question string) (BrainAnswer, error) {
	var out BrainAnswer
	err := s.post(ctx, "/org-brain", map[string]string{
		"workspaceId": workspaceID,
		"question":    question,
	}, &out)
	if err != nil {
		return BrainAnswer{}, err
	}
	if out.Answer == "" {
		return BrainAnswer{}, fmt.Errorf("assist: answer missing from response")
	}
	return out, nil
}

// SuggestReply drafts a reply to the most recent messages of a
// conversation, in the voice the user has accumulated via reply
// memory.
func (s *Service) SuggestReply(ctx context.Context, userID string, lines []TranscriptLine) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	err := s.post(ctx, "/suggest-reply", map[string]any{
		"userId":     userID,
		"transcript": lines,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Reply == "" {
		return "", fmt.Errorf("assist: reply missing from response")
	}
	return out.Reply, nil
}

// StoreReplyMemory records a sent message so future suggestions match
// the user's voice. Fire-and-forget from the caller's perspective.
func (s *Service) StoreReplyMemory(ctx context.Context, userID, message string) error {
	return s.post(ctx, "/reply-memory", map[string]string{
		"userId":  userID,
		"message": message,
	}, nil)
}

func (s *Service) post(ctx context.Context, path string, body any, out any) error {
	if !s.IsConfigured() {
		return fmt.Errorf("assist not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("assist %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("assist %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("assist %s: decode response: %w", path, err)
	}
	return nil
}
