package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func assistServer(t *testing.T, path string, status int, body any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("path = %q, want %q", r.URL.Path, path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestAnalyzeTone(t *testing.T) {
	srv := assistServer(t, "/analyze-tone", http.StatusOK, ToneResult{
		Tone:       "aggressive",
		Confidence: 0.92,
		Impact:     "may read as blunt",
		Suggestion: "soften the opening",
	})
	defer srv.Close()

	s := New(srv.URL, "key")
	got, err := s.AnalyzeTone(context.Background(), "just do it already")
	if err != nil {
		t.Fatalf("AnalyzeTone() error = %v", err)
	}
	if got.Tone != "aggressive" || got.Confidence != 0.92 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestAnalyzeToneRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing tone", map[string]any{"confidence": 0.5}},
		{"confidence out of range", map[string]any{"tone": "neutral", "confidence": 3.2}},
		{"wrong types", map[string]any{"tone": 7, "confidence": "high"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := assistServer(t, "/analyze-tone", http.StatusOK, tt.body)
			defer srv.Close()
			s := New(srv.URL, "")
			if _, err := s.AnalyzeTone(context.Background(), "hi"); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMeetingNotes(t *testing.T) {
	srv := assistServer(t, "/meeting-notes", http.StatusOK, NotesResult{
		Title:       "Launch sync",
		Summary:     "The team agreed to ship on Friday.",
		KeyPoints:   []string{"QA is done"},
		ActionItems: []string{"Tag the release"},
	})
	defer srv.Close()

	s := New(srv.URL, "")
	got, err := s.MeetingNotes(context.Background(), []TranscriptLine{{Sender: "Avery", Content: "ship friday?"}})
	if err != nil {
		t.Fatalf("MeetingNotes() error = %v", err)
	}
	if got.Summary == "" || len(got.ActionItems) != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestAssistErrorStatus(t *testing.T) {
	srv := assistServer(t, "/org-brain", http.StatusBadGateway, map[string]string{"error": "upstream"})
	defer srv.Close()

	s := New(srv.URL, "")
	if _, err := s.AskOrgBrain(context.Background(), "ws-1", "who owns billing?"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestAssistUnconfigured(t *testing.T) {
	s := New("", "")
	if s.IsConfigured() {
		t.Fatal("blank base url reported as configured")
	}
	if _, err := s.AnalyzeTone(context.Background(), "hi"); err == nil {
		t.Fatal("expected error when unconfigured")
	}
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(1, 2)

	if !l.Allow("u1") || !l.Allow("u1") {
		t.Fatal("burst denied")
	}
	if l.Allow("u1") {
		t.Fatal("third immediate call allowed")
	}
	// Other users have their own bucket.
	if !l.Allow("u2") {
		t.Fatal("second user throttled by the first")
	}
}
