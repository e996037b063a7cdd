package handlers

import (
	"strings"
	"testing"
	"time"

	"github.com/ashnegiii/chadoc/internal/models"
)

func TestMessageView(t *testing.T) {
	tests := []struct {
		name        string
		msg         models.Message
		inFlight    bool
		wantPending bool
		wantContent string
	}{
		{
			name:        "User content is escaped",
			msg:         models.Message{ID: "1", Role: models.RoleUser, Content: "<b>hi</b>"},
			wantContent: "<p>&lt;b&gt;hi&lt;/b&gt;</p>",
		},
		{
			name:        "Assistant content is markdown",
			msg:         models.Message{ID: "2", Role: models.RoleAssistant, Content: "**total**"},
			wantContent: "<strong>total</strong>",
		},
		{
			name:        "Empty answer in flight",
			msg:         models.Message{ID: "3", Role: models.RoleAssistant},
			inFlight:    true,
			wantPending: true,
		},
		{
			name: "Empty answer after failure",
			msg:  models.Message{ID: "3", Role: models.RoleAssistant},
		},
		{
			name:     "Welcome before reveal",
			msg:      models.Message{ID: models.WelcomeMessageID, Role: models.RoleAssistant},
			inFlight: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := messageView(tt.msg, tt.inFlight)
			if err != nil {
				t.Fatalf("messageView() error = %v", err)
			}
			if got.Pending != tt.wantPending {
				t.Errorf("messageView() pending = %v, want %v", got.Pending, tt.wantPending)
			}
			if !strings.Contains(string(got.Content), tt.wantContent) {
				t.Errorf("messageView() content = %v, want to contain %v", got.Content, tt.wantContent)
			}
		})
	}
}

func TestMessageViewSentAt(t *testing.T) {
	sentAt := time.Date(2024, 5, 1, 15, 4, 0, 0, time.FixedZone("CEST", 2*60*60))
	msg := models.Message{ID: "1", Role: models.RoleUser, Content: "hi", Timestamp: "03:04 PM", SentAt: sentAt}

	got, err := messageView(msg, false)
	if err != nil {
		t.Fatalf("messageView() error = %v", err)
	}
	if got.SentAt != "2024-05-01T15:04:00+02:00" {
		t.Errorf("messageView() sent at = %q, want 2024-05-01T15:04:00+02:00", got.SentAt)
	}
	if got.Timestamp != "03:04 PM" {
		t.Errorf("messageView() timestamp = %q, want 03:04 PM", got.Timestamp)
	}
}

func TestSessionDocument(t *testing.T) {
	s := &session{documents: []models.Document{{ID: "1", Name: "sales.csv"}}}

	if got := s.document("1"); got.Name != "sales.csv" {
		t.Errorf("document(1) = %+v, want sales.csv", got)
	}
	if got := s.document("9"); got.ID != "9" || got.Name != "" {
		t.Errorf("document(9) = %+v, want unnamed document 9", got)
	}
}
