package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashnegiii/chadoc/internal/models"
	"github.com/ashnegiii/chadoc/internal/transcript"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp string
	SentAt    string

	Pending bool
}

type chatPageData struct {
	SessionID          string
	Documents          []models.Document
	SelectedDocumentID string
	Toast              *transcript.Notification
}

// SSE event types for real-time updates.
var (
	transcriptSSEType = sse.Type("transcript")
	messageSSEType    = sse.Type("message")
	stateSSEType      = sse.Type("state")
	toastSSEType      = sse.Type("toast")
	closeSSEType      = sse.Type("close")
)

const (
	stateBusy = "busy"
	stateIdle = "idle"
)

var documentsLoadFailed = transcript.Notification{Title: "Error", Description: "Could not load documents."}

// HandleChat renders the chat screen. Every visit opens a new session with an empty transcript; the
// browser selects the first document once its event stream is connected, which starts the welcome.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := chatPageData{
		SessionID: uuid.New().String(),
	}

	docs, err := m.backend.Documents(r.Context())
	if err != nil {
		m.logger.Error("Failed to list documents", slog.String(errLoggerKey, err.Error()))
		toast := documentsLoadFailed
		data.Toast = &toast
		docs = []models.Document{}
	}
	data.Documents = docs
	if len(docs) > 0 {
		data.SelectedDocumentID = docs[0].ID
	}

	sessionID := data.SessionID
	tc := transcript.New(m.backend, transcript.Options{
		Observer: func(snap transcript.Snapshot) {
			m.publishSnapshot(sessionID, snap)
		},
		Notifier: func(n transcript.Notification) {
			m.publishToast(sessionID, n)
		},
		RevealInterval: m.cfg.RevealInterval,
		HistorySize:    m.cfg.HistorySize,
		Logger:         m.logger.With(slog.String("sessionID", sessionID)),
	})
	m.sessions.add(sessionID, &session{transcript: tc, documents: docs})

	if err := m.templates.ExecuteTemplate(w, "chat.html", data); err != nil {
		m.logger.Error("Failed to render chat page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSelectDocument switches the document a session chats about. The transcript is reset and the
// welcome for the new document starts; an answer still streaming is discarded.
func (m Main) HandleSelectDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := m.sessions.get(r.FormValue("session_id"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	doc := s.document(r.FormValue("document_id"))
	if err := s.transcript.SelectDocument(doc); err != nil {
		m.logger.Error("Failed to select document",
			slog.String("documentID", doc.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusGone)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleMessages submits a query to the session's transcript. The user message and the empty assistant
// placeholder are appended before the handler returns; the answer arrives through the event stream.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := m.sessions.get(r.FormValue("session_id"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if _, err := s.transcript.Submit(r.FormValue("query")); err != nil {
		switch {
		case errors.Is(err, transcript.ErrEmptyQuery):
			http.Error(w, "Query is required", http.StatusBadRequest)
		case errors.Is(err, transcript.ErrInFlight):
			http.Error(w, "A query is already in flight", http.StatusConflict)
		default:
			m.logger.Error("Failed to submit query", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusGone)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleSSE streams the transcript changes of one session to the browser. An unknown session is
// answered with 404 so the browser stops reconnecting.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func (m Main) publishSnapshot(sessionID string, snap transcript.Snapshot) {
	var msgs []sse.Message

	switch snap.Event.Kind {
	case transcript.EventReset:
		body, err := m.renderTranscript(snap)
		if err != nil {
			m.logger.Error("Failed to render transcript", slog.String(errLoggerKey, err.Error()))
			return
		}
		msgs = append(msgs,
			withData(sse.Message{Type: transcriptSSEType}, body),
			withData(sse.Message{Type: stateSSEType}, stateName(snap)))
	case transcript.EventAppend, transcript.EventUpdate:
		body, err := m.renderMessage(snap, snap.Event.MessageID)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", snap.Event.MessageID),
				slog.String(errLoggerKey, err.Error()))
			return
		}
		msgs = append(msgs, withData(sse.Message{Type: messageSSEType}, body))
	case transcript.EventState:
		msgs = append(msgs, withData(sse.Message{Type: stateSSEType}, stateName(snap)))
		// The last assistant entry loses its busy indicator once the request is over, even when no
		// content ever arrived.
		if !snap.InFlight && len(snap.Messages) > 0 {
			last := snap.Messages[len(snap.Messages)-1]
			body, err := m.renderMessage(snap, last.ID)
			if err != nil {
				m.logger.Error("Failed to render message",
					slog.String("messageID", last.ID),
					slog.String(errLoggerKey, err.Error()))
				return
			}
			msgs = append(msgs, withData(sse.Message{Type: messageSSEType}, body))
		}
	default:
		return
	}

	for i := range msgs {
		if err := m.sseSrv.Publish(&msgs[i], sessionTopic(sessionID)); err != nil {
			m.logger.Error("Failed to publish transcript change",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
			return
		}
	}
}

func (m Main) publishToast(sessionID string, n transcript.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		m.logger.Error("Failed to marshal notification", slog.String(errLoggerKey, err.Error()))
		return
	}
	msg := withData(sse.Message{Type: toastSSEType}, string(data))
	if err := m.sseSrv.Publish(&msg, sessionTopic(sessionID)); err != nil {
		m.logger.Error("Failed to publish notification",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) renderTranscript(snap transcript.Snapshot) (string, error) {
	var sb strings.Builder
	for _, msg := range snap.Messages {
		view, err := messageView(msg, snap.InFlight)
		if err != nil {
			return "", err
		}
		if err := m.templates.ExecuteTemplate(&sb, "message", view); err != nil {
			return "", fmt.Errorf("failed to execute message template: %w", err)
		}
	}
	return sb.String(), nil
}

func (m Main) renderMessage(snap transcript.Snapshot, id string) (string, error) {
	msg, ok := snap.Message(id)
	if !ok {
		return "", fmt.Errorf("message %s is not in the transcript", id)
	}
	view, err := messageView(msg, snap.InFlight)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "message", view); err != nil {
		return "", fmt.Errorf("failed to execute message template: %w", err)
	}
	return sb.String(), nil
}

// messageView prepares a message for rendering. Assistant content is markdown; user content is shown
// as typed. An empty assistant entry shows a busy indicator while a request is in flight.
func messageView(msg models.Message, inFlight bool) (message, error) {
	view := message{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Timestamp: msg.Timestamp,
		SentAt:    msg.SentAt.Format(time.RFC3339),
	}

	if msg.Role == models.RoleUser {
		view.Content = template.HTML("<p>" + template.HTMLEscapeString(msg.Content) + "</p>")
		return view, nil
	}

	if msg.Content == "" {
		view.Pending = inFlight && msg.ID != models.WelcomeMessageID
		return view, nil
	}
	content, err := models.RenderMarkdown(msg.Content)
	if err != nil {
		return message{}, err
	}
	view.Content = content
	return view, nil
}

func withData(msg sse.Message, data string) sse.Message {
	msg.AppendData(data)
	return msg
}

func stateName(snap transcript.Snapshot) string {
	if snap.InFlight {
		return stateBusy
	}
	return stateIdle
}
