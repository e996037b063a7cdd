package handlers

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	chadoc "github.com/ashnegiii/chadoc"
	"github.com/ashnegiii/chadoc/internal/models"
	"github.com/ashnegiii/chadoc/internal/transcript"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmaxmax/go-sse"
)

// Backend is the RAG backend as seen by the web surface: it answers chat queries and manages the
// documents of the knowledge base.
type Backend interface {
	transcript.Backend

	Documents(ctx context.Context) ([]models.Document, error)
	Upload(ctx context.Context, filename string, content io.Reader) (string, error)
	Delete(ctx context.Context, id string) error
}

// Config holds the tunables of the web surface. Zero values select the defaults.
type Config struct {
	RevealInterval    time.Duration
	HistorySize       int
	MaxSessions       int
	MaxUploadBytes    int64
	MetadataCacheSize int
}

// Main serves the documents and chat screens. Each chat screen owns a transcript controller whose
// changes are pushed to the browser through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	backend  Backend
	sessions *sessions
	uploads  *lru.Cache[string, models.Document]

	cfg    Config
	logger *slog.Logger
}

const (
	// DefaultMaxSessions bounds the number of chat sessions kept in memory.
	DefaultMaxSessions = 256
	// DefaultMaxUploadBytes is the largest document accepted for upload.
	DefaultMaxUploadBytes = 10 << 20
	// DefaultMetadataCacheSize bounds the number of remembered upload times and sizes.
	DefaultMetadataCacheSize = 1024

	errLoggerKey = "err"
)

// NewMain creates a new Main instance with the provided backend. It parses the HTML templates from the
// embedded filesystem and configures the SSE server so that every browser tab subscribes to the topic
// of its own chat session.
func NewMain(backend Backend, cfg Config, logger *slog.Logger) (Main, error) {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.MetadataCacheSize <= 0 {
		cfg.MetadataCacheSize = DefaultMetadataCacheSize
	}

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		chadoc.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	ss, err := newSessions(cfg.MaxSessions)
	if err != nil {
		return Main{}, fmt.Errorf("failed to create session cache: %w", err)
	}
	uploads, err := lru.New[string, models.Document](cfg.MetadataCacheSize)
	if err != nil {
		return Main{}, fmt.Errorf("failed to create upload metadata cache: %w", err)
	}

	return Main{
		sseSrv: &sse.Server{
			Provider: &sse.Joe{Replayer: flushReplayer{}},
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				sessionID := s.Req.URL.Query().Get("session_id")
				if _, ok := ss.get(sessionID); !ok {
					http.Error(s.Res, "Session not found", http.StatusNotFound)
					return sse.Subscription{}, false
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, sessionTopic(sessionID)},
				}, true
			},
		},
		templates: tmpl,
		backend:   backend,
		sessions:  ss,
		uploads:   uploads,
		cfg:       cfg,
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

// flushReplayer keeps no history. It sends the response headers of a new subscriber at the moment the
// provider registers it, so the browser's open event means every later publish reaches it.
type flushReplayer struct{}

func (flushReplayer) Put(msg *sse.Message, _ []string) (*sse.Message, error) {
	return msg, nil
}

func (flushReplayer) Replay(sub sse.Subscription) error {
	return sub.Client.Flush()
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// Shutdown closes every chat session, then gracefully terminates the SSE server. It broadcasts a close
// message to all connected clients and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.sessions.closeAll()

	e := &sse.Message{Type: closeSSEType}
	// Browsers drop events without data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
