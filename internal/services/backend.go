package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashnegiii/chadoc/internal/models"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Backend is the HTTP client for the RAG backend. It streams chat answers and wraps the document
// endpoints used by the documents screen.
type Backend struct {
	baseURL string
	chatURL string

	client *http.Client

	logger *slog.Logger
}

// StatusError is returned when the backend answers with a non-success status code.
type StatusError struct {
	Op         string
	StatusCode int
}

type documentsResponse struct {
	Documents []models.Document `json:"documents"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

type deleteRequest struct {
	ID string `json:"id"`
}

const (
	// DefaultBaseURL is the API root used for the document endpoints when none is configured.
	DefaultBaseURL = "http://localhost:5001/api"
	// DefaultChatURL is the chat endpoint used when none is configured.
	DefaultChatURL = DefaultBaseURL + "/query"

	readBufferSize = 4096
)

// ErrNoBody is returned when a successful chat response carries no body to read from.
var ErrNoBody = errors.New("no response body")

// NewBackend creates a Backend. Empty baseURL or chatURL fall back to DefaultBaseURL and DefaultChatURL.
// The client carries no timeout of its own so long answers are not cut off; callers bound requests
// through their context.
func NewBackend(baseURL, chatURL string, logger *slog.Logger) Backend {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if chatURL == "" {
		chatURL = DefaultChatURL
	}
	return Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		chatURL: chatURL,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "backend")),
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
}

// Query sends req to the chat endpoint and returns an iterator over the decoded text chunks of the
// streamed answer, in arrival order. A non-success status yields a *StatusError before any chunk.
// Multi-byte characters split across reads are held back until they are complete.
func (b Backend) Query(ctx context.Context, req models.QueryRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if req.ChatHistory == nil {
			req.ChatHistory = []models.HistoryEntry{}
		}
		jsonBody, err := json.Marshal(req)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.chatURL, bytes.NewReader(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(httpReq)
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		if resp.Body == nil {
			yield("", ErrNoBody)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			yield("", &StatusError{Op: "query", StatusCode: resp.StatusCode})
			return
		}

		b.logger.Debug("Streaming answer",
			slog.String("documentID", req.DocumentID),
			slog.Int("history", len(req.ChatHistory)))

		r := transform.NewReader(resp.Body, unicode.UTF8.NewDecoder())
		buf := make([]byte, readBufferSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if !yield(string(buf[:n]), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}
		}
	}
}

// Documents lists the documents known to the backend.
func (b Backend) Documents(ctx context.Context) ([]models.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/documents", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: "list documents", StatusCode: resp.StatusCode}
	}

	var res documentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("error decoding documents: %w", err)
	}
	if res.Documents == nil {
		res.Documents = []models.Document{}
	}
	return res.Documents, nil
}

// Upload sends a file to the backend for indexing and returns the id the backend assigned to it. When
// the backend does not return an id, a time based one is used instead.
func (b Backend) Upload(ctx context.Context, filename string, content io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("error creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("error copying file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("error closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/upload", &body)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Op: "upload", StatusCode: resp.StatusCode}
	}

	var res uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("error decoding upload response: %w", err)
	}
	if res.ID == "" {
		res.ID = strconv.FormatInt(time.Now().UnixMilli(), 10)
		b.logger.Warn("Backend returned no document id", slog.String("fallbackID", res.ID))
	}
	return res.ID, nil
}

// Delete removes the document with the given id from the backend.
func (b Backend) Delete(ctx context.Context, id string) error {
	jsonBody, err := json.Marshal(deleteRequest{ID: id})
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.baseURL+"/documents", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: "delete", StatusCode: resp.StatusCode}
	}
	return nil
}
