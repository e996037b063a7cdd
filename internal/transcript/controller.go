// Package transcript owns the state of one chat conversation: the ordered message list, the welcome
// reveal and the streamed answer of the single request that may be in flight. Every change is handed to
// an observer as a complete snapshot, in the order the changes were made.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashnegiii/chadoc/internal/models"
)

// Backend answers a query about a document with a stream of text chunks.
type Backend interface {
	Query(ctx context.Context, req models.QueryRequest) iter.Seq2[string, error]
}

// EventKind tells an observer what kind of change produced a snapshot.
type EventKind string

const (
	// EventReset means the whole transcript was replaced.
	EventReset EventKind = "reset"
	// EventAppend means Event.MessageID was appended.
	EventAppend EventKind = "append"
	// EventUpdate means the content of Event.MessageID changed.
	EventUpdate EventKind = "update"
	// EventState means the in-flight flag changed.
	EventState EventKind = "state"
)

// Event describes a single transcript mutation.
type Event struct {
	Kind      EventKind
	MessageID string
}

// Snapshot is a consistent copy of the transcript taken right after a mutation.
type Snapshot struct {
	Event    Event
	Messages []models.Message
	InFlight bool
	Document models.Document
}

// Notification is a transient message for the user, shown outside the transcript.
type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	// Observer receives a snapshot after every mutation. It is called with the controller's emission
	// lock held, so it may call Snapshot but must not call SelectDocument, Submit or Close.
	Observer func(Snapshot)
	// Notifier receives transient notifications, e.g. a failed request.
	Notifier func(Notification)

	RevealInterval time.Duration
	HistorySize    int
	NewTicker      TickerFunc
	Now            func() time.Time
	Logger         *slog.Logger
}

// Controller is the chat transcript of one session. All methods are safe for concurrent use.
type Controller struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// emitMu serialises mutate-and-publish sequences; mu guards the fields below.
	emitMu sync.Mutex
	mu     sync.Mutex

	messages     []models.Message
	document     models.Document
	inFlight     bool
	reveal       *reveal
	cancelStream context.CancelFunc
	generation   uint64
	lastID       int64
	closed       bool
}

// Turn tracks one submitted query until its answer is complete.
type Turn struct {
	UserMessageID      string
	AssistantMessageID string

	done chan struct{}
	err  error
}

const (
	// DefaultRevealInterval is the time between two characters of the welcome reveal.
	DefaultRevealInterval = 5 * time.Millisecond
	// DefaultHistorySize is the number of prior messages sent along with a query.
	DefaultHistorySize = 5

	// ErrorReply replaces the assistant answer when a request fails.
	ErrorReply = "Sorry, I encountered an error. Please try again."

	fallbackDocumentName = "this document"
	errLoggerKey         = "err"
)

// FailureNotification is raised once for every failed request.
var FailureNotification = Notification{
	Title:       "Error",
	Description: "Failed to get response. Please try again.",
}

var (
	// ErrEmptyQuery is returned by Submit for a query that is empty after trimming.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrInFlight is returned by Submit while a previous query is still being answered.
	ErrInFlight = errors.New("a query is already in flight")
	// ErrClosed is returned by a closed controller.
	ErrClosed = errors.New("transcript is closed")
)

// New creates an empty Controller answering through backend.
func New(backend Backend, opts Options) *Controller {
	if opts.RevealInterval <= 0 {
		opts.RevealInterval = DefaultRevealInterval
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTimeTicker
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend: backend,
		opts:    opts,
		logger:  opts.Logger.With(slog.String("module", "transcript")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Greeting returns the welcome text for a document name. An empty name falls back to a generic phrase.
func Greeting(documentName string) string {
	if documentName == "" {
		documentName = fallbackDocumentName
	}
	return fmt.Sprintf("Hey! I am your AI assistant. I can help you answer questions based on %s. "+
		"Feel free to ask me anything.", documentName)
}

// SelectDocument clears the transcript and starts revealing the welcome message for doc, one character
// per tick. A reveal that is still running is stopped first. A query in flight is cancelled and its
// remaining answer discarded. Selecting a document without an ID only clears the transcript.
func (c *Controller) SelectDocument(doc models.Document) error {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	c.stopLocked()
	c.document = doc
	c.messages = nil

	var r *reveal
	if doc.ID != "" {
		now := c.opts.Now()
		c.messages = []models.Message{{
			ID:        models.WelcomeMessageID,
			Role:      models.RoleAssistant,
			Timestamp: models.FormatTimestamp(now),
			SentAt:    now,
		}}
		r = newReveal(Greeting(doc.Name), c.opts.NewTicker(c.opts.RevealInterval))
		c.reveal = r
	}
	snap := c.snapshotLocked(Event{Kind: EventReset})
	c.mu.Unlock()

	c.logger.Debug("Document selected", slog.String("documentID", doc.ID))
	c.publish(snap)

	if r != nil {
		go c.runReveal(r)
	}
	return nil
}

// Submit appends query and an empty assistant placeholder to the transcript and starts streaming the
// answer into the placeholder. It returns once both messages are appended; the returned Turn reports
// when the answer is complete. An empty query or a query in flight leaves the transcript untouched.
func (c *Controller) Submit(query string) (*Turn, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrInFlight
	}

	req := models.QueryRequest{
		Query:       query,
		DocumentID:  c.document.ID,
		ChatHistory: c.historyLocked(),
	}

	now := c.opts.Now()
	timestamp := models.FormatTimestamp(now)
	turn := &Turn{
		UserMessageID:      c.nextIDLocked(now),
		AssistantMessageID: c.nextIDLocked(now),
		done:               make(chan struct{}),
	}

	snaps := make([]Snapshot, 0, 3)
	c.messages = append(c.messages, models.Message{
		ID:        turn.UserMessageID,
		Role:      models.RoleUser,
		Content:   query,
		Timestamp: timestamp,
		SentAt:    now,
	})
	snaps = append(snaps, c.snapshotLocked(Event{Kind: EventAppend, MessageID: turn.UserMessageID}))

	c.inFlight = true
	snaps = append(snaps, c.snapshotLocked(Event{Kind: EventState}))

	c.messages = append(c.messages, models.Message{
		ID:        turn.AssistantMessageID,
		Role:      models.RoleAssistant,
		Timestamp: timestamp,
		SentAt:    now,
	})
	snaps = append(snaps, c.snapshotLocked(Event{Kind: EventAppend, MessageID: turn.AssistantMessageID}))

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelStream = cancel
	gen := c.generation
	c.mu.Unlock()

	for _, snap := range snaps {
		c.publish(snap)
	}

	go c.stream(ctx, cancel, gen, turn, req)
	return turn, nil
}

// Snapshot returns a copy of the current transcript.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(Event{})
}

// Close stops the reveal, cancels a query in flight and stops all further notifications. It is safe to
// call more than once.
func (c *Controller) Close() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopLocked()
	c.cancel()
}

// Done is closed when the answer is complete, has failed or was discarded.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Err returns the failure of the request once Done is closed. A discarded answer is not a failure.
func (t *Turn) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (c *Controller) stream(ctx context.Context, cancel context.CancelFunc, gen uint64, turn *Turn,
	req models.QueryRequest,
) {
	defer close(turn.done)
	defer cancel()

	var acc strings.Builder
	var err error
	for chunk, cerr := range c.backend.Query(ctx, req) {
		if cerr != nil {
			err = cerr
			break
		}
		acc.WriteString(chunk)
		if !c.setContent(gen, turn.AssistantMessageID, acc.String()) {
			// Discarded; leaving the loop stops the read.
			return
		}
	}

	turn.err = c.finish(gen, turn.AssistantMessageID, err)
}

// setContent overwrites the content of message id unless the stream of generation gen was discarded.
func (c *Controller) setContent(gen uint64, id, content string) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed || c.generation != gen {
		c.mu.Unlock()
		return false
	}
	c.setContentLocked(id, content)
	snap := c.snapshotLocked(Event{Kind: EventUpdate, MessageID: id})
	c.mu.Unlock()

	c.publish(snap)
	return true
}

func (c *Controller) finish(gen uint64, id string, err error) error {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed || c.generation != gen {
		c.mu.Unlock()
		return nil
	}

	snaps := make([]Snapshot, 0, 2)
	if err != nil {
		c.setContentLocked(id, ErrorReply)
		snaps = append(snaps, c.snapshotLocked(Event{Kind: EventUpdate, MessageID: id}))
	}
	c.inFlight = false
	c.cancelStream = nil
	snaps = append(snaps, c.snapshotLocked(Event{Kind: EventState}))
	c.mu.Unlock()

	for _, snap := range snaps {
		c.publish(snap)
	}

	if err != nil {
		c.logger.Error("Chat request failed",
			slog.String("messageID", id),
			slog.String(errLoggerKey, err.Error()))
		if c.opts.Notifier != nil {
			c.opts.Notifier(FailureNotification)
		}
	}
	return err
}

func (c *Controller) runReveal(r *reveal) {
	for {
		select {
		case <-r.done:
			return
		case <-r.ticker.C():
			if !c.revealStep(r) {
				return
			}
		}
	}
}

// revealStep shows one more character of r and reports whether more remain.
func (c *Controller) revealStep(r *reveal) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.reveal != r {
		c.mu.Unlock()
		return false
	}
	content, more := r.advance()
	c.setContentLocked(models.WelcomeMessageID, content)
	snap := c.snapshotLocked(Event{Kind: EventUpdate, MessageID: models.WelcomeMessageID})
	if !more {
		r.stop()
		c.reveal = nil
	}
	c.mu.Unlock()

	c.publish(snap)
	return more
}

// stopLocked stops the reveal and discards the query in flight, if any.
func (c *Controller) stopLocked() {
	if c.reveal != nil {
		c.reveal.stop()
		c.reveal = nil
	}
	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	c.inFlight = false
	c.generation++
}

func (c *Controller) historyLocked() []models.HistoryEntry {
	history := make([]models.HistoryEntry, 0, c.opts.HistorySize)
	for _, m := range c.messages {
		if m.ID == models.WelcomeMessageID {
			continue
		}
		history = append(history, models.HistoryEntry{Role: m.Role, Content: m.Content})
	}
	if len(history) > c.opts.HistorySize {
		history = history[len(history)-c.opts.HistorySize:]
	}
	return history
}

// nextIDLocked derives a message id from the time in milliseconds, moving past the previous id when
// two messages are created within the same millisecond.
func (c *Controller) nextIDLocked(now time.Time) string {
	id := now.UnixMilli()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	return strconv.FormatInt(id, 10)
}

func (c *Controller) setContentLocked(id, content string) {
	idx := slices.IndexFunc(c.messages, func(m models.Message) bool { return m.ID == id })
	if idx == -1 {
		return
	}
	c.messages[idx].Content = content
}

func (c *Controller) snapshotLocked(ev Event) Snapshot {
	return Snapshot{
		Event:    ev,
		Messages: slices.Clone(c.messages),
		InFlight: c.inFlight,
		Document: c.document,
	}
}

func (c *Controller) publish(snap Snapshot) {
	if c.opts.Observer != nil {
		c.opts.Observer(snap)
	}
}

// Message returns the message with the given id.
func (s Snapshot) Message(id string) (models.Message, bool) {
	idx := slices.IndexFunc(s.Messages, func(m models.Message) bool { return m.ID == id })
	if idx == -1 {
		return models.Message{}, false
	}
	return s.Messages[idx], true
}
