package handlers

import (
	"slices"

	"github.com/ashnegiii/chadoc/internal/models"
	"github.com/ashnegiii/chadoc/internal/transcript"
	lru "github.com/hashicorp/golang-lru/v2"
)

// session is one open chat screen: its transcript and the documents its selector offers.
type session struct {
	transcript *transcript.Controller
	documents  []models.Document
}

// sessions keeps the most recently used chat sessions. An evicted session is closed, which stops its
// reveal and cancels its request in flight.
type sessions struct {
	cache *lru.Cache[string, *session]
}

func newSessions(size int) (*sessions, error) {
	cache, err := lru.NewWithEvict[string, *session](size, func(_ string, s *session) {
		s.transcript.Close()
	})
	if err != nil {
		return nil, err
	}
	return &sessions{cache: cache}, nil
}

func (ss *sessions) add(id string, s *session) {
	ss.cache.Add(id, s)
}

func (ss *sessions) get(id string) (*session, bool) {
	if id == "" {
		return nil, false
	}
	return ss.cache.Get(id)
}

func (ss *sessions) closeAll() {
	ss.cache.Purge()
}

// document returns the document with the given id. An id the selector did not offer yields a document
// without a name, so the greeting falls back to a generic phrase.
func (s *session) document(id string) models.Document {
	idx := slices.IndexFunc(s.documents, func(d models.Document) bool { return d.ID == id })
	if idx == -1 {
		return models.Document{ID: id}
	}
	return s.documents[idx]
}
