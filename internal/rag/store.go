// Package rag keeps a small in-process document store used to prepend
// retrieved context to queries.
package rag

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kabir325/fogpool/internal/logx"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyContent     = errors.New("empty document content")
)

// Document is one stored text.
type Document struct {
	ID        string            `json:"doc_id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Match is a search hit.
type Match struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Stats summarizes the store.
type Stats struct {
	TotalDocuments int    `json:"total_documents"`
	Mode           string `json:"mode"`
}

// Store is a concurrency-safe keyword-search document store.
type Store struct {
	mu    sync.RWMutex
	docs  map[string]Document
	order []string
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{docs: make(map[string]Document), now: time.Now}
}

// Add stores a document and returns its id. An empty title becomes "Untitled".
func (s *Store) Add(title, content string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}
	doc := Document{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		Metadata:  copyMeta(metadata),
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.docs[doc.ID] = doc
	s.order = append(s.order, doc.ID)
	s.mu.Unlock()
	logx.Log.Info().Str("doc_id", doc.ID).Str("title", title).Msg("document added")
	return doc.ID, nil
}

func (s *Store) Get(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	d.Metadata = copyMeta(d.Metadata)
	return d, nil
}

// List returns all documents in insertion order.
func (s *Store) List() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		d := s.docs[id]
		d.Metadata = copyMeta(d.Metadata)
		out = append(out, d)
	}
	return out
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	delete(s.docs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	logx.Log.Info().Str("doc_id", id).Msg("document deleted")
	return nil
}

// Search ranks documents by keyword relevance and returns at most k matches
// with a positive score, best first. Equal scores keep insertion order.
func (s *Store) Search(query string, k int) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || k <= 0 {
		return nil
	}
	words := strings.Fields(q)
	s.mu.RLock()
	var out []Match
	for _, id := range s.order {
		d := s.docs[id]
		if score := relevance(q, words, d); score > 0 {
			out = append(out, Match{Document: d, Score: score})
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// relevance scores +0.5 when the whole query appears in the content, +0.3
// when it appears in the title and +0.1 per query word found in the content.
func relevance(q string, words []string, d Document) float64 {
	content := strings.ToLower(d.Content)
	title := strings.ToLower(d.Title)
	score := 0.0
	if strings.Contains(content, q) {
		score += 0.5
	}
	if strings.Contains(title, q) {
		score += 0.3
	}
	for _, w := range words {
		if strings.Contains(content, w) {
			score += 0.1
		}
	}
	return score
}

// ContextBlock renders the top k matches as a prompt prefix. It returns ""
// when nothing matches.
func (s *Store) ContextBlock(query string, k int) string {
	matches := s.Search(query, k)
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Context from knowledge base:\n\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "[Document %d: %s]\n%s\n\n", i+1, m.Document.Title, m.Document.Content)
	}
	b.WriteString("Based on the above context, please answer: ")
	return b.String()
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{TotalDocuments: len(s.docs), Mode: "keyword"}
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
