package rag

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func seed(t *testing.T) (*Store, map[string]string) {
	t.Helper()
	s := NewStore()
	ids := map[string]string{}
	for _, d := range []struct{ title, content string }{
		{"Crop rotation", "Rotate wheat with legumes to restore soil nitrogen."},
		{"Irrigation", "Drip irrigation saves water on wheat fields."},
		{"Pests", "Aphids are controlled by ladybugs."},
	} {
		id, err := s.Add(d.title, d.content, map[string]string{"src": "test"})
		if err != nil {
			t.Fatal(err)
		}
		ids[d.title] = id
	}
	return s, ids
}

func TestSearchScoring(t *testing.T) {
	s, ids := seed(t)
	got := s.Search("soil nitrogen", 3)
	if len(got) != 1 || got[0].Document.ID != ids["Crop rotation"] {
		t.Fatalf("unexpected matches %+v", got)
	}
	// full query in content plus two word hits
	if math.Abs(got[0].Score-0.7) > 1e-9 {
		t.Fatalf("score = %v; want 0.7", got[0].Score)
	}

	got = s.Search("Irrigation", 3)
	if len(got) != 1 || math.Abs(got[0].Score-0.9) > 1e-9 {
		t.Fatalf("title and content match: %+v", got)
	}
}

func TestSearchOrderAndLimit(t *testing.T) {
	s, ids := seed(t)
	got := s.Search("wheat", 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Document.ID != ids["Crop rotation"] || got[1].Document.ID != ids["Irrigation"] {
		t.Fatalf("ties must keep insertion order: %+v", got)
	}
	if got := s.Search("wheat", 1); len(got) != 1 {
		t.Fatalf("k not applied")
	}
	if got := s.Search("   ", 3); got != nil {
		t.Fatalf("empty query should not match")
	}
}

func TestContextBlock(t *testing.T) {
	s, _ := seed(t)
	block := s.ContextBlock("aphids", 3)
	want := "Context from knowledge base:\n\n[Document 1: Pests]\nAphids are controlled by ladybugs.\n\nBased on the above context, please answer: "
	if block != want {
		t.Fatalf("got %q", block)
	}
	if s.ContextBlock("quantum", 3) != "" {
		t.Fatalf("expected empty block")
	}
}

func TestAddGetDelete(t *testing.T) {
	s, ids := seed(t)
	if _, err := s.Add("x", "  ", nil); err == nil {
		t.Fatalf("empty content accepted")
	}
	id, _ := s.Add("", "body", nil)
	d, err := s.Get(id)
	if err != nil || d.Title != "Untitled" {
		t.Fatalf("get: %+v %v", d, err)
	}
	if err := s.Delete(ids["Pests"]); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ids["Pests"]); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if _, err := s.Get("nope"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	list := s.List()
	if len(list) != 3 || s.Stats().TotalDocuments != 3 {
		t.Fatalf("unexpected list %+v", list)
	}
	for _, d := range list {
		if strings.Contains(d.Content, "Aphids") {
			t.Fatalf("deleted document listed")
		}
	}
}
