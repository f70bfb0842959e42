package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// steppingClock returns strictly increasing times so update ordering is
// deterministic.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mem := NewMemoryStore()
	mem.now = steppingClock()

	file, err := OpenFileStore(filepath.Join(t.TempDir(), "chat.json"))
	if err != nil {
		t.Fatal(err)
	}
	file.now = steppingClock()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	rs := NewRedisStore(rc)
	rs.now = steppingClock()

	return map[string]Store{"memory": mem, "file": file, "redis": rs}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a, err := s.Create(ctx, "first")
			if err != nil {
				t.Fatal(err)
			}
			b, _ := s.Create(ctx, "  ")
			if b.Title != "New Chat" {
				t.Fatalf("blank title: %q", b.Title)
			}
			if _, err := s.AddMessage(ctx, a.ID, RoleUser, "hello"); err != nil {
				t.Fatal(err)
			}
			if _, err := s.AddMessage(ctx, a.ID, RoleAssistant, "hi there"); err != nil {
				t.Fatal(err)
			}
			if _, err := s.AddMessage(ctx, a.ID, "robot", "x"); err == nil {
				t.Fatalf("invalid role accepted")
			}

			list, err := s.List(ctx, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 || list[0].ID != a.ID || list[0].MessageCount != 2 {
				t.Fatalf("list not ordered by update: %+v", list)
			}
			if err := s.Rename(ctx, b.ID, "renamed"); err != nil {
				t.Fatal(err)
			}
			list, _ = s.List(ctx, 1)
			if len(list) != 1 || list[0].ID != b.ID || list[0].Title != "renamed" {
				t.Fatalf("rename should bump session: %+v", list)
			}

			got, err := s.Get(ctx, a.ID)
			if err != nil || len(got.Messages) != 2 || got.Messages[1].Content != "hi there" {
				t.Fatalf("get: %+v %v", got, err)
			}
			st, _ := s.Stats(ctx)
			if st.TotalSessions != 2 || st.TotalMessages != 2 {
				t.Fatalf("stats: %+v", st)
			}

			if err := s.Delete(ctx, a.ID); err != nil {
				t.Fatal(err)
			}
			if err := s.Delete(ctx, a.ID); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
			if _, err := s.Get(ctx, a.ID); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
			if err := s.Rename(ctx, "missing", "x"); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
			if _, err := s.AddMessage(ctx, "missing", RoleUser, "x"); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestContextBlock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess, _ := s.Create(ctx, "c")
	if block, err := ContextBlock(ctx, s, sess.ID, 5); err != nil || block != "" {
		t.Fatalf("empty session: %q %v", block, err)
	}
	for i, c := range []string{"one", "two", "three"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		s.AddMessage(ctx, sess.ID, role, c)
	}
	block, err := ContextBlock(ctx, s, sess.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := "Previous conversation:\n\nAssistant: two\n\nUser: three\n\n"
	if block != want {
		t.Fatalf("got %q", block)
	}
	if _, err := ContextBlock(ctx, s, "missing", 2); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestFileStoreReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.json")
	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	sess, _ := s.Create(ctx, "persisted")
	s.AddMessage(ctx, sess.ID, RoleUser, "remember me")

	again, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := again.Get(ctx, sess.ID)
	if err != nil || got.Title != "persisted" || len(got.Messages) != 1 {
		t.Fatalf("reload: %+v %v", got, err)
	}
}

func TestRedisConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	s := NewRedisStore(rc)
	sess, _ := s.Create(ctx, "busy")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AddMessage(ctx, sess.ID, RoleUser, "x"); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()
	got, _ := s.Get(ctx, sess.ID)
	if len(got.Messages) != 5 {
		t.Fatalf("lost updates: %d messages", len(got.Messages))
	}
}

func TestTitleFromPrompt(t *testing.T) {
	if got := TitleFromPrompt("short  question"); got != "short question" {
		t.Fatalf("got %q", got)
	}
	long := "How do I rotate crops on a small farm with clay soil and little rain?"
	got := TitleFromPrompt(long)
	if got != long[:50]+"..." {
		t.Fatalf("got %q", got)
	}
	if TitleFromPrompt("   ") != "New Chat" {
		t.Fatalf("blank prompt title")
	}
}
