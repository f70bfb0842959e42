package serverstate

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	c, err := OpenRedis(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer c.Close()
	tr := NewTracker(NewRedisStore(c, ""))

	if got := tr.Status(); got != StatusNotReady {
		t.Fatalf("initial state = %q; want %q", got, StatusNotReady)
	}

	tr.Observe(1)
	if got := tr.Status(); got != StatusReady {
		t.Fatalf("state after Observe = %q; want %q", got, StatusReady)
	}

	tr.StartDrain()
	if got := tr.Status(); got != StatusDraining {
		t.Fatalf("state after StartDrain = %q; want %q", got, StatusDraining)
	}

	// A second coordinator sees the persisted state.
	other := NewRedisStore(c, DefaultRedisKey)
	if st := other.Load(); st.Status != StatusDraining || !st.Draining || st.ActiveClients != 1 {
		t.Fatalf("persisted state = %#v", st)
	}
}

func TestRedisStoreKeysAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := OpenRedis(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer c.Close()

	a := NewTracker(NewRedisStore(c, "pool-a:state"))
	b := NewTracker(NewRedisStore(c, "pool-b:state"))
	a.Observe(2)
	if a.Status() != StatusReady || b.Status() != StatusNotReady {
		t.Fatalf("a=%q b=%q", a.Status(), b.Status())
	}

	mr.Set("pool-b:state", "{not json")
	if got := NewRedisStore(c, "pool-b:state").Load().Status; got != "unknown" {
		t.Fatalf("corrupt value status = %q", got)
	}
}

func TestOpenRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()
	if _, err := OpenRedis(context.Background(), addr); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		url    string
		addrs  int
		master string
		db     int
	}{
		{"localhost:6379", 1, "", 0},
		{"redis://:pass@localhost:6379/1", 1, "", 1},
		{"redis://host1:6379,host2:6379/0", 2, "", 0},
		{"redis-sentinel://localhost:26379/mymaster?db=2", 1, "mymaster", 2},
	}
	for _, tt := range tests {
		opts, err := parseRedisURL(tt.url)
		if err != nil {
			t.Fatalf("parseRedisURL(%q): %v", tt.url, err)
		}
		if len(opts.Addrs) != tt.addrs {
			t.Fatalf("%q addrs = %d; want %d", tt.url, len(opts.Addrs), tt.addrs)
		}
		if opts.MasterName != tt.master {
			t.Fatalf("%q master = %q; want %q", tt.url, opts.MasterName, tt.master)
		}
		if opts.DB != tt.db {
			t.Fatalf("%q db = %d; want %d", tt.url, opts.DB, tt.db)
		}
	}
	for _, bad := range []string{"memcache://x", "redis://localhost:6379/abc", "rediss://localhost:6379?db=-1"} {
		if _, err := parseRedisURL(bad); err == nil {
			t.Fatalf("parseRedisURL(%q): expected error", bad)
		}
	}
	opts, err := parseRedisURL("rediss://user:pw@localhost:6380?db=3")
	if err != nil || opts.TLSConfig == nil || opts.Username != "user" || opts.Password != "pw" || opts.DB != 3 {
		t.Fatalf("rediss options %+v err %v", opts, err)
	}
}
