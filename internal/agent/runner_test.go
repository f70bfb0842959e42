package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnectDelay(t *testing.T) {
	cases := map[int]time.Duration{0: time.Second, 2: time.Second, 3: 5 * time.Second, 8: 15 * time.Second, 9: 30 * time.Second, 50: 30 * time.Second}
	for attempt, want := range cases {
		if got := reconnectDelay(attempt); got != want {
			t.Fatalf("attempt %d: got %v want %v", attempt, got, want)
		}
	}
}

func TestRunWithReconnectRetries(t *testing.T) {
	saved := reconnectSchedule
	reconnectSchedule = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { reconnectSchedule = saved }()

	calls := 0
	err := RunWithReconnect(context.Background(), true, func(context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("refused")
		}
		return true, nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRunWithReconnectDisabled(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := RunWithReconnect(context.Background(), false, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRunWithReconnectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RunWithReconnect(ctx, true, func(context.Context) (bool, error) {
		calls++
		cancel()
		return true, errors.New("lost")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}
