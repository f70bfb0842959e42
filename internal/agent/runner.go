package agent

import (
	"context"
	"errors"
	"time"

	"github.com/kabir325/fogpool/internal/logx"
)

var reconnectSchedule = []time.Duration{
	time.Second, time.Second, time.Second,
	5 * time.Second, 5 * time.Second, 5 * time.Second,
	15 * time.Second, 15 * time.Second, 15 * time.Second,
}

func reconnectDelay(attempt int) time.Duration {
	if attempt < len(reconnectSchedule) {
		return reconnectSchedule[attempt]
	}
	return 30 * time.Second
}

// RunWithReconnect repeatedly invokes connect until it returns nil, a
// rejection, or the context ends. connect reports whether a connection was
// established before the error; that resets the backoff.
func RunWithReconnect(ctx context.Context, shouldReconnect bool, connect func(context.Context) (bool, error)) error {
	attempt := 0
	for {
		connected, err := connect(ctx)
		if err == nil || !shouldReconnect || errors.Is(err, ErrRejected) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		delay := reconnectDelay(attempt)
		attempt++
		logx.Log.Warn().Dur("backoff", delay).Err(err).Msg("connection lost; retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
