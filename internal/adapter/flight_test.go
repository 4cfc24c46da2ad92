package adapter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/singleflight"
)

func TestSharedIgnoresLeaderCancel(t *testing.T) {
	var (
		g       singleflight.Group
		calls   atomic.Int32
		started = make(chan struct{})
		release = make(chan struct{})
	)
	fn := func(ctx context.Context) (string, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return "snapshot", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := shared(leaderCtx, &g, "snapshot", fn)
		leaderErr <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := shared(context.Background(), &g, "snapshot", fn)
		follower <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader error = %v, want %v", err, context.Canceled)
	}

	close(release)
	got := <-follower
	if got.err != nil || got.v != "snapshot" {
		t.Errorf("follower = %q, %v; want snapshot, nil", got.v, got.err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestSharedKeepsDeadline(t *testing.T) {
	var g singleflight.Group
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	want, _ := ctx.Deadline()

	got, err := shared(ctx, &g, "deadline", func(ctx context.Context) (time.Time, error) {
		d, ok := ctx.Deadline()
		if !ok {
			return time.Time{}, errors.New("no deadline")
		}
		return d, nil
	})
	if err != nil {
		t.Fatalf("shared() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("deadline = %v, want %v", got, want)
	}
}
