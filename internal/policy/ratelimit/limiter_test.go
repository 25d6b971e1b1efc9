package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 RPS = one token every 100ms, burst 1.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://pbs.twimg.com/media/a.jpg"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx, "https://pbs.twimg.com/media/b.jpg"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	l := New(Config{
		DefaultRPS:   1,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example.com/1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.example.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("host b blocked unexpectedly")
	}
}

func TestLimiter_PerHostOverride(t *testing.T) {
	l := New(Config{
		DefaultRPS:   0,
		DefaultBurst: 1,
		PerHostRPS:   map[string]float64{"sinaimg.cn": 5},
	})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://wx1.sinaimg.cn/a.jpg"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://wx1.sinaimg.cn/b.jpg"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 150*time.Millisecond {
		t.Errorf("expected override to throttle, waited %v", dur)
	}

	start = time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx, "https://unthrottled.example/x"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("default host should be unlimited")
	}
}

func TestLimiter_ContextCanceled(t *testing.T) {
	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx, "https://slow.example/1"); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Wait(ctx, "https://slow.example/2"); err == nil {
		t.Fatal("expected canceled context to fail the wait")
	}
}
