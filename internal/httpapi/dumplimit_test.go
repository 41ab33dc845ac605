package httpapi

import (
	"testing"
	"time"

	"github.com/gobanos/some-platformer/internal/config"
)

func TestDumpLimiterAdmitsBurstPerWindow(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewDumpLimiter(config.ReplayConfig{DumpWindow: time.Minute, DumpBurst: 2}, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if _, ok := limiter.Reserve(); !ok {
			t.Fatalf("dump %d inside the burst was refused", i+1)
		}
		now = now.Add(10 * time.Second)
	}
	//1.- The third dump waits for the first grant to leave the window.
	wait, ok := limiter.Reserve()
	if ok {
		t.Fatal("expected third dump in the window to be refused")
	}
	if wait != 40*time.Second {
		t.Fatalf("expected a 40s wait, got %v", wait)
	}

	now = now.Add(wait)
	if _, ok := limiter.Reserve(); !ok {
		t.Fatal("expected a dump once the oldest grant expired")
	}
	if _, ok := limiter.Reserve(); ok {
		t.Fatal("expected the refreshed window to be full again")
	}
}

func TestDumpLimiterDisabledByConfig(t *testing.T) {
	for _, cfg := range []config.ReplayConfig{
		{DumpWindow: 0, DumpBurst: 1},
		{DumpWindow: time.Minute, DumpBurst: 0},
	} {
		limiter := NewDumpLimiter(cfg, nil)
		for i := 0; i < 5; i++ {
			if _, ok := limiter.Reserve(); !ok {
				t.Fatalf("expected %+v to admit every dump", cfg)
			}
		}
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       1,
		300 * time.Millisecond:  1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		40 * time.Second:        40,
	}
	for wait, want := range cases {
		if got := retryAfterSeconds(wait); got != want {
			t.Fatalf("retryAfterSeconds(%v) = %d, want %d", wait, got, want)
		}
	}
}
