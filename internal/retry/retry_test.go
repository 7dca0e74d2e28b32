package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	return t.c
}

func TestDoStopsAfterAttempts(t *testing.T) {
	timer := newRecordingTimer()
	policy := Policy{Attempts: 3, Unit: time.Second}.WithTimer(timer)
	failure := errors.New("connection refused")

	calls := 0
	err := policy.Do(context.Background(), "insert", func(context.Context) error {
		calls++
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected last failure, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(timer.waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, timer.waits)
	}
	for i := range want {
		if timer.waits[i] != want[i] {
			t.Fatalf("expected waits %v, got %v", want, timer.waits)
		}
	}
}

func TestDoWaitsGrowStrictly(t *testing.T) {
	timer := newRecordingTimer()
	policy := Policy{Attempts: 6, Unit: 10 * time.Millisecond}.WithTimer(timer)

	_ = policy.Do(context.Background(), "insert", func(context.Context) error {
		return errors.New("boom")
	})
	if len(timer.waits) != 5 {
		t.Fatalf("expected 5 waits, got %d", len(timer.waits))
	}
	for i := 1; i < len(timer.waits); i++ {
		if timer.waits[i] <= timer.waits[i-1] {
			t.Fatalf("expected strictly increasing waits, got %v", timer.waits)
		}
	}
}

func TestDoReturnsOnSuccess(t *testing.T) {
	timer := newRecordingTimer()
	policy := Policy{Attempts: 3, Unit: time.Second}.WithTimer(timer)

	calls := 0
	err := policy.Do(context.Background(), "insert", func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 || len(timer.waits) != 1 {
		t.Fatalf("expected 2 calls and 1 wait, got %d calls and %v", calls, timer.waits)
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	timer := newRecordingTimer()
	policy := Policy{Attempts: 5, Unit: time.Second}.WithTimer(timer)
	invalid := errors.New("invalid input")

	calls := 0
	err := policy.Do(context.Background(), "insert", func(context.Context) error {
		calls++
		return Permanent(invalid)
	})
	if !errors.Is(err, invalid) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	if calls != 1 || len(timer.waits) != 0 {
		t.Fatalf("expected a single attempt, got %d calls and %v", calls, timer.waits)
	}
}

func TestDoSingleAttemptNeverWaits(t *testing.T) {
	timer := newRecordingTimer()
	policy := Policy{Attempts: 0}.WithTimer(timer)

	calls := 0
	_ = policy.Do(context.Background(), "insert", func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 || len(timer.waits) != 0 {
		t.Fatalf("expected one attempt without waits, got %d calls and %v", calls, timer.waits)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	timer := newRecordingTimer()
	policy := Policy{Attempts: 5, Unit: time.Second}.WithTimer(timer)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := policy.Do(ctx, "insert", func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected an error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected no attempts after cancellation, got %d", calls)
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatalf("expected nil")
	}
	if !IsPermanent(Permanent(errors.New("x"))) {
		t.Fatalf("expected permanent error to be detected")
	}
}

func TestDoublingSaturatesInsteadOfOverflowing(t *testing.T) {
	d := &doubling{unit: time.Second}
	previous := time.Duration(0)
	for i := 0; i < 80; i++ {
		wait := d.NextBackOff()
		if wait <= 0 {
			t.Fatalf("expected a positive wait at attempt %d, got %s", i, wait)
		}
		if wait < previous {
			t.Fatalf("expected non-decreasing waits, got %s after %s at attempt %d", wait, previous, i)
		}
		previous = wait
	}
	if previous != MaxWait {
		t.Fatalf("expected waits to saturate at MaxWait, got %s", previous)
	}

	d.Reset()
	if wait := d.NextBackOff(); wait != time.Second {
		t.Fatalf("expected reset to restart at 1s, got %s", wait)
	}
}
