package besteffort

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRunCapturesValueAndError(t *testing.T) {
	ok := Run(context.Background(), "double", func(context.Context) (int, error) { return 4, nil })
	if !ok.OK() || ok.Value != 4 || ok.Op != "double" {
		t.Fatalf("unexpected result %+v", ok)
	}

	failed := Run(context.Background(), "fail", func(context.Context) (int, error) { return 7, errors.New("boom") })
	if failed.OK() {
		t.Fatalf("expected failure")
	}
	if got := failed.OrElse(-1); got != -1 {
		t.Fatalf("OrElse() = %d, want -1", got)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	res := Do(context.Background(), "explode", func(context.Context) error {
		panic("kaboom")
	})
	if res.OK() || !strings.Contains(res.Err.Error(), "kaboom") {
		t.Fatalf("expected panic captured as error, got %v", res.Err)
	}
}

func TestRunSkipsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	res := Do(ctx, "skip", func(context.Context) error {
		called = true
		return nil
	})
	if called || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected canceled result without call, called=%v err=%v", called, res.Err)
	}
}

func TestLogWritesOnlyFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	Do(context.Background(), "fine", func(context.Context) error { return nil }).Log(logger)
	if buf.Len() != 0 {
		t.Fatalf("expected no log for success, got %s", buf.String())
	}

	Do(context.Background(), "store_answer", func(context.Context) error { return errors.New("down") }).Log(logger)
	out := buf.String()
	if !strings.Contains(out, `"best_effort_failed"`) || !strings.Contains(out, `"operation":"store_answer"`) {
		t.Fatalf("unexpected log output %s", out)
	}
}

func TestOutcome(t *testing.T) {
	op, err := Do(context.Background(), "store_question", func(context.Context) error { return errors.New("x") }).Outcome()
	if op != "store_question" || err == nil {
		t.Fatalf("Outcome() = %q, %v", op, err)
	}
}
