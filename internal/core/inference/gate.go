// Package inference serializes access to the vision model and bounds every call in time.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/docsense/internal/core/domain"
	"github.com/kirillkom/docsense/internal/core/ports"
)

const DefaultTimeout = 120 * time.Second

// Gate admits one inference at a time. The timeout covers both the queue wait and the call.
type Gate struct {
	model     ports.VisionModel
	sem       *semaphore.Weighted
	timeout   time.Duration
	telemetry ports.Telemetry
	logger    *slog.Logger
}

func NewGate(model ports.VisionModel, timeout time.Duration, telemetry ports.Telemetry, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if telemetry == nil {
		telemetry = ports.NopTelemetry{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		model:     model,
		sem:       semaphore.NewWeighted(1),
		timeout:   timeout,
		telemetry: telemetry,
		logger:    logger,
	}
}

func (g *Gate) Generate(ctx context.Context, req domain.InferenceRequest) (string, error) {
	return g.run(ctx, "generate", req)
}

// Named returns a view of the gate that reports calls under operation.
func (g *Gate) Named(operation string) ports.VisionModel {
	return namedGate{gate: g, operation: operation}
}

type namedGate struct {
	gate      *Gate
	operation string
}

func (n namedGate) Generate(ctx context.Context, req domain.InferenceRequest) (string, error) {
	return n.gate.run(ctx, n.operation, req)
}

func (g *Gate) run(ctx context.Context, operation string, req domain.InferenceRequest) (out string, err error) {
	started := time.Now()
	defer func() {
		g.telemetry.RecordInference(operation, time.Since(started), err)
	}()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(callCtx, 1); err != nil {
		return "", g.mapContextErr(ctx, callCtx, operation, "wait", err)
	}
	defer g.sem.Release(1)

	out, err = g.model.Generate(callCtx, req)
	if err != nil {
		if callCtx.Err() != nil {
			return "", g.mapContextErr(ctx, callCtx, operation, "call", err)
		}
		return "", err
	}
	return out, nil
}

func (g *Gate) mapContextErr(parent, callCtx context.Context, operation, phase string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		g.logger.Warn("inference_timeout", "operation", operation, "phase", phase, "timeout", g.timeout.String())
		return domain.WrapError(domain.ErrInferenceTimeout, operation, fmt.Errorf("%s exceeded %s: %w", phase, g.timeout, err))
	}
	return err
}
