package ai

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrModelUnavailable     = errors.New("model unavailable")
	ErrModelTimeout         = errors.New("model timeout")
)

// classifyModelErr tags a transport failure as a timeout or an outage.
func classifyModelErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s failed: %w: %w", op, ErrModelTimeout, err)
	}
	return fmt.Errorf("%s failed: %w: %w", op, ErrModelUnavailable, err)
}
