package network

import (
	"context"
	"errors"
	"time"
)

// Processing phases reported by the status endpoint.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

// Status is one observation of a source's processing state.
type Status struct {
	Phase          string
	ProcessedPages int64
	// TotalPages is nil until the backend has determined the page count.
	TotalPages *int64
	PreviewURL string
	LastError  string
}

// Terminal reports whether no further status changes can happen.
func (s Status) Terminal() bool {
	return s.Phase == StatusDone || s.Phase == StatusError
}

// PollConfig controls the status polling backoff curve.
type PollConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultPollConfig returns the production backoff curve: 1 s initial delay,
// growing by x1.5 per tick, capped at 5 s. Once the cap is reached the loop
// polls at a fixed 5 s cadence until terminal or cancelled, so polling cost per
// source is bounded.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay: 1000 * time.Millisecond,
		Multiplier:   1.5,
		MaxDelay:     5000 * time.Millisecond,
	}
}

func (p PollConfig) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier)
	if next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}

// PollStatus queries the processing status of sourceID until it reaches a
// terminal phase or ctx is cancelled. Every observation, terminal or not, is
// passed to onUpdate. Transient query failures are swallowed and re-attempted
// on the next tick: a polling blip is not a document failure. Cancellation is
// checked before every iteration, so after the caller cancels, no further
// observations are delivered.
func (c *Client) PollStatus(ctx context.Context, sourceID string, onUpdate func(Status)) (Status, error) {
	delay := c.poll.InitialDelay
	for {
		if err := ctx.Err(); err != nil {
			return Status{}, err
		}

		status, err := c.fetchStatus(ctx, sourceID)
		switch {
		case err == nil:
			if onUpdate != nil {
				onUpdate(status)
			}
			if status.Terminal() {
				return status, nil
			}
		case errors.Is(err, ErrStatusNotFound):
			c.logger.Debugf("no processing record for %s yet", sourceID)
		default:
			if ctx.Err() != nil {
				return Status{}, ctx.Err()
			}
			c.logger.Debugf("status check for %s failed, will retry: %s", sourceID, err)
		}

		select {
		case <-ctx.Done():
			return Status{}, ctx.Err()
		case <-time.After(delay):
		}
		delay = c.poll.nextDelay(delay)
	}
}
