// Copyright 2025 Cortexa Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry is a generic retry driver shared by the search gateway and
// the embedding clients. A Policy is pure data; Do interprets it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first
	// (default: 8).
	MaxAttempts int

	// BaseDelay is the initial delay between attempts (default: 1s).
	BaseDelay time.Duration

	// MaxDelay caps the computed delay (default: 30s).
	MaxDelay time.Duration

	// FullJitter draws the delay uniformly from [0, computed] instead of
	// using the computed value directly.
	FullJitter bool

	// HonorRetryAfter uses the provider-signaled delay when the error
	// carries one, instead of the backoff schedule.
	HonorRetryAfter bool
}

// SetDefaults applies default values.
func (p *Policy) SetDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 8
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
}

// Class is the retry classification of an error.
type Class int

const (
	// Fatal errors are returned immediately.
	Fatal Class = iota
	// Transient errors follow the backoff schedule.
	Transient
	// RateLimited errors honor the provider's retry-after signal when the
	// policy allows it.
	RateLimited
)

// Classifier maps an error to its retry class.
type Classifier func(error) Class

// retryAfterCarrier is implemented by errors that carry a provider-signaled
// delay (e.g. a parsed Retry-After header).
type retryAfterCarrier interface {
	RetryAfter() time.Duration
}

// Do runs fn until it succeeds, the error classifies as Fatal, the attempts
// are exhausted, or ctx is done.
func Do(ctx context.Context, p Policy, operation string, classify Classifier, fn func() error) error {
	_, err := DoWithResult(ctx, p, operation, classify, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for operations that return a value.
func DoWithResult[T any](ctx context.Context, p Policy, operation string, classify Classifier, fn func() (T, error)) (T, error) {
	p.SetDefaults()

	var result T
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}

		class := Transient
		if classify != nil {
			class = classify(err)
		}
		if class == Fatal {
			slog.Debug("non-retryable error",
				"operation", operation,
				"error", err)
			return result, err
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.delay(attempt, class, err)
		slog.Debug("retrying operation",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", p.MaxAttempts,
			"class", class,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	slog.Warn("retries exhausted",
		"operation", operation,
		"attempts", p.MaxAttempts,
		"error", lastErr)
	return result, &ExhaustedError{
		Operation: operation,
		Attempts:  p.MaxAttempts,
		LastError: lastErr,
	}
}

// delay computes the wait before the next attempt.
func (p Policy) delay(attempt int, class Class, err error) time.Duration {
	if class == RateLimited && p.HonorRetryAfter {
		var carrier retryAfterCarrier
		if errors.As(err, &carrier) {
			if ra := carrier.RetryAfter(); ra > 0 {
				if ra > p.MaxDelay {
					return p.MaxDelay
				}
				return ra
			}
		}
	}

	delay := time.Duration(math.Pow(2, float64(attempt))) * p.BaseDelay
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.FullJitter {
		delay = time.Duration(rand.Int63n(int64(delay) + 1))
	}
	return delay
}

// ExhaustedError is returned when all attempts are consumed.
type ExhaustedError struct {
	Operation string
	Attempts  int
	LastError error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// IsExhausted reports whether err is a retry exhaustion error.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}
