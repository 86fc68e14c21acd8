// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llmclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Transport performs the actual wire call for one model. Callers inject
// the transport that knows how to talk to a specific provider; HTTPClient
// supplies the retry/backoff/timeout envelope around it, keeping this
// package free of any one vendor's wire format.
type Transport func(ctx context.Context, messages []Message, model string) (Response, error)

// RetriableError marks an error the retry loop should retry: network
// failures, 429s, and 5xxs.
type RetriableError struct {
	StatusCode int
	Err        error
}

func (e *RetriableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llmclient: retriable HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llmclient: retriable: %v", e.Err)
}

func (e *RetriableError) Unwrap() error { return e.Err }

// HTTPClient is the production Client: per-request timeout with
// exponential backoff and jitter on retriable errors, capped at 3
// attempts, and sequential fallback across a prioritised model list.
type HTTPClient struct {
	transport  Transport
	httpClient *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	timeout     time.Duration
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the *http.Client stored on the HTTPClient (e.g.
// for TLS configuration). HTTPClient makes no HTTP calls itself and does
// not pass this client to the Transport.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithMaxAttempts overrides the attempt cap (default 3).
func WithMaxAttempts(n int) Option {
	return func(h *HTTPClient) { h.maxAttempts = n }
}

// WithBackoff overrides the base/max exponential backoff delays.
func WithBackoff(base, max time.Duration) Option {
	return func(h *HTTPClient) { h.baseDelay, h.maxDelay = base, max }
}

// WithTimeout overrides the per-request timeout (default 120s).
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) { h.timeout = d }
}

// NewHTTPClient builds an HTTPClient around transport, the injected
// per-provider wire implementation.
func NewHTTPClient(transport Transport, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		transport:   transport,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		maxAttempts: 3,
		baseDelay:   1 * time.Second,
		maxDelay:    20 * time.Second,
		timeout:     120 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Complete calls the transport for one model, retrying retriable errors
// with exponential backoff and jitter up to maxAttempts.
func (h *HTTPClient) Complete(ctx context.Context, messages []Message, model string) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		resp, err := h.transport(callCtx, messages, model)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var retriable *RetriableError
		if !errors.As(err, &retriable) {
			return Response{}, err
		}
		if attempt == h.maxAttempts-1 {
			break
		}

		delay := h.backoffDelay(attempt)
		slog.Warn("llm call failed, retrying", "model", model, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-callCtx.Done():
			return Response{}, callCtx.Err()
		case <-time.After(delay):
		}
	}
	return Response{}, fmt.Errorf("llmclient: exhausted %d attempts for model %q: %w", h.maxAttempts, model, lastErr)
}

func (h *HTTPClient) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * h.baseDelay
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.2)
	total := delay + jitter
	if total > h.maxDelay {
		return h.maxDelay
	}
	return total
}

// CompleteWithFallback tries models in order, moving to the next
// candidate only when the current one is exhausted by Complete's own
// retry loop. The router learns about the model that actually served the
// request via its own Update call, not from this method.
func (h *HTTPClient) CompleteWithFallback(ctx context.Context, messages []Message, models []string) (Response, error) {
	if len(models) == 0 {
		return Response{}, errors.New("llmclient: no candidate models provided")
	}
	var lastErr error
	for _, model := range models {
		resp, err := h.Complete(ctx, messages, model)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		slog.Warn("falling back to next model", "failed_model", model, "error", err)
	}
	return Response{}, fmt.Errorf("llmclient: all %d candidate models failed: %w", len(models), lastErr)
}
