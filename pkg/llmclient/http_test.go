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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient(transport Transport) *HTTPClient {
	return NewHTTPClient(transport, WithBackoff(time.Millisecond, 5*time.Millisecond))
}

func TestCompleteRetriesRetriableErrors(t *testing.T) {
	calls := 0
	client := fastClient(func(ctx context.Context, messages []Message, model string) (Response, error) {
		calls++
		if calls < 3 {
			return Response{}, &RetriableError{StatusCode: 429, Err: errors.New("rate limited")}
		}
		return Response{Content: "ok", Model: model, TokensUsed: 7}, nil
	})

	resp, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "m1")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, calls)
}

func TestCompleteStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	client := fastClient(func(ctx context.Context, messages []Message, model string) (Response, error) {
		calls++
		return Response{}, &RetriableError{StatusCode: 503, Err: errors.New("unavailable")}
	})

	_, err := client.Complete(context.Background(), nil, "m1")
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "exhausted 3 attempts")
}

func TestCompleteDoesNotRetryNonRetriable(t *testing.T) {
	calls := 0
	client := fastClient(func(ctx context.Context, messages []Message, model string) (Response, error) {
		calls++
		return Response{}, errors.New("invalid api key")
	})

	_, err := client.Complete(context.Background(), nil, "m1")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCompleteWithFallbackWalksModels(t *testing.T) {
	var tried []string
	client := fastClient(func(ctx context.Context, messages []Message, model string) (Response, error) {
		tried = append(tried, model)
		if model == "m3" {
			return Response{Content: "served", Model: model}, nil
		}
		return Response{}, errors.New("model unavailable")
	})

	resp, err := client.CompleteWithFallback(context.Background(), nil, []string{"m1", "m2", "m3"})
	require.NoError(t, err)
	assert.Equal(t, "m3", resp.Model)
	assert.Equal(t, []string{"m1", "m2", "m3"}, tried)
}

func TestCompleteWithFallbackAllFail(t *testing.T) {
	client := fastClient(func(ctx context.Context, messages []Message, model string) (Response, error) {
		return Response{}, errors.New("down")
	})

	_, err := client.CompleteWithFallback(context.Background(), nil, []string{"m1", "m2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 candidate models failed")

	_, err = client.CompleteWithFallback(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestCompleteHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := NewHTTPClient(func(ctx context.Context, messages []Message, model string) (Response, error) {
		cancel()
		return Response{}, &RetriableError{Err: errors.New("transient")}
	}, WithBackoff(time.Minute, time.Minute))

	_, err := client.Complete(ctx, nil, "m1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
