/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	errFailed := errors.New("failed")

	tests := []struct {
		name        string
		maxAttempts int
		f           func(calls *int) func() (any, bool, error)
		expect      func(t *testing.T, calls int, data any, cancel bool, err error)
	}{
		{
			name:        "succeed at first attempt",
			maxAttempts: 3,
			f: func(calls *int) func() (any, bool, error) {
				return func() (any, bool, error) {
					*calls++
					return "foo", false, nil
				}
			},
			expect: func(t *testing.T, calls int, data any, cancel bool, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal("foo", data)
				assert.Equal(1, calls)
			},
		},
		{
			name:        "succeed after failures",
			maxAttempts: 3,
			f: func(calls *int) func() (any, bool, error) {
				return func() (any, bool, error) {
					*calls++
					if *calls < 3 {
						return nil, false, errFailed
					}
					return "foo", false, nil
				}
			},
			expect: func(t *testing.T, calls int, data any, cancel bool, err error) {
				assert := assert.New(t)
				assert.NoError(err)
				assert.Equal("foo", data)
				assert.Equal(3, calls)
			},
		},
		{
			name:        "exhaust attempts",
			maxAttempts: 2,
			f: func(calls *int) func() (any, bool, error) {
				return func() (any, bool, error) {
					*calls++
					return nil, false, errFailed
				}
			},
			expect: func(t *testing.T, calls int, data any, cancel bool, err error) {
				assert := assert.New(t)
				assert.ErrorIs(err, errFailed)
				assert.Equal(2, calls)
			},
		},
		{
			name:        "cancel stops retrying",
			maxAttempts: 5,
			f: func(calls *int) func() (any, bool, error) {
				return func() (any, bool, error) {
					*calls++
					return nil, true, errFailed
				}
			},
			expect: func(t *testing.T, calls int, data any, cancel bool, err error) {
				assert := assert.New(t)
				assert.ErrorIs(err, errFailed)
				assert.True(cancel)
				assert.Equal(1, calls)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls int
			data, cancel, err := Run(context.Background(), 0.001, 0.002, tc.maxAttempts, tc.f(&calls))
			tc.expect(t, calls, data, cancel, err)
		})
	}
}

func TestRun_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	_, _, err := Run(ctx, 1, 1, 3, func() (any, bool, error) {
		calls++
		return nil, false, errors.New("failed")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	assert := assert.New(t)
	for attempt := 1; attempt < 10; attempt++ {
		backoff := Backoff(0.1, 1, attempt)
		assert.LessOrEqual(backoff, time.Second)
		assert.Greater(backoff, time.Duration(0))
	}

	assert.GreaterOrEqual(Backoff(0.1, 1, 1), 50*time.Millisecond)
}
