// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package admission

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newTestController connects to a real Redis instance named by REDIS_ADDR.
// Skipped when unset, matching the toxiproxy integration test's pattern of
// not faking the infrastructure it actually depends on.
func newTestController(t *testing.T) (*Controller, context.Context) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping admission controller integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	require.NoError(t, rdb.FlushDB(ctx).Err())
	t.Cleanup(func() { rdb.Close() })
	return NewController(rdb, nil), ctx
}

func TestAcquireGrantsUpToMaxConcurrent(t *testing.T) {
	c, ctx := newTestController(t)

	s1, err := c.Acquire(ctx, "sqlite-latest", 2)
	require.NoError(t, err)
	s2, err := c.Acquire(ctx, "sqlite-latest", 2)
	require.NoError(t, err)

	_, err = c.Acquire(ctx, "sqlite-latest", 2)
	require.ErrorIs(t, err, ErrOverloaded)

	s1.Release(ctx)
	s2.Release(ctx)

	n, err := c.Count(ctx, "sqlite-latest")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReleaseIsIdempotent(t *testing.T) {
	c, ctx := newTestController(t)

	slot, err := c.Acquire(ctx, "postgres-17", 1)
	require.NoError(t, err)

	slot.Release(ctx)
	slot.Release(ctx)
	slot.Release(ctx)

	n, err := c.Count(ctx, "postgres-17")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReleaseAfterCounterExpiryDoesNotGoNegative(t *testing.T) {
	c, ctx := newTestController(t)

	slot, err := c.Acquire(ctx, "mariadb-11", 1)
	require.NoError(t, err)

	// Simulate the safety TTL firing mid-execution.
	require.NoError(t, c.redis.Del(ctx, counterKey("mariadb-11")).Err())
	slot.Release(ctx)

	n, err := c.Count(ctx, "mariadb-11")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCountIsZeroForUnknownExecutor(t *testing.T) {
	c, ctx := newTestController(t)

	n, err := c.Count(ctx, "never-acquired")
	require.NoError(t, err)
	require.Zero(t, n)
}
