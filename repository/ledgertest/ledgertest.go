// Package ledgertest holds behaviour checks shared by every EventLedger backend.
package ledgertest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/realty-mesh/repository"
)

// Run exercises ledger against the EventLedger contract.
func Run(t *testing.T, ledger repository.EventLedger) {
	t.Helper()
	ctx := context.Background()

	t.Run("first event applies", func(t *testing.T) {
		ok, err := ledger.Advance(ctx, "P1", 100)
		require.NoError(t, err)
		assert.True(t, ok)

		last, err := ledger.Last(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), last)
	})

	t.Run("replay of the same event applies", func(t *testing.T) {
		ok, err := ledger.Advance(ctx, "P1", 100)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("older event is skipped", func(t *testing.T) {
		ok, err := ledger.Advance(ctx, "P1", 99)
		require.NoError(t, err)
		assert.False(t, ok)

		last, err := ledger.Last(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), last)
	})

	t.Run("newer event advances", func(t *testing.T) {
		ok, err := ledger.Advance(ctx, "P1", 150)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("entities are independent", func(t *testing.T) {
		ok, err := ledger.Advance(ctx, "P2", 1)
		require.NoError(t, err)
		assert.True(t, ok)

		last, err := ledger.Last(ctx, "P3")
		require.NoError(t, err)
		assert.Zero(t, last)
	})

	t.Run("concurrent advances keep the maximum", func(t *testing.T) {
		var wg sync.WaitGroup
		for ts := int64(1); ts <= 20; ts++ {
			wg.Add(1)
			go func(ts int64) {
				defer wg.Done()
				_, _ = ledger.Advance(ctx, "P4", ts)
			}(ts)
		}
		wg.Wait()

		last, err := ledger.Last(ctx, "P4")
		require.NoError(t, err)
		assert.Equal(t, int64(20), last)
	})
}
