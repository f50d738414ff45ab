package admission

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/voiceflow/types"
)

// Property: for N concurrent TryConsume calls of c tokens each against
// limit L, the committed total never exceeds L, and equals
// granted_count * c exactly.
func TestProperty_Controller_NoLostUpdates(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		workers := rapid.IntRange(1, 40).Draw(rt, "workers")
		chunk := rapid.IntRange(1, 500).Draw(rt, "chunk")
		limit := int64(rapid.IntRange(1, 5000).Draw(rt, "limit"))

		c := NewController(Config{
			Limits: map[types.TenantTier]int64{types.TierStarter: limit},
		}, nil, nil)

		ctx := context.Background()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				allowed, _, err := c.TryConsume(ctx, "tenant", types.TierStarter, chunk)
				if err != nil {
					return
				}
				if allowed {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		usage, err := c.Usage(ctx, types.TierStarter)
		require.NoError(rt, err)
		require.EqualValues(rt, int64(granted)*int64(chunk), usage)
		require.LessOrEqual(rt, usage, limit)
	})
}
