package eventbus

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyed(key, subject string) *fakeDelivery {
	h := nats.Header{}
	if key != "" {
		h.Set(HeaderEventKey, key)
	}
	return &fakeDelivery{subject: subject, data: []byte(key), headers: h}
}

func TestShardPoolKeepsPerKeyOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string][]int{}
	)
	pool := newShardPool(4, 4, func(_ context.Context, d Delivery) {
		seq, _ := strconv.Atoi(string(d.Data()))
		mu.Lock()
		defer mu.Unlock()
		key := d.Headers().Get(HeaderEventKey)
		seen[key] = append(seen[key], seq)
	})
	pool.start()

	for i := 0; i < 50; i++ {
		for _, key := range []string{"P1", "P2", "P3"} {
			d := keyed(key, "real-estate.events.property.updated")
			d.data = []byte(strconv.Itoa(i))
			require.True(t, pool.submit(d))
		}
	}
	require.NoError(t, pool.stop(context.Background()))

	for _, key := range []string{"P1", "P2", "P3"} {
		require.Len(t, seen[key], 50)
		for i, v := range seen[key] {
			assert.Equal(t, i, v)
		}
	}
}

func TestShardPoolRunsKeysConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)
	pool := newShardPool(64, 1, func(_ context.Context, d Delivery) {
		started <- d.Headers().Get(HeaderEventKey)
		<-release
	})
	pool.start()

	// find two keys that hash to different shards
	a, b := "P1", ""
	for _, candidate := range []string{"P2", "P3", "P4", "P5", "P6", "P7", "P8"} {
		if shardOf(pool, candidate) != shardOf(pool, a) {
			b = candidate
			break
		}
	}
	require.NotEmpty(t, b)

	require.True(t, pool.submit(keyed(a, "s")))
	require.True(t, pool.submit(keyed(b, "s")))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case key := <-started:
			got[key] = true
		case <-time.After(time.Second):
			t.Fatal("handlers for unrelated keys did not run concurrently")
		}
	}
	assert.True(t, got[a] && got[b])

	close(release)
	require.NoError(t, pool.stop(context.Background()))
}

func shardOf(p *shardPool, key string) int {
	return p.shardFor(keyed(key, "s"))
}

func TestShardPoolStopCancelsSlowHandlers(t *testing.T) {
	cancelled := make(chan struct{})
	pool := newShardPool(1, 1, func(ctx context.Context, d Delivery) {
		<-ctx.Done()
		close(cancelled)
	})
	pool.start()
	require.True(t, pool.submit(keyed("P1", "s")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := pool.stop(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	select {
	case <-cancelled:
	default:
		t.Fatal("handler context was not cancelled")
	}
	assert.False(t, pool.submit(keyed("P2", "s")))
}

func TestShardKeyFallsBackToSubject(t *testing.T) {
	assert.Equal(t, "P1", shardKey(keyed("P1", "subj")))
	assert.Equal(t, "subj", shardKey(keyed("", "subj")))
}
