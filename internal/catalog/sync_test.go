package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/model"
	"storefront/internal/retry"
)

// fakeSource returns queued results in order, repeating the last one.
type fakeSource struct {
	mu      sync.Mutex
	results []fakeResult
	calls   int
	block   chan struct{}
}

type fakeResult struct {
	rows []model.RawProduct
	err  error
}

func (f *fakeSource) Fetch(ctx context.Context) ([]model.RawProduct, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i].rows, f.results[i].err
}

func testSyncer(src Source, cache *Cache) *Syncer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := retry.Policy{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return NewSyncer(src, cache, policy, logger)
}

func TestSyncUpdatesCache(t *testing.T) {
	cache := NewCache(nil)
	src := &fakeSource{results: []fakeResult{{rows: houseBlendRows()}}}

	result, err := testSyncer(src, cache).Sync(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.Products)
	assert.Equal(t, 1, result.Groups)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, cache.Status().IsSyncing, "flag cleared after sync")
}

func TestSyncFailureKeepsLastGoodSnapshot(t *testing.T) {
	cache := NewCache(nil)
	cache.Update(houseBlendRows())
	src := &fakeSource{results: []fakeResult{{err: errors.New("connection reset")}}}

	_, err := testSyncer(src, cache).Sync(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUpstreamError)
	assert.Len(t, cache.GroupedProducts(), 1)
	assert.Contains(t, cache.Status().LastError, "connection reset")
	assert.Equal(t, 1, src.calls, "admin sync does not retry")
}

func TestSyncWithRetryRecovers(t *testing.T) {
	cache := NewCache(nil)
	src := &fakeSource{results: []fakeResult{
		{err: errors.New("503")},
		{err: errors.New("503")},
		{rows: houseBlendRows()},
	}}

	result, err := testSyncer(src, cache).SyncWithRetry(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, cache.RawProducts(), 2)
}

func TestSyncWithRetryStopsOnPermanent(t *testing.T) {
	cache := NewCache(nil)
	denied := model.NewUnauthorizedError("sheet access denied")
	src := &fakeSource{results: []fakeResult{{err: retry.Permanent(denied)}}}

	_, err := testSyncer(src, cache).SyncWithRetry(context.Background())

	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)
	assert.Equal(t, 1, src.calls)
}

func TestConcurrentSyncsCollapse(t *testing.T) {
	cache := NewCache(nil)
	src := &fakeSource{
		results: []fakeResult{{rows: houseBlendRows()}},
		block:   make(chan struct{}),
	}
	s := testSyncer(src, cache)

	done := make(chan *SyncResult, 1)
	go func() {
		r, _ := s.Sync(context.Background())
		done <- r
	}()

	require.Eventually(t, func() bool { return cache.Status().IsSyncing }, time.Second, time.Millisecond)

	second, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, second.AlreadySyncing)

	close(src.block)
	first := <-done
	assert.False(t, first.AlreadySyncing)
	assert.Equal(t, 1, src.calls)
}
