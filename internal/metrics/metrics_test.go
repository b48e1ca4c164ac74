package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.IncRequested()
	m.IncDownloadBegan()
	m.IncDownloadFinished()
	m.IncDownloadFailed()
	m.IncDownloadCancelled()
	m.IncPriorityRaised()
	m.IncPriorityLowered()
	m.IncCacheHits()
	m.IncCacheMisses()
	m.IncRetries()

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.Requested)
	assert.Equal(t, int64(1), snap.DownloadBegan)
	assert.Equal(t, int64(1), snap.DownloadFinished)
	assert.Equal(t, int64(1), snap.DownloadFailed)
	assert.Equal(t, int64(1), snap.DownloadCancelled)
	assert.Equal(t, int64(1), snap.PriorityRaised)
	assert.Equal(t, int64(1), snap.PriorityLowered)
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
	assert.Equal(t, int64(1), snap.Retries)
}

func TestConcurrentIncrementsAreRaceFree(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncRequested()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), m.Snapshot().Requested)
}
