package display

import (
	"sync"
	"time"
)

// MetricsCollector tracks per-resource transfer metrics and computes a
// moving-average transfer speed over a configurable window.
type MetricsCollector struct {
	mu             sync.RWMutex
	samples        *CircularBuffer
	fileMetrics    map[string]*FileMetric
	startTime      time.Time
	totalBytes     int64
	totalFiles     int64
	windowSize     time.Duration
	sampleInterval time.Duration
}

// FileMetric tracks metrics for one downloaded resource.
type FileMetric struct {
	FileName         string
	Size             int64
	StartTime        time.Time
	EndTime          time.Time
	BytesTransferred int64
	Retries          int
	Error            error
}

// Sample is a point-in-time measurement of cumulative progress.
type Sample struct {
	Timestamp time.Time
	Bytes     int64
	Files     int64
}

// CircularBuffer is a fixed-size ring buffer of Samples.
type CircularBuffer struct {
	buffer []Sample
	size   int
	head   int
	tail   int
	count  int
	mu     sync.RWMutex
}

// NewMetricsCollector creates a collector with the given speed-averaging
// window and sampling interval. Zero values fall back to 30s/100ms.
func NewMetricsCollector(windowSize, sampleInterval time.Duration) *MetricsCollector {
	if windowSize == 0 {
		windowSize = 30 * time.Second
	}
	if sampleInterval == 0 {
		sampleInterval = 100 * time.Millisecond
	}

	bufferSize := int(windowSize / sampleInterval)
	if bufferSize < 10 {
		bufferSize = 10
	}

	return &MetricsCollector{
		samples:        NewCircularBuffer(bufferSize),
		fileMetrics:    make(map[string]*FileMetric),
		windowSize:     windowSize,
		sampleInterval: sampleInterval,
		startTime:      time.Now(),
	}
}

// NewCircularBuffer creates a ring buffer holding up to size samples.
func NewCircularBuffer(size int) *CircularBuffer {
	return &CircularBuffer{
		buffer: make([]Sample, size),
		size:   size,
	}
}

// AddSample records a new cumulative bytes/files measurement.
func (mc *MetricsCollector) AddSample(bytes, files int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.totalBytes += bytes
	mc.totalFiles += files

	mc.samples.Add(Sample{
		Timestamp: time.Now(),
		Bytes:     mc.totalBytes,
		Files:     mc.totalFiles,
	})
}

// StartFile begins tracking metrics for a resource.
func (mc *MetricsCollector) StartFile(filename string, size int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.fileMetrics[filename] = &FileMetric{
		FileName:  filename,
		Size:      size,
		StartTime: time.Now(),
	}
}

// UpdateFile updates the bytes transferred for a tracked resource.
func (mc *MetricsCollector) UpdateFile(filename string, bytesTransferred int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if metric, exists := mc.fileMetrics[filename]; exists {
		metric.BytesTransferred = bytesTransferred
	}
}

// CompleteFile marks a resource as finished.
func (mc *MetricsCollector) CompleteFile(filename string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if metric, exists := mc.fileMetrics[filename]; exists {
		metric.EndTime = time.Now()
	}
}

// ErrorFile marks a resource as having failed, incrementing its retry count.
func (mc *MetricsCollector) ErrorFile(filename string, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if metric, exists := mc.fileMetrics[filename]; exists {
		metric.Error = err
		metric.Retries++
	}
}

// GetCurrentSpeed estimates the current transfer speed using a
// recency-weighted average over the collector's window.
func (mc *MetricsCollector) GetCurrentSpeed() float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	samples := mc.samples.GetRecent(mc.windowSize)
	if len(samples) < 2 {
		return 0
	}

	var weightedSpeed, totalWeight float64

	for i := 1; i < len(samples); i++ {
		prev := samples[i-1]
		curr := samples[i]

		duration := curr.Timestamp.Sub(prev.Timestamp).Seconds()
		if duration <= 0 {
			continue
		}

		speed := float64(curr.Bytes-prev.Bytes) / duration

		weight := float64(i) / float64(len(samples)-1)
		weight = weight * weight

		weightedSpeed += speed * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0
	}

	return weightedSpeed / totalWeight
}

// GetAverageSpeed returns the overall average speed since the
// collector was created.
func (mc *MetricsCollector) GetAverageSpeed() float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	elapsed := time.Since(mc.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(mc.totalBytes) / elapsed
}

// GetFileMetrics returns a copy of the metrics for a tracked resource.
func (mc *MetricsCollector) GetFileMetrics(filename string) (*FileMetric, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	metric, exists := mc.fileMetrics[filename]
	if !exists {
		return nil, false
	}

	metricCopy := *metric
	return &metricCopy, true
}

// GetStats returns an aggregate view across every tracked resource.
func (mc *MetricsCollector) GetStats() Stats {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	stats := Stats{
		TotalBytes:   mc.totalBytes,
		TotalFiles:   mc.totalFiles,
		ElapsedTime:  time.Since(mc.startTime),
		CurrentSpeed: mc.GetCurrentSpeed(),
		AverageSpeed: mc.GetAverageSpeed(),
	}

	for _, metric := range mc.fileMetrics {
		switch {
		case metric.Error != nil:
			stats.FailedFiles++
		case !metric.EndTime.IsZero():
			stats.CompletedFiles++
			stats.CompletedBytes += metric.BytesTransferred
		default:
			stats.ActiveFiles++
		}

		if metric.Retries > 0 {
			stats.TotalRetries += metric.Retries
		}
	}

	return stats
}

// Add appends a sample, evicting the oldest once the buffer is full.
func (cb *CircularBuffer) Add(sample Sample) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.buffer[cb.head] = sample
	cb.head = (cb.head + 1) % cb.size

	if cb.count < cb.size {
		cb.count++
	} else {
		cb.tail = (cb.tail + 1) % cb.size
	}
}

// GetRecent returns samples newer than duration ago, oldest first.
func (cb *CircularBuffer) GetRecent(duration time.Duration) []Sample {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.count == 0 {
		return nil
	}

	cutoff := time.Now().Add(-duration)
	samples := make([]Sample, 0, cb.count)

	for i := 0; i < cb.count; i++ {
		index := (cb.tail + i) % cb.size
		sample := cb.buffer[index]

		if sample.Timestamp.After(cutoff) {
			samples = append(samples, sample)
		}
	}

	return samples
}

// GetAll returns every retained sample, oldest first.
func (cb *CircularBuffer) GetAll() []Sample {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.count == 0 {
		return nil
	}

	samples := make([]Sample, cb.count)
	for i := 0; i < cb.count; i++ {
		index := (cb.tail + i) % cb.size
		samples[i] = cb.buffer[index]
	}

	return samples
}

// Clear empties the buffer.
func (cb *CircularBuffer) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.head = 0
	cb.tail = 0
	cb.count = 0
}

// Stats is an aggregate snapshot across every tracked resource.
type Stats struct {
	TotalBytes     int64
	TotalFiles     int64
	CompletedBytes int64
	CompletedFiles int64
	FailedFiles    int64
	ActiveFiles    int64
	TotalRetries   int
	ElapsedTime    time.Duration
	CurrentSpeed   float64
	AverageSpeed   float64
}

// EstimatedTimeRemaining projects an ETA from the current speed.
func (s Stats) EstimatedTimeRemaining() time.Duration {
	if s.CurrentSpeed <= 0 || s.CompletedBytes >= s.TotalBytes {
		return 0
	}

	remainingBytes := s.TotalBytes - s.CompletedBytes
	seconds := float64(remainingBytes) / s.CurrentSpeed
	return time.Duration(seconds) * time.Second
}

// PercentComplete returns the completion percentage.
func (s Stats) PercentComplete() float64 {
	if s.TotalBytes == 0 {
		if s.TotalFiles == 0 {
			return 0
		}
		return float64(s.CompletedFiles) / float64(s.TotalFiles) * 100
	}
	return float64(s.CompletedBytes) / float64(s.TotalBytes) * 100
}
