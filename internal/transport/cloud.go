/**
 * CloudDownload / CloudProcessor — an object-storage transport, the
 * second concrete Downloadable/Processor pair called for in §4.D's
 * "{WebDownload, CloudDownload, …}" polymorphism list.
 *
 * Grounded on CloudPull's AuthManager (internal/api/auth.go): the
 * same golang.org/x/oauth2/google credential flow, wired here to
 * google.golang.org/api/storage/v1 instead of drive/v3 since the
 * spec's cloud-object transport has no document-export semantics to
 * carry over.
 */

package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/fetchkit/fetchkit/internal/taxonomy"
)

// CloudScheme is the URI scheme CloudDownload claims, e.g. "gs://bucket/object".
const CloudScheme = "gs"

// CloudDownload is the Downloadable for a single cloud-object fetch.
type CloudDownload struct {
	id       string
	location string
	bucket   string
	object   string

	mu          sync.Mutex
	totalSize   int64
	transferred int64
	startedAt   time.Time
	finishedAt  time.Time
	cancel      context.CancelFunc
}

// NewCloudDownload creates a Downloadable for a "gs://bucket/object" location.
func NewCloudDownload(id, location string) (*CloudDownload, error) {
	bucket, object, err := parseGSLocation(location)
	if err != nil {
		return nil, err
	}
	return &CloudDownload{id: id, location: location, bucket: bucket, object: object}, nil
}

func parseGSLocation(location string) (bucket, object string, err error) {
	const prefix = "gs://"
	if !strings.HasPrefix(location, prefix) {
		return "", "", taxonomy.New(taxonomy.ProcessorCannotProcess, "unsupported scheme: "+location, nil)
	}
	rest := strings.TrimPrefix(location, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", taxonomy.New(taxonomy.ProcessorCannotProcess, "malformed gs:// location: "+location, nil)
	}
	return parts[0], parts[1], nil
}

func (c *CloudDownload) Identifier() string { return c.id }
func (c *CloudDownload) Location() string   { return c.location }

func (c *CloudDownload) Start(ctx context.Context, params map[string]interface{}) error {
	return nil // driven by CloudProcessor.Process
}

func (c *CloudDownload) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *CloudDownload) Pause() error {
	return taxonomy.New(taxonomy.ProcessorCannotProcess, "CloudDownload does not support pause", nil)
}

func (c *CloudDownload) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

func (c *CloudDownload) TransferredBytes() int64 {
	return atomic.LoadInt64(&c.transferred)
}

func (c *CloudDownload) StartDate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

func (c *CloudDownload) FinishDate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishedAt
}

// CloudProcessorConfig configures a CloudProcessor.
type CloudProcessorConfig struct {
	TempDir               string
	CredentialsJSON       []byte // service-account key, per google.CredentialsFromJSON
	Scopes                []string
}

// DefaultCloudProcessorConfig returns sensible defaults; callers MUST
// still supply CredentialsJSON.
func DefaultCloudProcessorConfig() *CloudProcessorConfig {
	return &CloudProcessorConfig{
		TempDir: filepath.Join(os.TempDir(), "fetchkit-cloud"),
		Scopes:  []string{storage.DevstorageReadOnlyScope},
	}
}

// CloudProcessor drives CloudDownloads over google.golang.org/api/storage/v1.
type CloudProcessor struct {
	mu      sync.Mutex
	state   State
	config  *CloudProcessorConfig
	service *storage.Service
}

// NewCloudProcessor creates a CloudProcessor, exchanging
// config.CredentialsJSON for an authenticated storage client via
// golang.org/x/oauth2/google.
func NewCloudProcessor(ctx context.Context, config *CloudProcessorConfig) (*CloudProcessor, error) {
	if config == nil {
		config = DefaultCloudProcessorConfig()
	}
	if err := os.MkdirAll(config.TempDir, 0o750); err != nil {
		return nil, taxonomy.New(taxonomy.FilesystemCannotCreateDirectory, config.TempDir, err)
	}

	creds, err := google.CredentialsFromJSON(ctx, config.CredentialsJSON, config.Scopes...)
	if err != nil {
		return nil, taxonomy.New(taxonomy.CachePermissionDenied, "invalid cloud credentials", err)
	}

	service, err := storage.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, taxonomy.New(taxonomy.NetworkConnectionFailed, "cloud storage service init", err)
	}

	return &CloudProcessor{state: StateActive, config: config, service: service}, nil
}

func (p *CloudProcessor) CanProcess(d Downloadable) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActive {
		return false
	}
	_, ok := d.(*CloudDownload)
	return ok
}

func (p *CloudProcessor) Pause()  { p.mu.Lock(); p.state = StatePaused; p.mu.Unlock() }
func (p *CloudProcessor) Resume() { p.mu.Lock(); p.state = StateActive; p.mu.Unlock() }
func (p *CloudProcessor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *CloudProcessor) Process(ctx context.Context, d Downloadable, observer Observer) {
	c, ok := d.(*CloudDownload)
	if !ok {
		emitError(observer, d, taxonomy.New(taxonomy.ProcessorCannotProcess, "not a *CloudDownload", nil))
		return
	}
	go p.run(ctx, c, observer)
}

func (p *CloudProcessor) run(ctx context.Context, c *CloudDownload, observer Observer) {
	attemptCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.startedAt = time.Now()
	c.mu.Unlock()

	if observer != nil {
		observer.Begin(c)
	}

	obj, err := p.service.Objects.Get(c.bucket, c.object).Context(attemptCtx).Do()
	if err != nil {
		p.finishWithError(c, observer, classifyStorageError(err))
		return
	}
	c.mu.Lock()
	c.totalSize = int64(obj.Size)
	c.mu.Unlock()

	resp, err := p.service.Objects.Get(c.bucket, c.object).Context(attemptCtx).Download()
	if err != nil {
		p.finishWithError(c, observer, classifyStorageError(err))
		return
	}
	defer resp.Body.Close()

	tmpPath := filepath.Join(p.config.TempDir, uuid.New().String())
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		p.finishWithError(c, observer, taxonomy.New(taxonomy.FilesystemCannotCreateDirectory, tmpPath, err))
		return
	}

	if observer != nil {
		observer.StartTransfer(c)
	}

	counting := &countingReader{r: resp.Body, onRead: func(n int64) {
		atomic.AddInt64(&c.transferred, n)
		if observer != nil {
			observer.BytesTransferred(c, n)
		}
	}}

	_, copyErr := io.Copy(tmpFile, counting)
	closeErr := tmpFile.Close()

	if copyErr != nil {
		os.Remove(tmpPath)
		p.finishWithError(c, observer, taxonomy.FromHostError(copyErr))
		return
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		p.finishWithError(c, observer, taxonomy.New(taxonomy.FilesystemCannotMove, tmpPath, closeErr))
		return
	}

	c.mu.Lock()
	c.finishedAt = time.Now()
	c.mu.Unlock()

	if observer != nil {
		observer.FinishTransfer(c, "file://"+tmpPath)
	}
	os.Remove(tmpPath)

	if observer != nil {
		observer.Finish(c)
	}
}

func (p *CloudProcessor) finishWithError(c *CloudDownload, observer Observer, err error) {
	c.mu.Lock()
	c.finishedAt = time.Now()
	c.mu.Unlock()
	emitError(observer, c, err)
}

// EnqueuePending has nothing to replay for the same reason as
// WebProcessor: no resumable state is persisted across restarts.
func (p *CloudProcessor) EnqueuePending(ctx context.Context, observer Observer) error {
	return nil
}

func classifyStorageError(err error) *taxonomy.Error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "404"):
		return taxonomy.New(taxonomy.CacheFileNotFound, msg, err)
	case strings.Contains(msg, "403"), strings.Contains(msg, "401"):
		return taxonomy.New(taxonomy.CachePermissionDenied, msg, err)
	default:
		return taxonomy.FromHostError(err)
	}
}
