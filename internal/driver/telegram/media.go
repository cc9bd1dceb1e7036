package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"memoria/pkg/memoria"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

const (
	defaultDocumentCacheSize = 512
	// DefaultMaxDownloadBytes matches the Bot API download ceiling.
	DefaultMaxDownloadBytes int64 = 20 << 20
	defaultDownloadTimeout        = 60 * time.Second
)

type documentLocation struct {
	id            int64
	accessHash    int64
	fileReference []byte
}

// DocumentCache remembers the file locations of recently received documents
// so they can be downloaded after the update was handled. The oldest entry is
// evicted once the limit is reached.
type DocumentCache struct {
	mu    sync.Mutex
	limit int
	order []string
	byID  map[string]documentLocation
}

// NewDocumentCache creates a bounded document location cache.
func NewDocumentCache(limit int) *DocumentCache {
	if limit <= 0 {
		limit = defaultDocumentCacheSize
	}

	return &DocumentCache{limit: limit, byID: make(map[string]documentLocation, limit)}
}

// Remember stores the location of one document.
func (c *DocumentCache) Remember(document *tg.Document) {
	if c == nil || document == nil {
		return
	}

	key := strconv.FormatInt(document.ID, 10)
	location := documentLocation{
		id:            document.ID,
		accessHash:    document.AccessHash,
		fileReference: append([]byte(nil), document.FileReference...),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[key]; !exists {
		c.order = append(c.order, key)
	}
	c.byID[key] = location
	for len(c.order) > c.limit {
		delete(c.byID, c.order[0])
		c.order = c.order[1:]
	}
}

// Location returns the download location for a document id.
func (c *DocumentCache) Location(id string) (*tg.InputDocumentFileLocation, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	location, ok := c.byID[id]
	if !ok {
		return nil, false
	}

	return &tg.InputDocumentFileLocation{
		ID:            location.id,
		AccessHash:    location.accessHash,
		FileReference: append([]byte(nil), location.fileReference...),
	}, true
}

type fileFetcher interface {
	Fetch(ctx context.Context, location tg.InputFileLocationClass, output io.Writer) error
}

type gotdFileFetcher struct {
	api        *tg.Client
	downloader *downloader.Downloader
}

func (f gotdFileFetcher) Fetch(ctx context.Context, location tg.InputFileLocationClass, output io.Writer) error {
	if _, err := f.downloader.Download(f.api, location).Stream(ctx, output); err != nil {
		return fmt.Errorf("stream file: %w", err)
	}

	return nil
}

// MediaDownloaderOption mutates MediaDownloader configuration.
type MediaDownloaderOption func(*MediaDownloader)

// WithMaxDownloadBytes bounds the size of a single download.
func WithMaxDownloadBytes(limit int64) MediaDownloaderOption {
	return func(d *MediaDownloader) {
		if limit > 0 {
			d.maxBytes = limit
		}
	}
}

// WithDownloadTimeout bounds the duration of a single download.
func WithDownloadTimeout(timeout time.Duration) MediaDownloaderOption {
	return func(d *MediaDownloader) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// MediaDownloader fetches document bytes for attachments seen by the mapper.
type MediaDownloader struct {
	documents *DocumentCache
	files     fileFetcher
	maxBytes  int64
	timeout   time.Duration
}

// NewMediaDownloader creates a downloader backed by the gotd client.
func NewMediaDownloader(
	client *gotdtelegram.Client,
	documents *DocumentCache,
	options ...MediaDownloaderOption,
) (*MediaDownloader, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram media downloader: nil client")
	}

	return newMediaDownloader(gotdFileFetcher{api: client.API(), downloader: downloader.NewDownloader()}, documents, options...)
}

func newMediaDownloader(
	files fileFetcher,
	documents *DocumentCache,
	options ...MediaDownloaderOption,
) (*MediaDownloader, error) {
	if files == nil {
		return nil, fmt.Errorf("new telegram media downloader: nil fetcher")
	}
	if documents == nil {
		return nil, fmt.Errorf("new telegram media downloader: nil document cache")
	}

	d := &MediaDownloader{
		documents: documents,
		files:     files,
		maxBytes:  DefaultMaxDownloadBytes,
		timeout:   defaultDownloadTimeout,
	}
	for _, option := range options {
		option(d)
	}

	return d, nil
}

// DownloadMedia downloads one document attachment into memory.
func (d *MediaDownloader) DownloadMedia(ctx context.Context, request memoria.MediaDownloadRequest) ([]byte, error) {
	if request.Platform != "" && request.Platform != DriverPlatform {
		return nil, fmt.Errorf("%w: platform %s", memoria.ErrMediaUnavailable, request.Platform)
	}
	if request.Media.SizeBytes > d.maxBytes {
		return nil, fmt.Errorf("%w: media %s is %d bytes, limit %d",
			memoria.ErrMediaUnavailable, request.Media.ID, request.Media.SizeBytes, d.maxBytes)
	}

	location, ok := d.documents.Location(request.Media.ID)
	if !ok {
		return nil, fmt.Errorf("%w: media %s location unknown", memoria.ErrMediaUnavailable, request.Media.ID)
	}

	downloadCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var buffer bytes.Buffer
	if request.Media.SizeBytes > 0 {
		buffer.Grow(int(request.Media.SizeBytes))
	}
	if err := d.files.Fetch(downloadCtx, location, &limitedWriter{w: &buffer, remaining: d.maxBytes}); err != nil {
		return nil, mapTelegramError("download media "+request.Media.ID, err)
	}

	return buffer.Bytes(), nil
}

type limitedWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		return 0, fmt.Errorf("%w: download exceeds size limit", memoria.ErrMediaUnavailable)
	}
	l.remaining -= int64(len(p))

	return l.w.Write(p)
}

var _ memoria.MediaDownloader = (*MediaDownloader)(nil)
