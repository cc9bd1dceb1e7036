package telegram

import (
	"context"
	"errors"
	"io"
	"testing"

	"memoria/pkg/memoria"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

func TestDocumentCacheEvictsOldest(t *testing.T) {
	t.Parallel()

	cache := NewDocumentCache(2)
	for id := int64(1); id <= 3; id++ {
		cache.Remember(&tg.Document{ID: id, AccessHash: id * 10})
	}

	if _, ok := cache.Location("1"); ok {
		t.Fatal("oldest document should be evicted")
	}
	location, ok := cache.Location("3")
	if !ok || location.AccessHash != 30 {
		t.Fatalf("location = %+v, %v, want access hash 30", location, ok)
	}
}

func TestMediaDownloaderDownloadMedia(t *testing.T) {
	t.Parallel()

	documents := NewDocumentCache(4)
	documents.Remember(&tg.Document{ID: 99, AccessHash: 5, FileReference: []byte{1}})

	tests := []struct {
		name     string
		request  memoria.MediaDownloadRequest
		fetchErr error
		wantData string
		wantErr  error
	}{
		{
			name: "downloads remembered document",
			request: memoria.MediaDownloadRequest{
				Platform: memoria.PlatformTelegram,
				Media:    memoria.MediaAttachment{ID: "99", SizeBytes: 4},
			},
			wantData: "OggS",
		},
		{
			name:    "unknown document",
			request: memoria.MediaDownloadRequest{Media: memoria.MediaAttachment{ID: "1"}},
			wantErr: memoria.ErrMediaUnavailable,
		},
		{
			name:    "declared size over limit",
			request: memoria.MediaDownloadRequest{Media: memoria.MediaAttachment{ID: "99", SizeBytes: 1 << 30}},
			wantErr: memoria.ErrMediaUnavailable,
		},
		{
			name:     "expired reference",
			request:  memoria.MediaDownloadRequest{Media: memoria.MediaAttachment{ID: "99"}},
			fetchErr: tgerr.New(400, rpcErrorFileReferenceExpired),
			wantErr:  memoria.ErrMediaUnavailable,
		},
		{
			name:    "foreign platform",
			request: memoria.MediaDownloadRequest{Platform: "discord", Media: memoria.MediaAttachment{ID: "99"}},
			wantErr: memoria.ErrMediaUnavailable,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fetcher := &fileFetcherStub{data: []byte("OggS"), err: testCase.fetchErr}
			downloader, err := newMediaDownloader(fetcher, documents)
			if err != nil {
				t.Fatalf("new media downloader failed: %v", err)
			}

			data, err := downloader.DownloadMedia(context.Background(), testCase.request)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("error = %v, want %v", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("download failed: %v", err)
			}
			if string(data) != testCase.wantData {
				t.Fatalf("data = %q, want %q", data, testCase.wantData)
			}
		})
	}
}

func TestMediaDownloaderStopsOversizedStream(t *testing.T) {
	t.Parallel()

	documents := NewDocumentCache(1)
	documents.Remember(&tg.Document{ID: 1})
	downloader, err := newMediaDownloader(&fileFetcherStub{data: make([]byte, 16)}, documents, WithMaxDownloadBytes(8))
	if err != nil {
		t.Fatalf("new media downloader failed: %v", err)
	}

	_, err = downloader.DownloadMedia(context.Background(), memoria.MediaDownloadRequest{Media: memoria.MediaAttachment{ID: "1"}})
	if !errors.Is(err, memoria.ErrMediaUnavailable) {
		t.Fatalf("error = %v, want ErrMediaUnavailable", err)
	}
}

type fileFetcherStub struct {
	data []byte
	err  error
}

func (s *fileFetcherStub) Fetch(_ context.Context, location tg.InputFileLocationClass, output io.Writer) error {
	if _, ok := location.(*tg.InputDocumentFileLocation); !ok {
		return errors.New("unexpected location type")
	}
	if s.err != nil {
		return s.err
	}
	_, err := output.Write(s.data)

	return err
}
