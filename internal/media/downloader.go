package media

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"

	"chanwatch-bot/internal/database/models"
	"chanwatch-bot/pkg/retry"
	"chanwatch-bot/pkg/telegoapi"
)

const (
	photosDir     = "photos"
	videosDir     = "videos"
	thumbnailsDir = "thumbnails"

	thumbSize   = 150
	jpegQuality = 85
)

// FetchFunc retrieves the bytes behind a download URL. Swapped out in
// tests.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Downloader pulls attachments through the Bot API file endpoint and
// stores them under the media root. Failures after the retry budget are
// reported as errors; callers treat them as "skip this item".
type Downloader struct {
	api    telegoapi.FileAPI
	fetch  FetchFunc
	root   string
	policy retry.Policy
}

// NewDownloader creates the downloader and its directory tree.
func NewDownloader(api telegoapi.FileAPI, root string, policy retry.Policy) (*Downloader, error) {
	for _, dir := range []string{photosDir, videosDir, thumbnailsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create media directory %s: %w", dir, err)
		}
	}
	return &Downloader{
		api:    api,
		fetch:  fetchHTTP,
		root:   root,
		policy: policy,
	}, nil
}

// WithFetch overrides the URL fetcher. Used by tests.
func (d *Downloader) WithFetch(fetch FetchFunc) *Downloader {
	d.fetch = fetch
	return d
}

// Download fetches the attachment behind ref and writes it to disk. The
// suffix distinguishes album members sharing a post ID ("" for single
// posts, "_group_N" for group items). A thumbnail is always produced for
// the returned item.
func (d *Downloader) Download(ctx context.Context, ref Ref, postID uint, suffix string) (*models.MediaItem, error) {
	data, err := d.fetchFile(ctx, ref.FileID)
	if err != nil {
		log.Printf("[Downloader Post:%d] Giving up on %s %s: %v", postID, ref.Kind, ref.FileUniqueID, err)
		sentry.CaptureException(err)
		return nil, err
	}

	base := fmt.Sprintf("%s_%d_%s%s%s", ref.Kind, postID, ref.FileUniqueID, suffix, ref.ext())
	subdir := photosDir
	if ref.Kind == models.MediaTypeVideo {
		subdir = videosDir
	}
	dest := filepath.Join(d.root, subdir, base)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write media file %s: %w", dest, err)
	}

	item := &models.MediaItem{
		Type:     ref.Kind,
		Path:     dest,
		Width:    ref.Width,
		Height:   ref.Height,
		Duration: ref.Duration,
		FileSize: int64(len(data)),
	}

	thumbName := fmt.Sprintf("thumb_%d_%s%s.jpg", postID, ref.FileUniqueID, suffix)
	thumbPath := filepath.Join(d.root, thumbnailsDir, thumbName)
	if err := d.writeThumbnail(ctx, ref, data, thumbPath, item); err != nil {
		// A missing thumbnail never fails the download.
		log.Printf("[Downloader Post:%d] Thumbnail for %s failed, using placeholder: %v", postID, ref.FileUniqueID, err)
		if err := writePlaceholder(thumbPath); err != nil {
			log.Printf("[Downloader Post:%d] Placeholder write failed: %v", postID, err)
			return item, nil
		}
	}
	item.ThumbnailPath = thumbPath

	log.Printf("[Downloader Post:%d] Stored %s %s (%d bytes)", postID, ref.Kind, base, len(data))
	return item, nil
}

// fetchFile resolves the file path via GetFile and downloads the bytes,
// both under the shared retry policy.
func (d *Downloader) fetchFile(ctx context.Context, fileID string) ([]byte, error) {
	var data []byte
	err := d.policy.Do(ctx, "download file", func(ctx context.Context) error {
		file, err := d.api.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err != nil {
			return err
		}
		data, err = d.fetch(ctx, d.api.FileDownloadURL(file.FilePath))
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (d *Downloader) writeThumbnail(ctx context.Context, ref Ref, data []byte, thumbPath string, item *models.MediaItem) error {
	switch ref.Kind {
	case models.MediaTypePhoto:
		img, err := imaging.Open(item.Path)
		if err != nil {
			return fmt.Errorf("failed to decode photo: %w", err)
		}
		bounds := img.Bounds()
		item.Width = bounds.Dx()
		item.Height = bounds.Dy()
		return saveThumb(img, thumbPath)

	case models.MediaTypeVideo:
		if ref.ThumbFileID == "" {
			return fmt.Errorf("video has no embedded thumbnail")
		}
		thumbData, err := d.fetchFile(ctx, ref.ThumbFileID)
		if err != nil {
			return fmt.Errorf("failed to download video thumbnail: %w", err)
		}
		tmp := thumbPath + ".src"
		if err := os.WriteFile(tmp, thumbData, 0o644); err != nil {
			return err
		}
		defer os.Remove(tmp)
		img, err := imaging.Open(tmp)
		if err != nil {
			return fmt.Errorf("failed to decode video thumbnail: %w", err)
		}
		return saveThumb(img, thumbPath)

	default:
		return fmt.Errorf("unsupported media type %s", ref.Kind)
	}
}

func saveThumb(img image.Image, thumbPath string) error {
	thumb := imaging.Fit(img, thumbSize, thumbSize, imaging.Lanczos)
	return imaging.Save(thumb, thumbPath, imaging.JPEGQuality(jpegQuality))
}

// writePlaceholder produces a flat gray square so every stored item has
// a thumbnail the review UI can rely on.
func writePlaceholder(thumbPath string) error {
	placeholder := imaging.New(thumbSize, thumbSize, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	return imaging.Save(placeholder, thumbPath, imaging.JPEGQuality(jpegQuality))
}

func fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
