// Package media downloads post attachments from the Telegram Bot API
// into a local directory tree and generates thumbnails.
package media

import (
	"path"
	"strings"

	"github.com/mymmrac/telego"

	"chanwatch-bot/internal/database/models"
)

// Ref identifies one downloadable attachment of a message.
type Ref struct {
	Kind         models.MediaType
	FileID       string
	FileUniqueID string
	Width        int
	Height       int
	Duration     int
	MimeType     string
	FileName     string
	// ThumbFileID is the embedded video thumbnail, when Telegram sent one.
	ThumbFileID string
}

// RefFromMessage extracts the attachment of a message, or nil for
// text-only messages. For photos Telegram sends several sizes; the
// largest by pixel area is picked.
func RefFromMessage(msg telego.Message) *Ref {
	if len(msg.Photo) > 0 {
		best := msg.Photo[0]
		for _, size := range msg.Photo[1:] {
			if size.Width*size.Height > best.Width*best.Height {
				best = size
			}
		}
		return &Ref{
			Kind:         models.MediaTypePhoto,
			FileID:       best.FileID,
			FileUniqueID: best.FileUniqueID,
			Width:        best.Width,
			Height:       best.Height,
		}
	}

	if msg.Video != nil {
		ref := &Ref{
			Kind:         models.MediaTypeVideo,
			FileID:       msg.Video.FileID,
			FileUniqueID: msg.Video.FileUniqueID,
			Width:        msg.Video.Width,
			Height:       msg.Video.Height,
			Duration:     msg.Video.Duration,
			MimeType:     msg.Video.MimeType,
			FileName:     msg.Video.FileName,
		}
		if msg.Video.Thumbnail != nil {
			ref.ThumbFileID = msg.Video.Thumbnail.FileID
		}
		return ref
	}

	return nil
}

// ext picks the file extension for a video ref. Photos are always
// re-saved as JPEG.
func (r *Ref) ext() string {
	if r.Kind == models.MediaTypePhoto {
		return ".jpg"
	}
	if r.FileName != "" {
		if e := path.Ext(r.FileName); e != "" {
			return strings.ToLower(e)
		}
	}
	switch r.MimeType {
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	default:
		return ".mp4"
	}
}
