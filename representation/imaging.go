package representation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ruteri/attachment-store/interfaces"
)

// ImagingHandler resizes images in-process. It accepts the same options as
// ThumbnailHandler and keeps the aspect ratio.
type ImagingHandler struct {
	log *slog.Logger
}

func NewImagingHandler(log *slog.Logger) *ImagingHandler {
	return &ImagingHandler{log: log}
}

// CreateRepresentation implements interfaces.RepresentationHandler.
func (h *ImagingHandler) CreateRepresentation(ctx context.Context, att *interfaces.Attachment, backend interfaces.StorageBackend, rtype, ext string, opts interfaces.RepresentationOptions) (*os.File, error) {
	width, ok := parseWidth(opts)
	if !ok {
		return nil, nil
	}

	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		h.log.Debug("Unsupported representation format",
			slog.Int64("attachmentID", att.ID),
			slog.String("extension", ext))
		return nil, nil
	}

	key, err := att.StorageKey()
	if err != nil {
		return nil, err
	}

	src, err := backend.FetchLocalCopy(ctx, key)
	if err != nil {
		h.log.Warn("Failed to fetch original for resize",
			slog.Int64("attachmentID", att.ID),
			slog.String("backend", backend.Name()),
			"err", err)
		return nil, nil
	}
	defer interfaces.ReleaseLocalCopy(src)

	start := time.Now()
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		h.log.Warn("Failed to decode image",
			slog.Int64("attachmentID", att.ID),
			"err", err)
		return nil, nil
	}

	resized := imaging.Resize(img, width, 0, imaging.Lanczos)

	dst, err := os.CreateTemp("", "repr-*."+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create representation file: %w", err)
	}
	if err := imaging.Encode(dst, resized, format); err != nil {
		interfaces.ReleaseLocalCopy(dst)
		h.log.Warn("Failed to encode image",
			slog.Int64("attachmentID", att.ID),
			"err", err)
		return nil, nil
	}
	if _, err := dst.Seek(0, 0); err != nil {
		interfaces.ReleaseLocalCopy(dst)
		return nil, fmt.Errorf("failed to rewind representation file: %w", err)
	}

	h.log.Debug("Created resized image",
		slog.Int64("attachmentID", att.ID),
		slog.String("type", rtype),
		slog.Int("width", width),
		slog.Duration("duration", time.Since(start)))
	return dst, nil
}
