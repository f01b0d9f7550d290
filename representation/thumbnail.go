package representation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/ruteri/attachment-store/interfaces"
)

// WidthOption is the option key carrying the target width in pixels.
const WidthOption = "width"

// DefaultConvertTimeout bounds a single external resize.
const DefaultConvertTimeout = 30 * time.Second

// ThumbnailHandler resizes images with ImageMagick's convert tool:
//
//	convert {source} -resize {width}x {destination}
//
// The destination format follows the requested extension.
type ThumbnailHandler struct {
	command string
	timeout time.Duration
	log     *slog.Logger
}

// NewThumbnailHandler creates a handler that runs command, "convert" when empty.
func NewThumbnailHandler(command string, timeout time.Duration, log *slog.Logger) *ThumbnailHandler {
	if command == "" {
		command = "convert"
	}
	if timeout <= 0 {
		timeout = DefaultConvertTimeout
	}
	return &ThumbnailHandler{
		command: command,
		timeout: timeout,
		log:     log,
	}
}

// CreateRepresentation implements interfaces.RepresentationHandler.
func (h *ThumbnailHandler) CreateRepresentation(ctx context.Context, att *interfaces.Attachment, backend interfaces.StorageBackend, rtype, ext string, opts interfaces.RepresentationOptions) (*os.File, error) {
	width, ok := parseWidth(opts)
	if !ok {
		h.log.Debug("Thumbnail requested without a usable width",
			slog.Int64("attachmentID", att.ID),
			slog.String("width", opts[WidthOption]))
		return nil, nil
	}

	key, err := att.StorageKey()
	if err != nil {
		return nil, err
	}

	src, err := backend.FetchLocalCopy(ctx, key)
	if err != nil {
		h.log.Warn("Failed to fetch original for thumbnail",
			slog.Int64("attachmentID", att.ID),
			slog.String("backend", backend.Name()),
			"err", err)
		return nil, nil
	}
	defer interfaces.ReleaseLocalCopy(src)

	dst, err := os.CreateTemp("", "repr-*."+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create representation file: %w", err)
	}
	dstPath := dst.Name()
	dst.Close()

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, h.command, src.Name(), "-resize", fmt.Sprintf("%dx", width), dstPath)
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		h.log.Warn("convert output",
			slog.Int64("attachmentID", att.ID),
			slog.String("output", string(output)))
	}
	if err != nil {
		os.Remove(dstPath)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			h.log.Warn("convert timed out",
				slog.Int64("attachmentID", att.ID),
				slog.Duration("timeout", h.timeout))
			return nil, nil
		}
		h.log.Warn("convert failed",
			slog.Int64("attachmentID", att.ID),
			"err", err)
		return nil, nil
	}

	out, err := os.Open(dstPath)
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("failed to open representation file: %w", err)
	}

	h.log.Debug("Created thumbnail",
		slog.Int64("attachmentID", att.ID),
		slog.String("type", rtype),
		slog.Int("width", width),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

func parseWidth(opts interfaces.RepresentationOptions) (int, bool) {
	raw, ok := opts[WidthOption]
	if !ok {
		return 0, false
	}
	width, err := strconv.Atoi(raw)
	if err != nil || width <= 0 {
		return 0, false
	}
	return width, true
}
