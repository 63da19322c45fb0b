package handlers

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/medialib/core/logger"
	"github.com/dmitrymomot/medialib/core/queue"
	"github.com/dmitrymomot/medialib/media"
)

// ScanPayload is the item payload for scan tasks.
type ScanPayload struct {
	Path      string `json:"path"`
	MediaType string `json:"media_type"`
}

// NewScanHandler imports media files found under a library path.
func NewScanHandler(deps Deps) queue.Handler {
	return queue.NewHandler(queue.TypeScan, func(ctx context.Context, _ *queue.Task, p ScanPayload) queue.Outcome {
		if deps.Scanner == nil {
			return queue.Failed("scanner unavailable", nil)
		}
		if p.Path == "" {
			return queue.Failed("missing path", nil)
		}

		mediaType := media.MediaType(p.MediaType)
		if mediaType != media.MediaTypeMovie && mediaType != media.MediaTypeTV {
			return queue.Failed(fmt.Sprintf("invalid media_type %q", p.MediaType), nil)
		}

		found, err := deps.Scanner.Scan(ctx, p.Path, mediaType)
		if err != nil {
			return queue.Failed(fmt.Sprintf("scan %s: %v", p.Path, err), nil)
		}

		deps.log().InfoContext(ctx, "scan finished",
			logger.Path(p.Path), logger.Count("found", len(found)))
		return queue.Completed(map[string]int{"found": len(found)})
	})
}
