// Package handlers implements the per-task-type item processors: directory
// scan, media analysis, metadata refresh, and watch-history sync. Each
// handler consumes the narrow capability ports from the media package and
// classifies every item as completed, no-op, or failed.
package handlers

import (
	"log/slog"

	"github.com/dmitrymomot/medialib/core/logger"
	"github.com/dmitrymomot/medialib/core/logs"
	"github.com/dmitrymomot/medialib/core/queue"
	"github.com/dmitrymomot/medialib/media"
)

// opLogName matches the worker's entry source so operators see one
// component in the persistent log view.
const opLogName = "QueueWorker"

// Deps bundles the capability ports the handlers consume. Unused ports may
// be nil; the corresponding handler then fails its items with a clear
// message instead of panicking.
type Deps struct {
	Library  media.Library
	Scanner  media.DirectoryScanner
	Probe    media.MediaProbe
	Metadata media.MetadataProvider
	Ratings  media.RatingsProvider
	Resolver media.RatingKeyResolver
	History  media.WatchHistoryProvider

	OpLog queue.OpLog
	Log   *slog.Logger
}

func (d *Deps) log() *slog.Logger {
	if d.Log == nil {
		return logger.Discard()
	}
	return d.Log
}

func (d *Deps) record(e logs.Entry) {
	if d.OpLog != nil {
		d.OpLog.Record(e)
	}
}

// Register wires all four built-in handlers into the registry.
func Register(reg *queue.Registry, deps Deps) {
	reg.Register(
		NewScanHandler(deps),
		NewAnalyzeHandler(deps),
		NewRefreshHandler(deps),
		NewWatchHistoryHandler(deps),
	)
}
