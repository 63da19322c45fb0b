package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrymomot/medialib/core/logs"
	"github.com/dmitrymomot/medialib/core/queue"
	"github.com/dmitrymomot/medialib/media"
)

// AnalyzePayload is the item payload for analyze tasks. Exactly one of the
// ids is expected.
type AnalyzePayload struct {
	MovieID   *int64 `json:"movie_id,omitempty"`
	EpisodeID *int64 `json:"episode_id,omitempty"`
}

// NewAnalyzeHandler probes a media file and writes the technical fields
// back to the owning entity.
func NewAnalyzeHandler(deps Deps) queue.Handler {
	return queue.NewHandler(queue.TypeAnalyze, func(ctx context.Context, _ *queue.Task, p AnalyzePayload) queue.Outcome {
		if deps.Library == nil || deps.Probe == nil {
			return queue.Failed("media probe unavailable", nil)
		}

		switch {
		case p.MovieID != nil:
			return analyzeMovie(ctx, deps, *p.MovieID)
		case p.EpisodeID != nil:
			return analyzeEpisode(ctx, deps, *p.EpisodeID)
		default:
			return queue.Failed("payload must reference movie_id or episode_id", nil)
		}
	})
}

func analyzeMovie(ctx context.Context, deps Deps, movieID int64) queue.Outcome {
	movie, err := deps.Library.GetMovie(ctx, movieID)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return queue.Failed(fmt.Sprintf("movie %d not found", movieID), nil)
		}
		return queue.Failed(fmt.Sprintf("load movie %d: %v", movieID, err), nil)
	}
	if movie.FilePath == "" {
		return queue.Failed("missing file_path", nil)
	}

	info, probeErr := deps.Probe.Probe(ctx, movie.FilePath)
	if probeErr != nil {
		deps.record(logs.Warning(opLogName,
			fmt.Sprintf("media probe failed for movie %d (%s)", movieID, movie.FilePath), probeErr))
		if err := deps.Library.UpdateMovie(ctx, movieID, media.MovieUpdate{
			MediaInfoFailed: media.Ptr(true),
		}); err != nil {
			return queue.Failed(fmt.Sprintf("record probe failure: %v", err), nil)
		}
		return queue.Failed(probeErr.Error(), nil)
	}

	upd := movieInfoUpdate(info)
	if err := deps.Library.UpdateMovie(ctx, movieID, upd); err != nil {
		return queue.Failed(fmt.Sprintf("persist media info: %v", err), nil)
	}
	return queue.Completed(map[string]bool{"found": true})
}

func analyzeEpisode(ctx context.Context, deps Deps, episodeID int64) queue.Outcome {
	episode, err := deps.Library.GetEpisode(ctx, episodeID)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return queue.Failed(fmt.Sprintf("episode %d not found", episodeID), nil)
		}
		return queue.Failed(fmt.Sprintf("load episode %d: %v", episodeID, err), nil)
	}
	if episode.FilePath == "" {
		return queue.Failed("missing file_path", nil)
	}

	info, probeErr := deps.Probe.Probe(ctx, episode.FilePath)
	if probeErr != nil {
		deps.record(logs.Warning(opLogName,
			fmt.Sprintf("media probe failed for episode %d (%s)", episodeID, episode.FilePath), probeErr))
		if err := deps.Library.UpdateEpisode(ctx, episodeID, media.EpisodeUpdate{
			MediaInfoFailed: media.Ptr(true),
		}); err != nil {
			return queue.Failed(fmt.Sprintf("record probe failure: %v", err), nil)
		}
		return queue.Failed(probeErr.Error(), nil)
	}

	upd := episodeInfoUpdate(info)
	if err := deps.Library.UpdateEpisode(ctx, episodeID, upd); err != nil {
		return queue.Failed(fmt.Sprintf("persist media info: %v", err), nil)
	}
	return queue.Completed(map[string]bool{"found": true})
}

func movieInfoUpdate(info *media.MediaInfo) media.MovieUpdate {
	upd := media.MovieUpdate{
		MediaInfoScanned: media.Ptr(true),
		MediaInfoFailed:  media.Ptr(false),
	}
	applyInfo(info,
		&upd.VideoCodec, &upd.Resolution, &upd.Width, &upd.Height,
		&upd.AudioCodec, &upd.AudioChannels, &upd.AudioLanguages,
		&upd.SubtitleLanguages, &upd.Container)
	return upd
}

func episodeInfoUpdate(info *media.MediaInfo) media.EpisodeUpdate {
	upd := media.EpisodeUpdate{
		MediaInfoScanned: media.Ptr(true),
		MediaInfoFailed:  media.Ptr(false),
	}
	applyInfo(info,
		&upd.VideoCodec, &upd.Resolution, &upd.Width, &upd.Height,
		&upd.AudioCodec, &upd.AudioChannels, &upd.AudioLanguages,
		&upd.SubtitleLanguages, &upd.Container)
	return upd
}

// applyInfo copies the probe output into an update's technical fields.
// Empty values are skipped so a partial probe does not blank columns.
func applyInfo(info *media.MediaInfo,
	videoCodec, resolution **string, width, height **int,
	audioCodec **string, audioChannels **int,
	audioLangs, subLangs, container **string,
) {
	if info.VideoCodec != "" {
		*videoCodec = media.Ptr(info.VideoCodec)
	}
	if info.Resolution != "" {
		*resolution = media.Ptr(info.Resolution)
	}
	if info.Width > 0 {
		*width = media.Ptr(info.Width)
	}
	if info.Height > 0 {
		*height = media.Ptr(info.Height)
	}
	if info.AudioCodec != "" {
		*audioCodec = media.Ptr(info.AudioCodec)
	}
	if info.AudioChannels > 0 {
		*audioChannels = media.Ptr(info.AudioChannels)
	}
	if len(info.AudioLanguages) > 0 {
		*audioLangs = media.Ptr(strings.Join(info.AudioLanguages, ","))
	}
	if len(info.SubtitleLanguages) > 0 {
		*subLangs = media.Ptr(strings.Join(info.SubtitleLanguages, ","))
	}
	if info.Container != "" {
		*container = media.Ptr(info.Container)
	}
}
