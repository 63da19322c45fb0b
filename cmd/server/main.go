// Command server runs the media library service: the HTTP API, the queue
// worker, and the operator-log recorder over a single SQLite database.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/medialib/api"
	"github.com/dmitrymomot/medialib/core/config"
	"github.com/dmitrymomot/medialib/core/logger"
	"github.com/dmitrymomot/medialib/core/logs"
	"github.com/dmitrymomot/medialib/core/queue"
	"github.com/dmitrymomot/medialib/core/server"
	"github.com/dmitrymomot/medialib/integration/omdb"
	"github.com/dmitrymomot/medialib/integration/plex"
	"github.com/dmitrymomot/medialib/integration/tautulli"
	"github.com/dmitrymomot/medialib/integration/tmdb"
	"github.com/dmitrymomot/medialib/media"
	"github.com/dmitrymomot/medialib/media/handlers"
	"github.com/dmitrymomot/medialib/middleware"
	"github.com/dmitrymomot/medialib/storage/sqlite"
)

type appConfig struct {
	Logger   logger.Config
	DB       sqlite.Config
	Queue    queue.Config
	HTTP     api.Config
	Server   server.Config
	CORS     middleware.CORSConfig
	TMDB     tmdb.Config
	OMDB     omdb.Config
	Plex     plex.Config
	Tautulli tautulli.Config
}

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log := logger.New(cfg.Logger)

	db, err := sqlite.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // process is exiting

	if err := sqlite.NewMigrator(db, log.With(logger.Component("migrator"))).Run(ctx); err != nil {
		return err
	}

	store := sqlite.NewStore(db)
	library := sqlite.NewLibrary(db)
	settings := sqlite.NewSettings(db)

	recorder := logs.NewRecorder(sqlite.NewLogStore(db),
		logs.WithLogger(log.With(logger.Component("oplog"))))

	bus := queue.NewEventBus(log.With(logger.Component("bus")))

	reg := queue.NewRegistry()
	handlers.Register(reg, handlers.Deps{
		Library:  library,
		Metadata: newMetadata(ctx, settings, cfg.TMDB, log),
		Ratings:  newRatings(ctx, settings, cfg.OMDB),
		Resolver: newResolver(ctx, settings, cfg.Plex, log),
		History:  newHistory(ctx, settings, cfg.Tautulli, log),
		OpLog:    recorder,
		Log:      log.With(logger.Component("handlers")),
	})

	svc, err := queue.NewService(store, bus, reg,
		queue.WithServiceLogger(log.With(logger.Component("queue"))))
	if err != nil {
		return err
	}

	worker, err := queue.NewWorkerFromConfig(cfg.Queue, store, bus, reg,
		queue.WithWorkerLogger(log.With(logger.Component("worker"))),
		queue.WithOpLog(recorder))
	if err != nil {
		return err
	}

	apiSrv, err := api.NewFromConfig(cfg.HTTP, svc, worker,
		api.WithLibrary(library),
		api.WithLogger(log.With(logger.Component("api"))),
		api.WithWorkerContext(ctx),
		api.WithHealthcheck(sqlite.Healthcheck(db)))
	if err != nil {
		return err
	}

	handler := middleware.Chain(apiSrv.Handler(),
		middleware.RequestID(),
		middleware.LoggingWithConfig(log.With(logger.Component("http")), middleware.LoggingConfig{
			Skip: func(r *http.Request) bool { return r.URL.Path == "/health" },
		}),
		middleware.CORS(cfg.CORS))

	httpSrv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(gctx))
	g.Go(recorder.Run(gctx))
	g.Go(httpSrv.Run(gctx, handler))
	return g.Wait()
}

// Provider keys resolve settings-first so UI edits win over the
// environment. An unconfigured provider leaves its port nil; handlers
// degrade per item instead of failing startup.

func newMetadata(ctx context.Context, settings *sqlite.Settings, cfg tmdb.Config, log *slog.Logger) media.MetadataProvider {
	if key := settings.Resolve(ctx, "tmdb_api_key", "TMDB_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	client, err := tmdb.New(cfg)
	if err != nil {
		log.Warn("metadata provider disabled", logger.Error(err))
		return nil
	}
	return client
}

func newRatings(ctx context.Context, settings *sqlite.Settings, cfg omdb.Config) media.RatingsProvider {
	if key := settings.Resolve(ctx, "omdb_api_key", "OMDB_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	// A keyless OMDb client is valid; it reports Configured()==false.
	return omdb.New(cfg)
}

func newResolver(ctx context.Context, settings *sqlite.Settings, cfg plex.Config, log *slog.Logger) media.RatingKeyResolver {
	if url := settings.Resolve(ctx, "plex_url", "PLEX_URL"); url != "" {
		cfg.URL = url
	}
	if token := settings.Resolve(ctx, "plex_token", "PLEX_TOKEN"); token != "" {
		cfg.Token = token
	}
	client, err := plex.New(cfg)
	if err != nil {
		log.Warn("rating key resolver disabled", logger.Error(err))
		return nil
	}
	return client
}

func newHistory(ctx context.Context, settings *sqlite.Settings, cfg tautulli.Config, log *slog.Logger) media.WatchHistoryProvider {
	if url := settings.Resolve(ctx, "tautulli_url", "TAUTULLI_URL"); url != "" {
		cfg.URL = url
	}
	if key := settings.Resolve(ctx, "tautulli_api_key", "TAUTULLI_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	client, err := tautulli.New(cfg)
	if err != nil {
		log.Warn("watch history provider disabled", logger.Error(err))
		return nil
	}
	return client
}
