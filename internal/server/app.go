// Package server builds the crawler's dependencies from configuration and
// runs them, either as an HTTP service or as a single foreground crawl.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/api"
	"github.com/JakeFAU/frontier-crawler/internal/auth"
	"github.com/JakeFAU/frontier-crawler/internal/clock/system"
	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/dispatcher"
	"github.com/JakeFAU/frontier-crawler/internal/fetch"
	"github.com/JakeFAU/frontier-crawler/internal/frontier"
	"github.com/JakeFAU/frontier-crawler/internal/handler"
	"github.com/JakeFAU/frontier-crawler/internal/hash/sha256"
	"github.com/JakeFAU/frontier-crawler/internal/id/uuid"
	"github.com/JakeFAU/frontier-crawler/internal/metrics"
	"github.com/JakeFAU/frontier-crawler/internal/politeness"
	memorypublisher "github.com/JakeFAU/frontier-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/frontier-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/frontier-crawler/internal/robots"
	"github.com/JakeFAU/frontier-crawler/internal/router"
	"github.com/JakeFAU/frontier-crawler/internal/scope"
	"github.com/JakeFAU/frontier-crawler/internal/session"
	gcsstorage "github.com/JakeFAU/frontier-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/frontier-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/frontier-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/frontier-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/frontier-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/frontier-crawler/internal/transport"
	collytransport "github.com/JakeFAU/frontier-crawler/internal/transport/colly"
	filetransport "github.com/JakeFAU/frontier-crawler/internal/transport/file"
	"github.com/JakeFAU/frontier-crawler/internal/transport/headless"
	"github.com/JakeFAU/frontier-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  crawler.Clock

	httpTransport crawler.Transport
	browser       *headless.Transport
	fetcher       *fetch.Executor
	pacer         *politeness.Limiter
	credentials   *auth.Resolver
	router        *router.Router
	handlers      *handler.Registry
	filter        *scope.Filter
	hasher        crawler.Hasher

	runner    *session.Runner
	apiServer *api.Server

	pool      *pgxpool.Pool
	sqlite    *sqlitestore.FrontierStore
	gcs       *gcsstorage.BlobStore
	publisher *gcppublisher.Publisher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		hasher: sha256.New(),
	}
	logger.Info("Building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("frontier_backend", cfg.Frontier.Backend),
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.String("pubsub_provider", cfg.PubSub.Provider),
		zap.Int("workers", cfg.Crawler.Workers),
	)

	if err := app.build(ctx); err != nil {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("Cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	sessions, frontierStore, err := a.setupStores(ctx)
	if err != nil {
		return err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if err := a.setupPipeline(blobs, publisher); err != nil {
		return err
	}

	a.runner, err = session.New(session.Deps{
		Sessions: sessions,
		Frontier: frontierStore,
		IDs:      uuid.New(),
		Clock:    a.clock,
		Workers:  a.workers,
	}, a.cfg.FrontierConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("session runner init failed: %w", err)
	}
	a.apiServer = api.NewServer(a.runner, api.Options{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Ready:          a.ready,
	}, a.logger)
	return nil
}

func (a *App) setupStores(ctx context.Context) (session.Store, frontier.Store, error) {
	switch a.cfg.Frontier.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.Connect(ctx, a.cfg.PostgresConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres init failed: %w", err)
		}
		a.pool = pool
		if a.cfg.Database.Migrate {
			if err := pgstore.Migrate(ctx, pool); err != nil {
				return nil, nil, err
			}
		}
		fs, err := pgstore.NewFrontierStoreWithPool(pool)
		if err != nil {
			return nil, nil, err
		}
		ss, err := pgstore.NewSessionStoreWithPool(pool)
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info("Using Postgres frontier")
		return ss, fs, nil
	case config.BackendSQLite:
		fs, err := sqlitestore.Open(a.cfg.SQLite.Path, a.cfg.SQLiteOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite init failed: %w", err)
		}
		a.sqlite = fs
		a.logger.Info("Using SQLite frontier", zap.String("path", fs.Path()))
		return fs.Sessions(), fs, nil
	default:
		a.logger.Info("Using in-memory frontier")
		return memorystorage.NewSessionStore(), memorystorage.NewFrontierStore(), nil
	}
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case config.ProviderGCS:
		store, err := gcsstorage.Open(ctx, a.cfg.Storage.GCS, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("Using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return store, nil
	case config.ProviderLocal:
		store, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("Using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return store, nil
	case config.ProviderMemory:
		a.logger.Info("Using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Warn("Document storage disabled; fetched bodies are discarded")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.PubSub.Provider {
	case config.ProviderPubSub:
		p, err := gcppublisher.New(ctx, gcppublisher.Config{
			ProjectID:   a.cfg.PubSub.ProjectID,
			CheckTopics: a.cfg.PubSub.CheckTopics,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = p
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
		return p, nil
	case config.ProviderMemory:
		a.logger.Info("Using in-memory publisher")
		return memorypublisher.New(memorypublisher.DefaultRetention), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPipeline(blobs crawler.BlobStore, publisher crawler.Publisher) error {
	httpTransport := collytransport.New(a.cfg.HTTPTransportConfig())
	a.httpTransport = httpTransport
	var web crawler.Transport = httpTransport
	if a.cfg.Fetch.Headless.Enabled {
		browser, err := headless.New(a.cfg.HeadlessTransportConfig(), httpTransport)
		if err != nil {
			return fmt.Errorf("headless transport init failed: %w", err)
		}
		a.browser = browser
		web = browser
		a.logger.Info("Rendering pages with headless Chrome",
			zap.Int("max_parallel", a.cfg.Fetch.Headless.MaxParallel))
	}
	mux := transport.NewMux().
		Handle(web, "http", "https").
		Handle(filetransport.New(a.cfg.FileTransportConfig()), "file")
	a.fetcher = fetch.New(mux, a.cfg.FetchConfig(),
		fetch.WithClock(a.clock),
		fetch.WithListener(fetch.NewLogListener(a.logger), fetch.NewMetricsListener()),
	)
	a.pacer = politeness.New(a.cfg.PolitenessConfig())
	a.credentials = auth.NewResolver(a.cfg.AuthEntries()...)

	var err error
	if a.router, err = a.cfg.Router(); err != nil {
		return err
	}
	if a.filter, err = scope.New(a.cfg.ScopeConfig()); err != nil {
		return fmt.Errorf("scope init failed: %w", err)
	}

	var sink handler.Sink
	store := handler.Discard
	if blobs != nil {
		s := handler.NewStoreSink(blobs, publisher, a.hasher, a.clock, a.cfg.StoreConfig(), a.logger)
		sink = s
		store = handler.NewStore(s)
	}
	a.handlers = handler.NewRegistry().
		Register(handler.IDHTML, handler.NewHTML(sink, a.cfg.HTMLConfig(), a.logger)).
		Register(handler.IDSitemap, handler.NewSitemap(a.logger)).
		Register(handler.IDStore, store).
		Register(handler.IDDiscard, handler.Discard)
	a.logger.Info("Content pipeline ready",
		zap.Strings("handlers", a.handlers.IDs()),
		zap.Int("rules", len(a.router.Rules())),
		zap.Int("credentials", a.credentials.Len()),
	)
	return nil
}

// workers builds the pool of one session. Robots directives are cached per
// session, so a new session sees fresh robots.txt files.
func (a *App) workers(m *frontier.Manager) ([]dispatcher.Runner, error) {
	var policy worker.Policy
	if a.cfg.Robots.Respect {
		policy = robots.NewCache(a.httpTransport, a.cfg.Crawler.UserAgent, a.logger)
	}
	discovery := worker.NewDiscovery(m, a.filter, a.logger)
	runners := make([]dispatcher.Runner, 0, a.cfg.Crawler.Workers)
	for i := range a.cfg.Crawler.Workers {
		w, err := worker.New(worker.Deps{
			Frontier:    m,
			Discovery:   discovery,
			Policy:      policy,
			Pacer:       a.pacer,
			Credentials: a.credentials,
			Fetcher:     a.fetcher,
			Router:      a.router,
			Handlers:    a.handlers,
			Hasher:      a.hasher,
			Clock:       a.clock,
		}, a.cfg.WorkerConfig(m.SessionID()+"-"+strconv.Itoa(i)), a.logger)
		if err != nil {
			return nil, err
		}
		runners = append(runners, w)
	}
	return runners, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
	}
	return nil
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Crawl runs one session in the foreground until it is exhausted or ctx ends.
func (a *App) Crawl(ctx context.Context, req session.Request) (crawler.Session, error) {
	sess, err := a.runner.Run(ctx, req)
	if err != nil {
		return crawler.Session{}, fmt.Errorf("crawl: %w", err)
	}
	st, err := a.runner.Get(context.WithoutCancel(ctx), sess.ID)
	if err == nil {
		a.logger.Info("Crawl finished",
			zap.String("session_id", sess.ID),
			zap.String("status", string(sess.Status)),
			zap.Int("completed", st.Stats.Completed),
			zap.Int("not_modified", st.Stats.NotModified),
			zap.Int("abandoned", st.Stats.Abandoned),
			zap.Int("pending", st.Stats.Pending),
		)
	}
	return sess, nil
}

// Serve runs the HTTP API until ctx is canceled, then cancels running
// sessions and shuts down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	a.logger.Info("Shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := a.runner.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Session shutdown error", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close releases storage clients and database handles.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs: %w", err))
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("Logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
