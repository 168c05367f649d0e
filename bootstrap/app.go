package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"warden/api"
	"warden/config"
	"warden/core"
	"warden/detect"
	"warden/ingest"
	"warden/llm"
	"warden/storage"
	"warden/triage"
	"warden/util"
	"warden/util/goroutine"

	"go.uber.org/zap"
)

// App holds the components shared by every command
type App struct {
	Config    *config.Config
	Sugar     *zap.SugaredLogger
	Store     *storage.SQLite
	Publisher *storage.RedisPublisher
	Loader    *ingest.Loader

	apiServer *api.API
	serviceWg sync.WaitGroup
	closeOnce sync.Once
}

// NewApp opens the optional run store and finding publisher
func NewApp(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app requires a config")
	}
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	a := &App{
		Config: cfg,
		Sugar:  sugar,
		Loader: ingest.NewLoader(sugar),
	}

	if cfg.Storage.Enabled {
		store, err := storage.NewSQLite(cfg.Storage.SQLitePath, sugar)
		if err != nil {
			sugar.Error(ClassifySQLiteError(err, cfg.Storage.SQLitePath))
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
		a.Store = store
	}

	if cfg.Redis.Enabled {
		pub := storage.NewRedisPublisher(storage.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		}, sugar)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pub.Ping(pingCtx)
		cancel()
		if err != nil {
			sugar.Error(util.SanitizeString(ClassifyConnectionError(err, cfg.Redis.Addr)))
			_ = pub.Close()
			a.Shutdown()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Publisher = pub
	}

	return a, nil
}

// Sink returns the finding sink, or nil when fan-out is disabled
func (a *App) Sink() detect.FindingSink {
	if a.Publisher == nil {
		return nil
	}
	return a.Publisher
}

// Runs returns the run reader, or nil when history is disabled
func (a *App) Runs() api.RunReader {
	if a.Store == nil {
		return nil
	}
	return a.Store
}

// Detect streams the events in path through a Detector and returns every
// finding in emission order. Records are evaluated in file order; anything
// out of order for its key is counted as skipped.
func (a *App) Detect(ctx context.Context, path string, format ingest.Format) ([]core.Finding, *detect.Engine, ingest.Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, ingest.Stats{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if format == "" || format == ingest.FormatAuto {
		format = ingest.DetectFormat(path)
	}

	engine, err := detect.NewEngine(a.Config.Detection, a.Sugar)
	if err != nil {
		return nil, nil, ingest.Stats{}, err
	}

	eventCh := make(chan *core.Event, 256)
	findingCh := make(chan core.Finding, 64)
	detector, err := detect.NewDetector(engine, eventCh, findingCh, a.Sink(), a.Sugar)
	if err != nil {
		return nil, nil, ingest.Stats{}, err
	}
	detector.Start()

	var findings []core.Finding
	var collect sync.WaitGroup
	goroutine.Go(&collect, "finding-collector", a.Sugar, func() {
		for finding := range findingCh {
			findings = append(findings, finding)
		}
	})

	stats, streamErr := a.Loader.Stream(ctx, f, format, eventCh)
	if streamErr != nil {
		detector.Stop()
	}
	detector.Wait()
	collect.Wait()

	if streamErr != nil {
		return findings, engine, stats, fmt.Errorf("failed to read %s: %w", path, streamErr)
	}
	a.Sugar.Infow("Detection finished", "events", detector.Processed(), "findings", len(findings), "rejected", stats.Rejected)
	return findings, engine, stats, nil
}

// Triage loads path, runs the full pipeline with gen behind the configured
// guards, then persists and publishes the result. Partial reports are stored too.
func (a *App) Triage(ctx context.Context, path string, format ingest.Format, gen llm.Generator) (*triage.Report, error) {
	events, stats, err := a.Loader.LoadFile(path, format)
	if err != nil {
		return nil, err
	}
	if stats.Rejected > 0 {
		a.Sugar.Warnw("Some input lines could not be parsed", "rejected", stats.Rejected, "path", path)
	}

	guarded, err := llm.NewGuarded(gen, a.Config.Generation, a.Sugar)
	if err != nil {
		return nil, err
	}
	pipeline, err := triage.NewPipeline(a.Config.Detection, guarded, triage.Options{
		DataFile:   a.Config.Grounding.DataFile,
		MaxSignals: a.Config.Grounding.MaxSignals,
	}, a.Sugar)
	if err != nil {
		return nil, err
	}

	report, runErr := pipeline.Run(ctx, events)
	if report == nil {
		return nil, runErr
	}
	report.Source = path
	a.record(ctx, report)
	return report, runErr
}

// record persists a report and fans out its findings; failures are logged only
func (a *App) record(ctx context.Context, report *triage.Report) {
	if a.Store != nil {
		if err := a.Store.SaveRun(ctx, report); err != nil {
			a.Sugar.Errorw("Failed to save run", "run_id", report.RunID, "error", err)
		}
	}
	if sink := a.Sink(); sink != nil && len(report.Findings) > 0 {
		if err := sink.Publish(ctx, report.Findings); err != nil {
			a.Sugar.Warnw("Failed to publish findings", "run_id", report.RunID, "error", err)
		}
	}
}

// Serve runs the HTTP API until ctx is cancelled
func (a *App) Serve(ctx context.Context) error {
	a.apiServer = api.NewAPI(a.Config, a.Runs(), a.Sink(), a.Sugar)

	errCh := make(chan error, 1)
	goroutine.Go(&a.serviceWg, "api-server", a.Sugar, func() {
		if err := a.apiServer.Start(a.Config.APIAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		a.Sugar.Errorw("API server failed", "error", serveErr)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.apiServer.Stop(stopCtx); err != nil {
		a.Sugar.Errorw("Failed to stop API server", "error", err)
	}
	a.serviceWg.Wait()
	return serveErr
}

// Shutdown closes storage connections. Safe to call more than once.
func (a *App) Shutdown() {
	a.closeOnce.Do(func() {
		if a.Publisher != nil {
			if err := a.Publisher.Close(); err != nil {
				a.Sugar.Warnw("Failed to close redis", "error", err)
			}
		}
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				a.Sugar.Warnw("Failed to close run store", "error", err)
			}
		}
		_ = a.Sugar.Sync()
	})
}
