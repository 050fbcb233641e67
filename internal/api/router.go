package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mnemoslab/mnemos/internal/api/handlers"
	mw "github.com/mnemoslab/mnemos/internal/api/middleware"
	"github.com/mnemoslab/mnemos/internal/buildconfig"
	"github.com/mnemoslab/mnemos/internal/config"
	"github.com/mnemoslab/mnemos/internal/domain"
	"github.com/mnemoslab/mnemos/internal/embedding"
	"github.com/mnemoslab/mnemos/internal/llm"
	"github.com/mnemoslab/mnemos/internal/service"
	"github.com/mnemoslab/mnemos/internal/store"
	"go.uber.org/zap"
)

const (
	discoveryWorkers = 4
	discoveryBuffer  = 256
)

// App holds the router and the background services so main can manage
// their lifecycle.
type App struct {
	Router       *chi.Mux
	Queue        *service.DiscoveryQueue
	Consolidator *service.Consolidator
	Decay        *service.DecayService

	startTime time.Time
}

// NewApp wires the storage gateway, providers and services behind the
// HTTP surface. Provider construction failures degrade to mocks so the
// text-only paths still serve.
func NewApp(db *pgxpool.Pool, intel config.Intelligence, logger *zap.Logger) *App {
	gateway := store.NewGateway(db)

	embedClient, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey(), intel.Embedding.Model)
	if err != nil {
		logger.Warn("embedding client initialization failed, using mock", zap.Error(err))
		embedClient = embedding.NewMockClient()
	}
	embedSvc, err := embedding.NewService(embedClient, intel.Embedding.CacheSize, intel.Embedding.BatchSize, logger)
	if err != nil {
		logger.Fatal("embedding service initialization failed", zap.Error(err))
	}

	var structured domain.StructuredLLM
	llmClient, err := llm.NewClient(config.LLMProvider(), config.LLMAPIKey(), intel.ConnectionDetection.LLMEnhancement.Model)
	if err != nil {
		logger.Warn("LLM client initialization failed, LLM enhancement disabled", zap.Error(err))
	} else {
		structured = llm.NewBreaker(llmClient, logger)
	}

	costs := service.NewCostTracker()
	manager := service.NewConnectionManager(gateway, embedSvc, structured, costs, intel, logger)
	queue := service.NewDiscoveryQueue(manager, discoveryWorkers, discoveryBuffer, logger)
	types := service.NewMemoryTypes(gateway, queue, intel, logger)
	recallSvc := service.NewRecallService(gateway, types, embedSvc, queue, intel, logger)
	temporalSvc := service.NewTemporalAnalyzer(gateway, structured, costs, intel, logger)
	consolidator := service.NewConsolidator(gateway, embedSvc, structured, intel, logger)
	decaySvc := service.NewDecayService(gateway, 0, logger)

	memoryHandler := handlers.NewMemoryHandler(types, gateway)
	recallHandler := handlers.NewRecallHandler(recallSvc)
	connectionHandler := handlers.NewConnectionHandler(manager, queue, gateway)
	temporalHandler := handlers.NewTemporalHandler(temporalSvc)
	lifecycleHandler := handlers.NewLifecycleHandler(consolidator, decaySvc)

	r := chi.NewRouter()
	app := &App{
		Router:       r,
		Queue:        queue,
		Consolidator: consolidator,
		Decay:        decaySvc,
		startTime:    time.Now(),
	}

	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler(db))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/memories", func(r chi.Router) {
			r.Get("/stats", memoryHandler.Stats)
			r.Route("/{type:working|episodic|semantic|procedural}", func(r chi.Router) {
				r.Post("/", memoryHandler.Store)
				r.Get("/search", memoryHandler.Search)
			})
			// chi refuses sibling subrouter mounts on the same path
			// segment, so the id endpoints register as plain methods.
			r.Get("/{id}", memoryHandler.GetByID)
			r.Delete("/{id}", memoryHandler.Delete)
			r.Get("/{id}/connections", connectionHandler.List)
			r.Post("/{id}/discover", connectionHandler.Discover)
		})

		r.Route("/recall", func(r chi.Router) {
			r.Post("/", recallHandler.Recall)
			r.Get("/metrics", recallHandler.Metrics)
		})

		r.Route("/patterns", func(r chi.Router) {
			r.Get("/", temporalHandler.Patterns)
			r.Get("/clusters", temporalHandler.Clusters)
		})

		r.Post("/consolidate", lifecycleHandler.Consolidate)
		r.Post("/decay", lifecycleHandler.Decay)
	})

	return app
}

// Start launches the background workers.
func (app *App) Start() {
	app.Queue.Start()
	app.Consolidator.Start()
	app.Decay.Start()
}

// Stop drains the background workers. Safe to call once.
func (app *App) Stop() {
	app.Queue.Stop()
	app.Consolidator.Stop()
	app.Decay.Stop()
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": buildconfig.Version(),
			"commit":  buildconfig.Commit(),
		})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)
		response := map[string]any{
			"uptime_seconds":    uptime.Seconds(),
			"uptime_human":      uptime.Round(time.Second).String(),
			"dropped_discovery": app.Queue.Dropped(),
			"goroutines":        runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb": float64(memStats.Alloc) / 1024 / 1024,
				"sys_mb":   float64(memStats.Sys) / 1024 / 1024,
				"num_gc":   memStats.NumGC,
			},
			"go_version": runtime.Version(),
			"version":    buildconfig.Version(),
			"commit":     buildconfig.Commit(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
