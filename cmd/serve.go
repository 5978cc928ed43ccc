package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parkscope/greencover/internal/coverage"
	"github.com/parkscope/greencover/internal/model"
	"github.com/parkscope/greencover/internal/scheduler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coverage HTTP API",
	Long:  "Serves stored coverage records, aggregate reports, cache statistics, and scheduler controls. The background scheduler runs alongside the server when schedule.enabled is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched := scheduler.New(env.Runner, env.Orch, cfg.Schedule)
		if cfg.Schedule.Enabled {
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()
		}

		srv := &server{env: env, sched: sched}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: srv.routes(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = httpSrv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type server struct {
	env   *appEnv
	sched *scheduler.Scheduler
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/cities", s.handleListCities)
		api.Get("/coverage/{city}", s.handleGetCoverage)
		api.Post("/coverage/{city}", s.handleComputeCoverage)
		api.Get("/records", s.handleListRecords)
		api.Get("/summary", s.handleSummary)
		api.Get("/rankings", s.handleRankings)
		api.Get("/compare", s.handleCompare)
		api.Get("/cache/stats", s.handleCacheStats)
		api.Delete("/cache/{city}", s.handleInvalidate)
		api.Get("/scheduler/status", s.handleSchedulerStatus)
		api.Post("/scheduler/trigger", s.handleSchedulerTrigger)
	})

	return r
}

func (s *server) handleListCities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.env.Registry.ListCities(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cities)
}

// handleGetCoverage returns the stored record for a city, at the given
// year or the most recent one.
func (s *server) handleGetCoverage(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			writeErr(w, http.StatusBadRequest, eris.New("invalid year"))
			return
		}
		rec, err := s.env.Registry.GetRecord(r.Context(), city, year)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		if rec == nil {
			writeErr(w, http.StatusNotFound, eris.Errorf("no record for %s in %d", city, year))
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	records, err := s.env.Registry.ListRecords(r.Context(), 0)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	var latest *model.CoverageRecord
	slug := scheduler.Slug(city)
	for i := range records {
		if scheduler.Slug(records[i].CityName) != slug {
			continue
		}
		if latest == nil || records[i].Year > latest.Year {
			latest = &records[i]
		}
	}
	if latest == nil {
		writeErr(w, http.StatusNotFound, eris.Errorf("no records for %s", city))
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// handleComputeCoverage computes coverage for a city from its discovered
// data files, through the cache, and persists the result.
func (s *server) handleComputeCoverage(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	found := scheduler.DiscoverSources(cfg.Data, []model.City{{Name: city}})
	if len(found) == 0 {
		writeErr(w, http.StatusNotFound, eris.Errorf("no data files found for %s", city))
		return
	}
	src := found[0]

	var threshold *float64
	if tStr := r.URL.Query().Get("threshold"); tStr != "" {
		t, err := strconv.ParseFloat(tStr, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, eris.New("invalid threshold"))
			return
		}
		threshold = &t
	}

	result, hit, err := computeCoverage(r.Context(), s.env, src, threshold, "api", true)
	if err != nil {
		var mismatch *coverage.SpatialMismatchError
		switch {
		case eris.As(err, &mismatch):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": mismatch.Error(),
				"hint":  mismatch.Hint(),
			})
		case eris.Is(err, coverage.ErrCityNotFound), eris.Is(err, coverage.ErrAmbiguousCity):
			writeErr(w, http.StatusNotFound, err)
		default:
			writeErr(w, http.StatusInternalServerError, err)
		}
		return
	}

	if _, err := s.env.Registry.SaveRecord(r.Context(), result.CityName, src.Year, *result); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("X-Cache", cacheHeader(hit))
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	year := queryInt(r, "year")
	records, err := s.env.Registry.ListRecords(r.Context(), year)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := cachedSummary(r.Context(), s.env, queryInt(r, "year"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handleRankings(w http.ResponseWriter, r *http.Request) {
	records, err := s.env.Registry.ListRecords(r.Context(), queryInt(r, "year"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, coverage.Rank(records))
}

func (s *server) handleCompare(w http.ResponseWriter, r *http.Request) {
	from := queryInt(r, "from")
	to := queryInt(r, "to")
	if from == 0 || to == 0 {
		writeErr(w, http.StatusBadRequest, eris.New("from and to years are required"))
		return
	}

	records, err := s.env.Registry.ListRecords(r.Context(), 0)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, coverage.CompareYears(records, from, to))
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.env.Orch.Stats(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	calcType, err := parseCalcType(r.URL.Query().Get("type"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	n, err := s.env.Orch.Invalidate(r.Context(), chi.URLParam(r, "city"), calcType)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func (s *server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

// handleSchedulerTrigger starts a batch run in the background. A run
// already in flight yields 409.
func (s *server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	if s.sched.Status().State == "running" {
		writeErr(w, http.StatusConflict, scheduler.ErrRunInProgress)
		return
	}

	cityFilter := r.URL.Query().Get("city")
	go func() {
		if _, err := s.sched.Trigger(context.Background(), cityFilter); err != nil {
			zap.L().Error("triggered run failed", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

func cacheHeader(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
