package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/topolens/verity/internal/decay"
	"github.com/topolens/verity/internal/ledger"
	"github.com/topolens/verity/internal/model"
	"github.com/topolens/verity/internal/scheduler"
)

func newRouter(env *env, sched *scheduler.Scheduler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := env.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/verify", handleVerify(env))
		r.Post("/decay", handleDecay(env))
		r.Get("/claims/stale", handleStale(env))
		r.Post("/predictions", handleRecordPrediction(env))
		r.Get("/predictions/{id}", handleGetPrediction(env))
		r.Post("/predictions/{id}/validate", handleValidatePrediction(env))
		r.Get("/metrics/accuracy", handleAccuracy(env))
		r.Get("/calibration/report", handleCalibration(env))
		r.Get("/scheduler/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, sched.Status())
		})
	})

	return r
}

func handleVerify(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SourceResourceID string `json:"source_resource_id"`
			TargetResourceID string `json:"target_resource_id"`
			WindowHours      int    `json:"window_hours"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.SourceResourceID == "" || req.TargetResourceID == "" {
			writeError(w, http.StatusBadRequest, "source_resource_id and target_resource_id are required")
			return
		}
		if req.WindowHours < 0 {
			writeError(w, http.StatusBadRequest, "window_hours must be positive")
			return
		}

		result, err := env.Fusion.VerifyWindow(r.Context(), req.SourceResourceID, req.TargetResourceID,
			time.Duration(req.WindowHours)*time.Hour)
		if err != nil {
			writeInternal(w, "verify", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleDecay(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Policy overrides are optional; an empty body runs the configured one.
		var req struct {
			Rate          float64 `json:"decay_rate"`
			DaysThreshold int     `json:"days_threshold"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Rate < 0 || req.Rate >= 1 {
			writeError(w, http.StatusBadRequest, "decay_rate must be in [0, 1)")
			return
		}
		if req.DaysThreshold < 0 {
			writeError(w, http.StatusBadRequest, "days_threshold must be positive")
			return
		}

		report, err := env.Decay.ApplyPolicy(r.Context(), decay.Options{
			Rate:          req.Rate,
			DaysThreshold: req.DaysThreshold,
		})
		if err != nil {
			writeInternal(w, "decay", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleStale(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxAgeDays := queryInt(r, "max_age_days", 0)
		limit := queryInt(r, "limit", 100)
		claims, err := env.Decay.ListStale(r.Context(), maxAgeDays, limit)
		if err != nil {
			writeInternal(w, "list stale", err)
			return
		}
		if claims == nil {
			claims = []model.DependencyClaim{}
		}
		writeJSON(w, http.StatusOK, claims)
	}
}

func handleRecordPrediction(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResourceID           string  `json:"resource_id"`
			ResourceType         string  `json:"resource_type"`
			PredictedProbability float64 `json:"predicted_probability"`
			DeclaredConfidence   string  `json:"declared_confidence"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		p := &model.Prediction{
			ResourceID:           req.ResourceID,
			ResourceType:         req.ResourceType,
			PredictedProbability: req.PredictedProbability,
			DeclaredConfidence:   model.DeclaredConfidence(req.DeclaredConfidence),
		}
		if err := env.Ledger.Record(r.Context(), p); err != nil {
			writeLedgerError(w, "record prediction", err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleGetPrediction(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := env.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeLedgerError(w, "get prediction", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleValidatePrediction(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Observed string `json:"observed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		p, err := env.Ledger.Validate(r.Context(), chi.URLParam(r, "id"), model.HealthState(req.Observed))
		if err != nil {
			writeLedgerError(w, "validate prediction", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleAccuracy(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := queryInt(r, "days", 30)
		m, err := env.Accuracy.LastDays(r.Context(), days)
		if err != nil {
			writeInternal(w, "accuracy", err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func handleCalibration(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := env.Calibration.Analyze(r.Context())
		if err != nil {
			writeInternal(w, "calibration", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// writeLedgerError maps the ledger's sentinel errors onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, op string, err error) {
	switch {
	case eris.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "prediction not found")
	case eris.Is(err, ledger.ErrAlreadyValidated):
		writeError(w, http.StatusConflict, "prediction already validated")
	case eris.Is(err, ledger.ErrInvalidPrediction):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeInternal(w, op, err)
	}
}

func writeInternal(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
