package server

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	giftrelay "github.com/gozephyr/giftrelay"
	"github.com/gozephyr/giftrelay/errors"
	"github.com/gozephyr/giftrelay/extract"
	"github.com/gozephyr/giftrelay/product"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxBatchTerms = 50
	maxBodyBytes  = 64 << 10
)

type searchResponse struct {
	Query   string              `json:"query"`
	Range   *extract.PriceRange `json:"range"`
	Found   bool                `json:"found"`
	Product *product.Product    `json:"product"`
}

type batchRequest struct {
	Terms []string `json:"terms"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

type batchResponse struct {
	Requested int                 `json:"requested"`
	Found     int                 `json:"found"`
	Range     *extract.PriceRange `json:"range"`
	Results   []product.Match     `json:"results"`
}

type contextResponse struct {
	Query   string               `json:"query"`
	Context extract.QueryContext `json:"context"`
	Range   *extract.PriceRange  `json:"range"`
}

type healthResponse struct {
	Status    string                  `json:"status"`
	Timestamp string                  `json:"timestamp"`
	Uptime    string                  `json:"uptime"`
	Cache     giftrelay.StatsSnapshot `json:"cache"`
	Queue     giftrelay.QueueStats    `json:"queue"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the service routes wrapped in request logging
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", a.handleSearch)
	mux.HandleFunc("POST /batch", a.handleBatch)
	mux.HandleFunc("GET /context", a.handleContext)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", a.Metrics.Handler())
	return requestLogger(a.logger, mux)
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		a.writeError(w, r, http.StatusBadRequest, "q parameter is required")
		return
	}
	pr, err := rangeFromQuery(r, q)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	priority := 0
	if v := r.URL.Query().Get("priority"); v != "" {
		if priority, err = strconv.Atoi(v); err != nil {
			a.writeError(w, r, http.StatusBadRequest, "priority must be an integer")
			return
		}
	}

	p, err := a.Searcher.SearchQueued(r.Context(), a.Queue, q, pr, priority)
	if err != nil {
		a.logger.Warn("product search failed", "query", q, "error", err)
		a.writeError(w, r, statusFor(err), "product search failed")
		return
	}
	a.writeJSON(w, r, http.StatusOK, searchResponse{Query: q, Range: pr, Found: p != nil, Product: p})
}

func (a *App) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request payload: %v", err))
		return
	}

	terms := make([]string, 0, len(req.Terms))
	for _, t := range req.Terms {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		a.writeError(w, r, http.StatusBadRequest, "terms are required")
		return
	}
	if len(terms) > maxBatchTerms {
		a.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("at most %d terms per request", maxBatchTerms))
		return
	}

	var pr *extract.PriceRange
	if req.Min != nil || req.Max != nil {
		if req.Min == nil || req.Max == nil {
			a.writeError(w, r, http.StatusBadRequest, "min and max must be given together")
			return
		}
		budget := extract.PriceRange{Min: *req.Min, Max: *req.Max}
		if !budget.Valid() {
			a.writeError(w, r, http.StatusBadRequest, "invalid budget")
			return
		}
		widened := extract.Widen(budget)
		pr = &widened
	}

	matches := a.Searcher.SearchMany(r.Context(), terms, pr)
	a.writeJSON(w, r, http.StatusOK, batchResponse{
		Requested: len(terms),
		Found:     len(matches),
		Range:     pr,
		Results:   matches,
	})
}

func (a *App) handleContext(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		a.writeError(w, r, http.StatusBadRequest, "q parameter is required")
		return
	}
	resp := contextResponse{Query: q, Context: extract.Context(q)}
	if pr, ok := extract.ParseRange(q); ok {
		resp.Range = &pr
	}
	a.writeJSON(w, r, http.StatusOK, resp)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, r, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(a.started).Round(time.Second).String(),
		Cache:     a.Cache.Stats(),
		Queue:     a.Queue.Stats(),
	})
}

// rangeFromQuery reads an explicit min/max budget, or falls back to a range
// stated in the query text. A nil range means no price constraint.
func rangeFromQuery(r *http.Request, q string) (*extract.PriceRange, error) {
	minStr, maxStr := r.URL.Query().Get("min"), r.URL.Query().Get("max")
	if minStr == "" && maxStr == "" {
		if pr, ok := extract.ParseRange(q); ok {
			return &pr, nil
		}
		return nil, nil
	}
	if minStr == "" || maxStr == "" {
		return nil, stderrors.New("min and max must be given together")
	}
	lo, err1 := strconv.ParseFloat(minStr, 64)
	hi, err2 := strconv.ParseFloat(maxStr, 64)
	budget := extract.PriceRange{Min: lo, Max: hi}
	if err1 != nil || err2 != nil || !budget.Valid() {
		return nil, stderrors.New("invalid budget")
	}
	widened := extract.Widen(budget)
	return &widened, nil
}

func statusFor(err error) int {
	switch {
	case errors.IsTimeout(err):
		return http.StatusGatewayTimeout
	case stderrors.Is(err, errors.ErrQueueClosed), errors.IsCacheClosed(err):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, errors.ErrContextCanceled):
		return http.StatusRequestTimeout
	case stderrors.Is(err, errors.ErrUpstream), errors.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", "path", r.URL.Path, "error", err)
	}
}

func (a *App) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	a.writeJSON(w, r, status, errorResponse{Error: msg})
}
