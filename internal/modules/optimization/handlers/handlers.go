// Package handlers provides HTTP handlers for the optimizer pipeline.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/allocation"
	"github.com/aristath/frontier/internal/modules/optimization"
)

const dateLayout = "2006-01-02"

// Handler handles optimizer HTTP requests
type Handler struct {
	service *optimization.Service
	log     zerolog.Logger
}

// NewHandler creates a new optimizer handler
func NewHandler(service *optimization.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "optimizer").Logger(),
	}
}

// RegisterRoutes registers optimizer routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		r.Get("/", h.HandleGetStatus)
		r.Post("/run", h.HandleRun)
		r.Post("/allocate", h.HandleAllocate)
	})
}

// runRequest is the JSON body of POST /optimizer/run. A null price is a
// missing observation.
type runRequest struct {
	Dates         []string                        `json:"dates"`
	Assets        []string                        `json:"assets"`
	Prices        map[string][]*float64           `json:"prices"`
	Symbols       []string                        `json:"symbols"`
	Start         string                          `json:"start"`
	Budget        *float64                        `json:"budget"`
	Objective     *objectiveRequest               `json:"objective"`
	Bounds        *optimization.Bounds            `json:"bounds"`
	RiskFreeRate  *float64                        `json:"risk_free_rate"`
	ReturnsMethod string                          `json:"returns_method"`
	RiskModel     string                          `json:"risk_model"`
	Gamma         *float64                        `json:"gamma"`
	Sectors       []optimization.SectorConstraint `json:"sectors"`
	LatestPrices  map[string]float64              `json:"latest_prices"`
}

type objectiveRequest struct {
	Kind   string  `json:"kind"`
	Target float64 `json:"target"`
}

type allocateRequest struct {
	Weights      map[string]float64 `json:"weights"`
	LatestPrices map[string]float64 `json:"latest_prices"`
	Budget       float64            `json:"budget"`
}

// HandleGetStatus returns the optimizer defaults and the last result
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings":    h.service.Settings(),
		"last_result": h.service.LastResult(),
	})
}

// HandleRun runs the full pipeline
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := body.toRequest()
	if err != nil {
		if domain.IsPipelineError(err) {
			h.writePipelineError(w, err)
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Run(r.Context(), req)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleAllocate converts weights into whole shares
func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	var body allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.Weights) == 0 {
		h.writeError(w, http.StatusBadRequest, "weights are required")
		return
	}

	alloc, err := allocation.Allocate(body.Weights, body.LatestPrices, body.Budget)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, alloc)
}

func (b runRequest) toRequest() (optimization.Request, error) {
	req := optimization.Request{
		Symbols:      b.Symbols,
		Budget:       b.Budget,
		Bounds:       b.Bounds,
		RiskFreeRate: b.RiskFreeRate,
		Gamma:        b.Gamma,
		Sectors:      b.Sectors,
		LatestPrices: b.LatestPrices,
	}

	if b.Objective != nil {
		objective, err := optimization.ParseObjective(b.Objective.Kind, b.Objective.Target)
		if err != nil {
			return optimization.Request{}, err
		}
		req.Objective = objective
	}
	if b.ReturnsMethod != "" {
		method, err := optimization.ParseReturnsMethod(b.ReturnsMethod)
		if err != nil {
			return optimization.Request{}, err
		}
		req.ReturnsMethod = method
	}
	if b.RiskModel != "" {
		model, err := optimization.ParseRiskModel(b.RiskModel)
		if err != nil {
			return optimization.Request{}, err
		}
		req.RiskModel = model
	}
	if b.Start != "" {
		start, err := time.Parse(dateLayout, b.Start)
		if err != nil {
			return optimization.Request{}, fmt.Errorf("invalid start date %q", b.Start)
		}
		req.Start = start
	}

	if len(b.Prices) > 0 {
		table, err := b.priceHistory()
		if err != nil {
			return optimization.Request{}, err
		}
		req.Prices = table
	}

	return req, nil
}

func (b runRequest) priceHistory() (*domain.PriceHistory, error) {
	dates := make([]time.Time, len(b.Dates))
	for i, s := range b.Dates {
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q", s)
		}
		dates[i] = d
	}

	assets := b.Assets
	if len(assets) == 0 {
		for asset := range b.Prices {
			assets = append(assets, asset)
		}
		sort.Strings(assets)
	}

	prices := make(map[string][]float64, len(b.Prices))
	for asset, column := range b.Prices {
		series := make([]float64, len(column))
		for i, p := range column {
			if p == nil {
				series[i] = math.NaN()
				continue
			}
			series[i] = *p
		}
		prices[asset] = series
	}

	return domain.NewPriceHistory(dates, assets, prices)
}

// writePipelineError maps domain errors to 422 and everything else to 500.
func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		h.log.Debug().Err(err).Msg("Optimizer request cancelled")
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if domain.IsPipelineError(err) {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"kind":  domain.ErrorKind(err),
		})
		return
	}
	h.log.Error().Err(err).Msg("Optimizer request failed")
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
