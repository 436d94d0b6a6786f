package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hisabimbola/ostrom-bridge/host"
	"github.com/hisabimbola/ostrom-bridge/service"
)

// Handler holds HTTP handler dependencies.
type Handler struct {
	registry *host.Registry
}

// New creates a new HTTP handler over the instance registry.
func New(registry *host.Registry) *Handler {
	return &Handler{registry: registry}
}

// NewRouter creates and configures the HTTP router.
func (h *Handler) NewRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/health", h.healthHandler)
	r.Get("/metrics", h.metricsHandler())
	r.Get("/status", h.statusHandler)
	r.Get("/prices", h.pricesHandler)

	return r
}

// healthHandler returns a simple health check response.
func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// InstanceStatus is the per-instance slice of the status response.
type InstanceStatus struct {
	Name      string            `json:"name"`
	ZipCode   string            `json:"zip_code"`
	Healthy   bool              `json:"healthy"`
	LastError string            `json:"last_error,omitempty"`
	Snapshot  *service.Snapshot `json:"snapshot"`
}

// StatusResponse lists every configured instance with its latest snapshot.
type StatusResponse struct {
	Instances []InstanceStatus `json:"instances"`
}

// statusHandler returns the latest snapshot and health of every instance.
func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Instances: []InstanceStatus{}}
	for _, c := range h.registry.All() {
		status := InstanceStatus{
			Name:     c.DisplayName(),
			ZipCode:  c.ZipCode(),
			Healthy:  c.Healthy(),
			Snapshot: c.Snapshot(),
		}
		if err := c.LastError(); err != nil {
			status.LastError = err.Error()
		}
		resp.Instances = append(resp.Instances, status)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// PricesResponse is the payload of the prices-for-date call.
type PricesResponse struct {
	Prices []service.PriceEntry `json:"prices"`
}

// pricesHandler serves hourly prices for one calendar date. A refresh is
// triggered before the lookup so the answer reflects the latest data.
func (h *Handler) pricesHandler(w http.ResponseWriter, r *http.Request) {
	dateParam := r.URL.Query().Get("date")
	if dateParam == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date query parameter is required (YYYY-MM-DD)"})
		return
	}
	date, err := time.Parse("2006-01-02", dateParam)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}

	coordinator, ok := h.registry.Resolve(r.URL.Query().Get("zip"))
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no matching instance configured"})
		return
	}

	prices, err := coordinator.GetPricesForDate(r.Context(), date)
	if err != nil {
		var nf *service.NotFoundError
		if errors.As(err, &nf) {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, PricesResponse{Prices: prices})
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Prometheus metrics
var (
	currentPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ostrom_current_price_eur_kwh",
		Help: "Gross electricity price for the current hour (EUR/kWh)",
	}, []string{"zip"})

	nextHourPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ostrom_next_hour_price_eur_kwh",
		Help: "Gross electricity price for the next hour (EUR/kWh)",
	}, []string{"zip"})

	lowestPriceToday = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ostrom_lowest_price_today_eur_kwh",
		Help: "Lowest gross electricity price today (EUR/kWh)",
	}, []string{"zip"})

	highestPriceToday = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ostrom_highest_price_today_eur_kwh",
		Help: "Highest gross electricity price today (EUR/kWh)",
	}, []string{"zip"})

	monthlyBaseFee = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ostrom_monthly_base_fee_eur",
		Help: "Gross monthly base fee (EUR)",
	}, []string{"zip"})

	monthlyGridFee = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ostrom_monthly_grid_fee_eur",
		Help: "Gross monthly grid fee (EUR)",
	}, []string{"zip"})

	instanceAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ostrom_available",
		Help: "Whether the last refresh for this instance succeeded (1 = healthy)",
	}, []string{"zip"})

	refreshCycles = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ostrom_refresh_cycles",
		Help: "Refresh cycles run since startup, by result",
	}, []string{"zip", "result"})
)

func init() {
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(nextHourPrice)
	prometheus.MustRegister(lowestPriceToday)
	prometheus.MustRegister(highestPriceToday)
	prometheus.MustRegister(monthlyBaseFee)
	prometheus.MustRegister(monthlyGridFee)
	prometheus.MustRegister(instanceAvailable)
	prometheus.MustRegister(refreshCycles)
}

// metricsHandler returns the Prometheus metrics handler.
func (h *Handler) metricsHandler() http.HandlerFunc {
	promHandler := promhttp.Handler()

	return func(w http.ResponseWriter, r *http.Request) {
		h.updateMetrics()
		promHandler.ServeHTTP(w, r)
	}
}

// updateMetrics refreshes the gauges from each instance's latest snapshot.
func (h *Handler) updateMetrics() {
	for _, c := range h.registry.All() {
		zip := c.ZipCode()

		if c.Healthy() {
			instanceAvailable.WithLabelValues(zip).Set(1)
		} else {
			instanceAvailable.WithLabelValues(zip).Set(0)
		}

		succeeded, failed := c.Stats()
		refreshCycles.WithLabelValues(zip, "success").Set(float64(succeeded))
		refreshCycles.WithLabelValues(zip, "failure").Set(float64(failed))

		snap := c.Snapshot()
		if snap == nil {
			continue
		}

		currentPrice.WithLabelValues(zip).Set(snap.CurrentPrice.InexactFloat64())
		lowestPriceToday.WithLabelValues(zip).Set(snap.LowestPriceToday.InexactFloat64())
		highestPriceToday.WithLabelValues(zip).Set(snap.HighestPriceToday.InexactFloat64())
		monthlyBaseFee.WithLabelValues(zip).Set(snap.BaseFee.InexactFloat64())
		monthlyGridFee.WithLabelValues(zip).Set(snap.GridFee.InexactFloat64())

		if snap.NextHourPrice != nil {
			nextHourPrice.WithLabelValues(zip).Set(snap.NextHourPrice.InexactFloat64())
		} else {
			nextHourPrice.DeleteLabelValues(zip)
		}
	}
}
