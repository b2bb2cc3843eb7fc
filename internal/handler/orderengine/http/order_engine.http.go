package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/guregu/null/v6"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/service/observer"
	"github.com/krobus00/order-execution-engine/internal/util"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	maxRequestBodyBytes = 1 << 20
	ndjsonContentType   = "application/x-ndjson"
)

type ExecuteOrderRequest struct {
	Type     string          `json:"type"`
	TokenIn  string          `json:"tokenIn"`
	TokenOut string          `json:"tokenOut"`
	Amount   decimal.Decimal `json:"amount"`
}

type ExecuteOrderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type OrderResponse struct {
	OrderID         string                  `json:"orderId"`
	Type            string                  `json:"type"`
	TokenIn         string                  `json:"tokenIn"`
	TokenOut        string                  `json:"tokenOut"`
	Amount          string                  `json:"amount"`
	Status          string                  `json:"status"`
	SelectedVenue   null.String             `json:"selectedVenue"`
	RoutingDecision *entity.RoutingDecision `json:"routingDecision,omitempty"`
	SettlementRef   null.String             `json:"settlementRef"`
	ExecutedPrice   null.String             `json:"executedPrice"`
	Slippage        null.String             `json:"slippage"`
	ExecutionTimeMs null.Int                `json:"executionTimeMs"`
	ErrorDetail     null.String             `json:"errorDetail"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

type StatusResponse struct {
	Order         *OrderResponse              `json:"order"`
	History       []entity.StatusHistoryEntry `json:"history,omitempty"`
	HistoryLength int64                       `json:"historyLength"`
}

type HistoryResponse struct {
	OrderID string                      `json:"orderId"`
	From    int64                       `json:"from"`
	Entries []entity.StatusHistoryEntry `json:"entries"`
	Length  int64                       `json:"length"`
}

type Handler struct {
	submitter     entity.OrderSubmitter
	statusService *observer.StatusService
	pollInterval  time.Duration
}

func NewOrderEngineHTTPHandler(submitter entity.OrderSubmitter, statusService *observer.StatusService, defaultPollInterval time.Duration) *Handler {
	return &Handler{
		submitter:     submitter,
		statusService: statusService,
		pollInterval:  observer.ClampPollInterval(defaultPollInterval),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders/execute", h.ExecuteOrder)
	mux.HandleFunc("GET /api/orders/{orderId}", h.GetOrder)
	mux.HandleFunc("GET /api/orders/{orderId}/history", h.GetOrderHistory)
	mux.HandleFunc("GET /api/orders/{orderId}/poll", h.PollOrder)
}

func (h *Handler) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req ExecuteOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	order, err := h.submitter.SubmitOrder(r.Context(), entity.SubmitOrderRequest{
		Type:     entity.OrderType(strings.ToLower(strings.TrimSpace(req.Type))),
		TokenIn:  req.TokenIn,
		TokenOut: req.TokenOut,
		Amount:   req.Amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ExecuteOrderResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
		Message: "order accepted, subscribe to /api/orders/" + order.ID + "/stream for live updates",
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")

	withHistory, err := parseBoolQuery(r, "history")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid history flag"})
		return
	}

	var view *entity.StatusView
	if withHistory {
		view, err = h.statusService.GetStatusWithHistory(r.Context(), orderID)
	} else {
		view, err = h.statusService.GetStatus(r.Context(), orderID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapStatusViewToHTTPResponse(view))
}

func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")

	var from int64
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "from must be a non-negative integer"})
			return
		}
		from = parsed
	}

	entries, length, err := h.statusService.GetHistory(r.Context(), orderID, from)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []entity.StatusHistoryEntry{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		OrderID: orderID,
		From:    from,
		Entries: entries,
		Length:  length,
	})
}

// PollOrder streams one status view per line until the order is terminal.
func (h *Handler) PollOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")

	interval := h.pollInterval
	if raw := strings.TrimSpace(r.URL.Query().Get("interval")); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "interval must be milliseconds"})
			return
		}
		interval = observer.ClampPollInterval(time.Duration(ms) * time.Millisecond)
	}

	withHistory, err := parseBoolQuery(r, "history")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid history flag"})
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	encoder := json.NewEncoder(w)

	err = h.statusService.Poll(r.Context(), orderID, interval, withHistory, func(view *entity.StatusView) error {
		if !started {
			w.Header().Set("Content-Type", ndjsonContentType)
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		if err := encoder.Encode(mapStatusViewToHTTPResponse(view)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	if !started {
		writeError(w, err)
		return
	}

	logrus.WithField("order_id", orderID).WithError(err).Warn("poll stream ended")
}

func mapStatusViewToHTTPResponse(view *entity.StatusView) *StatusResponse {
	return &StatusResponse{
		Order:         mapOrderToHTTPResponse(view.Order),
		History:       view.History,
		HistoryLength: view.HistoryLength,
	}
}

func mapOrderToHTTPResponse(order *entity.Order) *OrderResponse {
	var executedPrice null.String
	if order.ExecutedPrice != nil {
		executedPrice = null.StringFrom(order.ExecutedPrice.String())
	}

	var slippage null.String
	if order.Slippage != nil {
		slippage = null.StringFrom(order.Slippage.String())
	}

	return &OrderResponse{
		OrderID:         order.ID,
		Type:            string(order.Type),
		TokenIn:         order.TokenIn,
		TokenOut:        order.TokenOut,
		Amount:          order.Amount.String(),
		Status:          string(order.Status),
		SelectedVenue:   null.NewString(order.SelectedVenue, order.SelectedVenue != ""),
		RoutingDecision: order.RoutingDecision,
		SettlementRef:   null.NewString(order.SettlementRef, order.SettlementRef != ""),
		ExecutedPrice:   executedPrice,
		Slippage:        slippage,
		ExecutionTimeMs: null.NewInt(order.ExecutionTimeMs, order.ExecutionTimeMs > 0),
		ErrorDetail:     null.NewString(order.ErrorDetail, order.ErrorDetail != ""),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func writeError(w http.ResponseWriter, err error) {
	var validationErr *entity.ValidationError
	var transportErr *entity.TransportError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
	case errors.Is(err, entity.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
	case errors.As(err, &transportErr):
		logrus.WithError(err).WithField("error_kind", util.ErrorKindTransport).Error("order engine unavailable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "service unavailable"})
	default:
		logrus.Error(err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseBoolQuery(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
