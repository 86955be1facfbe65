package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/checkout"
	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
	"github.com/ariefcatur/go-checkout-orders/internal/pricing"
)

// Idempotency stores create-order responses by client key. Claim must be
// atomic: exactly one caller wins a fresh key. Get returns an empty body for a
// key that is claimed but not answered yet.
type Idempotency interface {
	Claim(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, response []byte) error
	Release(ctx context.Context, key string) error
}

// storedResponse is what an Idempotency-Key replays.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type OrdersHandler struct {
	Checkout    *checkout.Service
	Idempotency Idempotency
}

type createOrderReq struct {
	UserID string            `json:"user_id"`
	Items  []pricing.Request `json:"items"`
}

type notifyReq struct {
	OrderID string `json:"order_id"`
}

type statusResp struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/verify", h.verifyPayment)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/payment", h.retryPayment)
	r.Get("/users/{id}/orders", h.listUserOrders)
	r.Post("/payments/notify", h.notifyPayment)
	r.Get("/revenue", h.revenue)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
		return
	}
	if req.UserID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "user_id and items are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	logger := logging.FromContext(ctx)

	idemKey := r.Header.Get("Idempotency-Key")
	if h.Idempotency == nil {
		idemKey = ""
	}
	if idemKey != "" {
		claimed, err := h.Idempotency.Claim(ctx, idemKey)
		if err != nil {
			logger.Warn("idempotency_claim_failed", zap.Error(err))
			idemKey = ""
		} else if !claimed {
			h.replay(w, r, idemKey)
			return
		}
	}

	res, err := h.Checkout.CreateOrder(ctx, checkout.CreateOrderInput{
		UserID:   req.UserID,
		Items:    req.Items,
		ClientIP: clientIP(r),
	})

	var (
		status  int
		payload any
	)
	switch {
	case err == nil:
		status, payload = http.StatusCreated, res
	case errors.Is(err, orders.ErrGateway) && res.OrderID != "":
		status, payload = http.StatusBadGateway, errorResponse{Error: err.Error(), Code: codeGatewayError, OrderID: res.OrderID}
	default:
		st, body := domainError(r, err)
		body.OrderID = res.OrderID
		status, payload = st, body
	}
	body, mErr := json.Marshal(payload)
	if mErr != nil {
		writeDomainError(w, r, mErr)
		return
	}

	// Any response that left an order behind is kept for the key. Otherwise
	// the claim is dropped and the client may retry with the same key.
	if idemKey != "" {
		storeCtx := context.WithoutCancel(ctx)
		if res.OrderID != "" {
			stored, _ := json.Marshal(storedResponse{Status: status, Body: body})
			if err := h.Idempotency.Put(storeCtx, idemKey, stored); err != nil {
				logger.Warn("idempotency_store_failed", zap.Error(err))
			}
		} else if err := h.Idempotency.Release(storeCtx, idemKey); err != nil {
			logger.Warn("idempotency_release_failed", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// replay answers a request whose key was already claimed: with the stored
// response when there is one, with 409 while the first request still runs.
func (h *OrdersHandler) replay(w http.ResponseWriter, r *http.Request, key string) {
	raw, ok, err := h.Idempotency.Get(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !ok || len(raw) == 0 {
		writeError(w, http.StatusConflict, codeRequestInFlight, "a request with this Idempotency-Key is still in progress")
		return
	}
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		writeDomainError(w, r, fmt.Errorf("decode stored response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func (h *OrdersHandler) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Checkout.RetryPayment(ctx, chi.URLParam(r, "id"), clientIP(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Checkout.CancelOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	txID := r.URL.Query().Get("order_id")
	if txID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "order_id query parameter is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	snap, err := h.Checkout.Verify(ctx, txID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// notifyPayment is the gateway callback. The body or the query carries the
// gateway order id.
func (h *OrdersHandler) notifyPayment(w http.ResponseWriter, r *http.Request) {
	var req notifyReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
			return
		}
	}
	if req.OrderID == "" {
		req.OrderID = r.URL.Query().Get("order_id")
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "order_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	queued, err := h.Checkout.NotifyPayment(ctx, req.OrderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	code := http.StatusOK
	if queued {
		code = http.StatusAccepted
	}
	writeJSON(w, code, map[string]any{"transaction_id": req.OrderID, "queued": queued})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Checkout.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	st, err := h.Checkout.OrderStatus(ctx, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{OrderID: id, Status: st})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Checkout.ListOrders(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Checkout.ListOrdersForUser(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) revenue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rev, err := h.Checkout.Revenue(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// clientIP strips the port RemoteAddr carries when no proxy header was set.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
