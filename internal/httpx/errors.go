package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeInvalidRequest     = "invalid_request"
	codeUserNotFound       = "user_not_found"
	codeProductNotFound    = "product_not_found"
	codeOrderNotFound      = "order_not_found"
	codeNotFound           = "not_found"
	codeOutOfStock         = "out_of_stock"
	codeInvalidTransition  = "invalid_transition"
	codeGatewayError       = "gateway_error"
	codeConflict           = "conflict"
	codeRequestInFlight    = "request_in_flight"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	OrderID string `json:"order_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// classify maps the domain error taxonomy to a status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrUserNotFound):
		return http.StatusNotFound, codeUserNotFound
	case errors.Is(err, orders.ErrProductNotFound):
		return http.StatusNotFound, codeProductNotFound
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, codeOrderNotFound
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, orders.ErrOutOfStock):
		return http.StatusBadRequest, codeOutOfStock
	case errors.Is(err, orders.ErrInvalidRequest):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, codeInvalidTransition
	case errors.Is(err, orders.ErrGateway):
		return http.StatusBadGateway, codeGatewayError
	case errors.Is(err, orders.ErrConflict):
		return http.StatusConflict, codeConflict
	default:
		return http.StatusInternalServerError, codeInternalError
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := domainError(r, err)
	writeJSON(w, status, body)
}

// domainError builds the status and body for err. Internal errors are logged
// and their message is not exposed.
func domainError(r *http.Request, err error) (int, errorResponse) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request_failed", zap.Error(err))
		msg = "internal error"
	}
	return status, errorResponse{Error: msg, Code: code}
}
