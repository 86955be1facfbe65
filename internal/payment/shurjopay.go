package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-orders/internal/logging"
	"github.com/ariefcatur/go-checkout-orders/internal/metrics"
	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

type ShurjoPayConfig struct {
	BaseURL   string
	Username  string
	Password  string
	Prefix    string
	ReturnURL string
	CancelURL string
	Timeout   time.Duration
}

// ShurjoPay talks to the ShurjoPay merchant API. The bearer token is cached
// until shortly before it expires.
type ShurjoPay struct {
	cfg     ShurjoPayConfig
	http    *http.Client
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	token *spToken
}

type spToken struct {
	value     string
	storeID   int64
	expiresAt time.Time
}

func NewShurjoPay(cfg ShurjoPayConfig, m *metrics.Metrics) *ShurjoPay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ShurjoPay{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: m,
		now:     time.Now,
	}
}

type tokenResponse struct {
	Token     string `json:"token"`
	StoreID   int64  `json:"store_id"`
	TokenType string `json:"token_type"`
	SPCode    code   `json:"sp_code"`
	Message   string `json:"message"`
	ExpiresIn int64  `json:"expires_in"`
}

type secretPayRequest struct {
	Prefix          string `json:"prefix"`
	Token           string `json:"token"`
	ReturnURL       string `json:"return_url"`
	CancelURL       string `json:"cancel_url"`
	StoreID         int64  `json:"store_id"`
	Amount          string `json:"amount"`
	OrderID         string `json:"order_id"`
	Currency        string `json:"currency"`
	CustomerName    string `json:"customer_name"`
	CustomerAddress string `json:"customer_address"`
	CustomerEmail   string `json:"customer_email"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerCity    string `json:"customer_city"`
	ClientIP        string `json:"client_ip"`
}

type secretPayResponse struct {
	CheckoutURL       string `json:"checkout_url"`
	SPOrderID         string `json:"sp_order_id"`
	TransactionStatus string `json:"transactionStatus"`
}

type verificationRecord struct {
	SPCode            code   `json:"sp_code"`
	SPMessage         string `json:"sp_message"`
	SPMassage         string `json:"sp_massage"`
	BankStatus        string `json:"bank_status"`
	TransactionStatus string `json:"transaction_status"`
	Method            string `json:"method"`
	DateTime          string `json:"date_time"`
}

// code accepts sp_code sent either as a JSON string or a number.
type code string

func (c *code) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = code(s)
		return nil
	}
	if string(b) == "null" {
		*c = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = code(n.String())
	return nil
}

func (s *ShurjoPay) OpenSession(ctx context.Context, req SessionRequest) (Session, error) {
	tok, err := s.authorize(ctx)
	if err != nil {
		s.metrics.Gateway("open_session", "error")
		return Session{}, err
	}

	city := req.Customer.City
	if city == "" {
		city = "N/A"
	}
	body := secretPayRequest{
		Prefix:          s.cfg.Prefix,
		Token:           tok.value,
		ReturnURL:       s.cfg.ReturnURL,
		CancelURL:       s.cfg.CancelURL,
		StoreID:         tok.storeID,
		Amount:          req.Amount.StringFixed(2),
		OrderID:         s.cfg.Prefix + req.OrderID,
		Currency:        req.Currency,
		CustomerName:    req.Customer.Name,
		CustomerAddress: req.Customer.Address,
		CustomerEmail:   req.Customer.Email,
		CustomerPhone:   req.Customer.Phone,
		CustomerCity:    city,
		ClientIP:        req.ClientIP,
	}

	var resp secretPayResponse
	if err := s.post(ctx, "/api/secret-pay", tok.value, body, &resp); err != nil {
		s.metrics.Gateway("open_session", "error")
		return Session{}, err
	}
	if resp.CheckoutURL == "" || resp.SPOrderID == "" {
		s.metrics.Gateway("open_session", "error")
		return Session{}, fmt.Errorf("%w: secret-pay returned no checkout handle", orders.ErrGateway)
	}

	s.metrics.Gateway("open_session", "ok")
	logging.FromContext(ctx).Info("payment_session_opened",
		zap.String("order_id", req.OrderID),
		zap.String("transaction_id", resp.SPOrderID),
	)
	return Session{
		CheckoutURL:       resp.CheckoutURL,
		TransactionID:     resp.SPOrderID,
		TransactionStatus: resp.TransactionStatus,
	}, nil
}

func (s *ShurjoPay) QueryStatus(ctx context.Context, transactionID string) ([]orders.Settlement, error) {
	tok, err := s.authorize(ctx)
	if err != nil {
		s.metrics.Gateway("query_status", "error")
		return nil, err
	}

	var records []verificationRecord
	if err := s.post(ctx, "/api/verification", tok.value, map[string]string{"order_id": transactionID}, &records); err != nil {
		s.metrics.Gateway("query_status", "error")
		return nil, err
	}
	s.metrics.Gateway("query_status", "ok")

	out := make([]orders.Settlement, 0, len(records))
	for _, r := range records {
		msg := r.SPMessage
		if msg == "" {
			msg = r.SPMassage
		}
		out = append(out, orders.Settlement{
			BankStatus:        r.BankStatus,
			SPCode:            string(r.SPCode),
			SPMessage:         msg,
			TransactionStatus: r.TransactionStatus,
			Method:            r.Method,
			DateTime:          r.DateTime,
		})
	}
	return out, nil
}

// authorize returns a cached token or fetches a new one. The network call
// runs without the mutex held; two concurrent refreshes both succeed and the
// later one wins.
func (s *ShurjoPay) authorize(ctx context.Context) (spToken, error) {
	s.mu.Lock()
	if s.token != nil && s.now().Before(s.token.expiresAt) {
		tok := *s.token
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	var resp tokenResponse
	creds := map[string]string{"username": s.cfg.Username, "password": s.cfg.Password}
	if err := s.post(ctx, "/api/get_token", "", creds, &resp); err != nil {
		return spToken{}, err
	}
	if resp.Token == "" {
		return spToken{}, fmt.Errorf("%w: get_token: %s (sp_code %s)", orders.ErrGateway, resp.Message, resp.SPCode)
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	tok := spToken{
		value:   resp.Token,
		storeID: resp.StoreID,
		// refresh a minute early
		expiresAt: s.now().Add(ttl - time.Minute),
	}
	s.mu.Lock()
	s.token = &tok
	s.mu.Unlock()
	return tok, nil
}

func (s *ShurjoPay) post(ctx context.Context, path, token string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: build %s: %v", orders.ErrGateway, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", orders.ErrGateway, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", orders.ErrGateway, path, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s returned %d", orders.ErrGateway, path, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", orders.ErrGateway, path, err)
	}
	return nil
}
