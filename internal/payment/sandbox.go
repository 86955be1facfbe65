package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

// Sandbox is an in-process gateway for local runs and tests. Sessions get
// generated transaction ids; Settle sets the status QueryStatus reports.
type Sandbox struct {
	// CheckoutBase prefixes returned checkout URLs.
	CheckoutBase string

	mu       sync.Mutex
	sessions map[string]SessionRequest
	records  map[string][]orders.Settlement
	failOpen error
}

func NewSandbox(checkoutBase string) *Sandbox {
	return &Sandbox{
		CheckoutBase: checkoutBase,
		sessions:     make(map[string]SessionRequest),
		records:      make(map[string][]orders.Settlement),
	}
}

func (s *Sandbox) OpenSession(ctx context.Context, req SessionRequest) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, fmt.Errorf("%w: %v", orders.ErrGateway, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpen != nil {
		return Session{}, fmt.Errorf("%w: %v", orders.ErrGateway, s.failOpen)
	}
	txID := "SP" + uuid.NewString()[:8]
	s.sessions[txID] = req
	return Session{
		CheckoutURL:       s.CheckoutBase + "/pay/" + txID,
		TransactionID:     txID,
		TransactionStatus: "Initiated",
	}, nil
}

func (s *Sandbox) QueryStatus(ctx context.Context, transactionID string) ([]orders.Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", orders.ErrGateway, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[transactionID]
	out := make([]orders.Settlement, len(recs))
	copy(out, recs)
	return out, nil
}

// Settle makes bankStatus the newest status record for txID.
func (s *Sandbox) Settle(txID, bankStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[txID]; !ok {
		return fmt.Errorf("sandbox transaction %s: %w", txID, orders.ErrNotFound)
	}
	rec := orders.Settlement{
		BankStatus:        bankStatus,
		SPCode:            sandboxCode(bankStatus),
		SPMessage:         bankStatus,
		TransactionStatus: "Completed",
		Method:            "sandbox",
		DateTime:          time.Now().UTC().Format("2006-01-02 15:04:05"),
	}
	s.records[txID] = append([]orders.Settlement{rec}, s.records[txID]...)
	return nil
}

// FailSessions makes every OpenSession fail with err until called with nil.
func (s *Sandbox) FailSessions(err error) {
	s.mu.Lock()
	s.failOpen = err
	s.mu.Unlock()
}

// Session returns the request a transaction was opened with.
func (s *Sandbox) Session(txID string) (SessionRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.sessions[txID]
	return req, ok
}

func sandboxCode(bankStatus string) string {
	switch bankStatus {
	case orders.BankSuccess:
		return "1000"
	case orders.BankCancel:
		return "1002"
	default:
		return "1001"
	}
}
