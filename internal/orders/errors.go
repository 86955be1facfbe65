package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrProductNotFound   = fmt.Errorf("product %w", ErrNotFound)
	ErrOrderNotFound     = fmt.Errorf("order %w", ErrNotFound)
	ErrInvalidRequest    = errors.New("invalid request")
	ErrOutOfStock        = errors.New("out of stock")
	ErrGateway           = errors.New("payment gateway error")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
)
