package memory

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

type Users struct {
	mu    sync.RWMutex
	users map[string]orders.User
}

func NewUsers(seed ...orders.User) *Users {
	u := &Users{users: make(map[string]orders.User, len(seed))}
	for _, user := range seed {
		u.users[user.ID] = user
	}
	return u
}

func (u *Users) FindUser(ctx context.Context, id string) (orders.User, error) {
	_ = ctx
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[id]
	if !ok {
		return orders.User{}, orders.ErrUserNotFound
	}
	return user, nil
}
