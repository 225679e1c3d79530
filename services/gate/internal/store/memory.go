package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"augenpay/services/gate/internal/gate"
)

// MemoryStore keeps orders in a map. It implements the same conditional
// transitions as the Postgres store under a single mutex.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]gate.Order
}

func NewMemory() *MemoryStore {
	return &MemoryStore{orders: make(map[string]gate.Order)}
}

func (m *MemoryStore) CreateOrder(_ context.Context, o gate.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.OrderID]; ok {
		return fmt.Errorf("order %s already exists", o.OrderID)
	}
	m.orders[o.OrderID] = o
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, orderID string) (gate.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return gate.Order{}, gate.ErrOrderNotFound
	}
	return o, nil
}

func (m *MemoryStore) MarkPaid(_ context.Context, orderID, receiptAddress string, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, gate.ErrOrderNotFound
	}
	if o.Status != gate.OrderPending {
		return false, nil
	}
	o.Status = gate.OrderPaid
	o.ReceiptAddress = receiptAddress
	o.PaidAt = &paidAt
	m.orders[orderID] = o
	return true, nil
}

func (m *MemoryStore) MarkFulfilled(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, gate.ErrOrderNotFound
	}
	if o.Status != gate.OrderPaid {
		return false, nil
	}
	o.Status = gate.OrderFulfilled
	m.orders[orderID] = o
	return true, nil
}
