package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockAuthority is a mock billing authority for testing.
// Simulates the approval flow without calling a remote service.
type MockAuthority struct {
	// CreateSubscriptionChargeFunc allows customizing charge creation behavior
	CreateSubscriptionChargeFunc func(ctx context.Context, params CreateChargeParams) (*Charge, error)

	// GetSubscriptionChargeFunc allows customizing charge lookup behavior
	GetSubscriptionChargeFunc func(ctx context.Context, params GetChargeParams) (*Charge, error)

	// Charges stores created charges for retrieval
	Charges map[string]*Charge

	// CreateCalls records every charge creation request
	CreateCalls []CreateChargeParams

	// CallLog tracks method calls for test assertions
	CallLog []string

	mu sync.Mutex
}

// NewMockAuthority creates a new mock billing authority.
func NewMockAuthority() *MockAuthority {
	return &MockAuthority{
		Charges: make(map[string]*Charge),
		CallLog: []string{},
	}
}

// CreateSubscriptionCharge creates a mock pending charge.
func (m *MockAuthority) CreateSubscriptionCharge(ctx context.Context, params CreateChargeParams) (*Charge, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateSubscriptionCharge(%d, %s)", params.CompanyID, params.Body.Name))
	m.CreateCalls = append(m.CreateCalls, params)
	fn := m.CreateSubscriptionChargeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, params)
	}

	id := uuid.New().String()
	charge := &Charge{
		ID:         id,
		Status:     ChargeStatusPending,
		ConfirmURL: "https://billing.mock/confirm/" + id,
	}

	m.mu.Lock()
	m.Charges[id] = charge
	m.mu.Unlock()

	return charge, nil
}

// GetSubscriptionCharge retrieves a mock charge.
func (m *MockAuthority) GetSubscriptionCharge(ctx context.Context, params GetChargeParams) (*Charge, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetSubscriptionCharge(%s)", params.SubscriptionID))
	fn := m.GetSubscriptionChargeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	charge, exists := m.Charges[params.SubscriptionID]
	if !exists {
		return nil, ErrChargeNotFound
	}

	c := *charge
	c.ConfirmURL = ""
	return &c, nil
}

// SetChargeStatus registers or updates a charge as the authority would
// after the merchant acts on it.
func (m *MockAuthority) SetChargeStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if charge, ok := m.Charges[id]; ok {
		charge.Status = status
		return
	}
	m.Charges[id] = &Charge{ID: id, Status: status}
}

// Calls returns a copy of the call log.
func (m *MockAuthority) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}
