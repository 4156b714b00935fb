package quota

import "github.com/avolkov/ticketchange/internal/domain"

// MockService — конфигурируемая заглушка QuotaService для тестов.
type MockService struct {
	AvailableLeft int64
	AvailableErr  error
	ReserveErr    error
	ReleaseErr    error

	AvailableCalls int
	ReserveCalls   int
	ReleaseCalls   int
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{AvailableLeft: 100}
}

// Available возвращает заранее настроенный остаток и считает вызовы.
func (m *MockService) Available(itemID, variationID string) (int64, error) {
	m.AvailableCalls++
	return m.AvailableLeft, m.AvailableErr
}

// Reserve возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockService) Reserve(orderID string, deltas []domain.QuotaDelta) error {
	m.ReserveCalls++
	return m.ReserveErr
}

// Release возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockService) Release(orderID string, deltas []domain.QuotaDelta) error {
	m.ReleaseCalls++
	return m.ReleaseErr
}

var _ domain.QuotaService = (*MockService)(nil)
