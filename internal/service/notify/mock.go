package notify

import "github.com/avolkov/ticketchange/internal/domain"

// MockNotifier — конфигурируемая заглушка Notifier для тестов.
type MockNotifier struct {
	ChangedErr  error
	CanceledErr error

	ChangedCalls  int
	CanceledCalls int
	LastSummary   domain.ChangeSummary
	LastReason    string
}

// NewMockNotifier возвращает mock с успешным сценарием по умолчанию.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// OrderChanged запоминает сводку и возвращает настроенную ошибку.
func (m *MockNotifier) OrderChanged(order domain.Order, summary domain.ChangeSummary) error {
	m.ChangedCalls++
	m.LastSummary = summary
	return m.ChangedErr
}

// OrderCanceled запоминает причину и возвращает настроенную ошибку.
func (m *MockNotifier) OrderCanceled(order domain.Order, reason string) error {
	m.CanceledCalls++
	m.LastReason = reason
	return m.CanceledErr
}

var _ domain.Notifier = (*MockNotifier)(nil)
