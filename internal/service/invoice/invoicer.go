package invoice

import (
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
)

// LogInvoicer имитирует перевыставление инвойса записью в лог.
// Реальная генерация PDF живёт во внешнем биллинге.
type LogInvoicer struct {
	logger *log.Entry
}

// NewLogInvoicer создаёт invoicer поверх logrus.
func NewLogInvoicer(logger *log.Entry) *LogInvoicer {
	if logger == nil {
		logger = log.WithField("component", "invoicer")
	}
	return &LogInvoicer{logger: logger}
}

// Reissue логирует запрос на перевыставление инвойса.
func (i *LogInvoicer) Reissue(order domain.Order) error {
	i.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"total":    order.Total.String(),
	}).Info("invoice reissue requested")
	return nil
}

// MockInvoicer — конфигурируемая заглушка Invoicer для тестов.
type MockInvoicer struct {
	ReissueErr   error
	ReissueCalls int
}

// NewMockInvoicer возвращает mock с успешным сценарием по умолчанию.
func NewMockInvoicer() *MockInvoicer {
	return &MockInvoicer{}
}

// Reissue считает вызовы и возвращает настроенную ошибку.
func (m *MockInvoicer) Reissue(order domain.Order) error {
	m.ReissueCalls++
	return m.ReissueErr
}

var _ domain.Invoicer = (*LogInvoicer)(nil)
var _ domain.Invoicer = (*MockInvoicer)(nil)
