package quota

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
)

type quotaKey struct {
	itemID      string
	variationID string
}

type quotaState struct {
	size int64
	used int64
}

// Service — in-memory учёт квот для локальной разработки и тестов.
// Проверка ёмкости и применение дельт происходят под одним мьютексом,
// поэтому check-then-act гонка между конкурентными commit'ами исключена.
type Service struct {
	mu     sync.Mutex
	quotas map[quotaKey]*quotaState
	logger *log.Entry
}

// NewService создаёт пустой учёт квот.
func NewService(logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "quota")
	}
	return &Service{
		quotas: make(map[quotaKey]*quotaState),
		logger: logger,
	}
}

// Define задаёт ёмкость для пары товар/вариация. Повторный вызов
// перезаписывает размер, сохраняя текущее потребление.
func (s *Service) Define(itemID, variationID string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := quotaKey{itemID, variationID}
	if state, ok := s.quotas[key]; ok {
		state.size = size
		return
	}
	s.quotas[key] = &quotaState{size: size}
}

// Consume инициализирует потребление существующими позициями (сидирование).
func (s *Service) Consume(itemID, variationID string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := quotaKey{itemID, variationID}
	state, ok := s.quotas[key]
	if !ok {
		state = &quotaState{size: 0}
		s.quotas[key] = state
	}
	state.used += n
}

// Available возвращает остаток ёмкости.
func (s *Service) Available(itemID, variationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.quotas[quotaKey{itemID, variationID}]
	if !ok {
		return 0, fmt.Errorf("item %s variation %q: %w", itemID, variationID, domain.ErrQuotaNotFound)
	}
	left := state.size - state.used
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Reserve атомарно применяет прирост потребления. Либо помещаются все дельты,
// либо ни одна.
func (s *Service) Reserve(orderID string, deltas []domain.QuotaDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Сначала проверяем все дельты, потом применяем.
	for _, d := range deltas {
		if d.Delta <= 0 {
			continue
		}
		state, ok := s.quotas[quotaKey{d.ItemID, d.VariationID}]
		if !ok {
			return fmt.Errorf("item %s variation %q: %w", d.ItemID, d.VariationID, domain.ErrQuotaNotFound)
		}
		if state.used+d.Delta > state.size {
			return fmt.Errorf("item %s variation %q: %w", d.ItemID, d.VariationID, domain.ErrQuotaExceeded)
		}
	}

	for _, d := range deltas {
		if d.Delta <= 0 {
			continue
		}
		s.quotas[quotaKey{d.ItemID, d.VariationID}].used += d.Delta
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"deltas":   len(deltas),
	}).Debug("quota reserved")
	return nil
}

// Release снимает потребление. Неизвестные квоты пропускаются с warning:
// релиз — компенсирующая операция и не должен ронять вызывающий код.
func (s *Service) Release(orderID string, deltas []domain.QuotaDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range deltas {
		state, ok := s.quotas[quotaKey{d.ItemID, d.VariationID}]
		if !ok {
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"item_id":  d.ItemID,
			}).Warn("release for unknown quota skipped")
			continue
		}
		state.used -= d.Delta
		if state.used < 0 {
			state.used = 0
		}
	}
	return nil
}

var _ domain.QuotaService = (*Service)(nil)
