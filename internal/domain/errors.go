package domain

import "errors"

var (
	// Ошибка отсутствующего email покупателя.
	ErrEmailRequired = errors.New("email is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrPositionsRequired = errors.New("order must contain at least one position")
	// Ошибка отрицательного итога заказа.
	ErrTotalNegative = errors.New("order total must be non-negative")
	// Ошибка несоответствия итога заказа сумме активных позиций.
	ErrTotalMismatch = errors.New("order total does not match active positions sum")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrItemIDRequired = errors.New("position item_id is required")
	// Ошибка отрицательной цены позиции.
	ErrPositionPriceInvalid = errors.New("position price must be non-negative")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrItemNotFound возвращается, если товар не найден в каталоге.
	ErrItemNotFound = errors.New("item not found")
	// Ошибка отсутствующего названия товара.
	ErrItemNameRequired = errors.New("item name is required")
	// Ошибка отрицательной цены товара по умолчанию.
	ErrItemPriceInvalid = errors.New("item default price must be non-negative")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")

	// ErrOrderEmptied — набор изменений отменил бы все позиции заказа.
	// Для полной отмены предназначен order-level cancel, а не позиционные операции.
	ErrOrderEmptied = errors.New("change would leave the order without active positions; cancel the order instead")
	// ErrPositionNotInOrder — операция ссылается на позицию чужого заказа.
	ErrPositionNotInOrder = errors.New("position does not belong to this order")
	// ErrPositionAlreadyCanceled — позиция уже отменена (в базе или в текущем наборе).
	ErrPositionAlreadyCanceled = errors.New("position is already canceled")
	// ErrOperationConflict — на одну позицию заявлены несовместимые операции.
	ErrOperationConflict = errors.New("conflicting operations staged for the same position")
	// ErrChangeClosed — набор изменений уже зафиксирован или отклонён.
	ErrChangeClosed = errors.New("change set is no longer open")
	// ErrOrderNotChangeable — статус заказа не допускает изменение позиций.
	ErrOrderNotChangeable = errors.New("order status does not allow changes")

	// ErrQuotaExceeded — увеличение потребления превысило бы ёмкость квоты.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrQuotaNotFound — для товара/вариации не настроена квота.
	ErrQuotaNotFound = errors.New("quota not found")

	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего кода платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsChangeRejected сообщает, относится ли ошибка к валидации набора изменений
// (в отличие от инфраструктурных сбоев persist/quota backend).
func IsChangeRejected(err error) bool {
	return errors.Is(err, ErrOrderEmptied) ||
		errors.Is(err, ErrPositionNotInOrder) ||
		errors.Is(err, ErrPositionAlreadyCanceled) ||
		errors.Is(err, ErrOperationConflict) ||
		errors.Is(err, ErrOrderNotChangeable) ||
		errors.Is(err, ErrQuotaExceeded)
}
