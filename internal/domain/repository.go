package domain

// OrderRepository описывает требования к хранилищу заказов.
// Save и SaveAll сохраняют заказ вместе с позициями как одну атомарную единицу.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByEmail возвращает заказы покупателя с опциональным ограничением на количество.
	ListByEmail(email string, limit int) ([]Order, error)
	// Save применяет обновления к заказу и его позициям с учётом optimistic locking.
	Save(order Order) error
	// SaveAll атомарно сохраняет несколько заказов (split: исходный + новый).
	// Заказы с Version == 0, отсутствующие в хранилище, создаются.
	SaveAll(orders []Order) error
}

// ItemRepository описывает каталог товаров.
type ItemRepository interface {
	Create(item Item) error
	// Get возвращает товар или ErrItemNotFound.
	Get(id string) (Item, error)
}

// PaymentRepository хранит платежи по заказам.
type PaymentRepository interface {
	Create(payment Payment) error
	ListByOrder(orderID string) ([]Payment, error)
	// Save обновляет состояние платежа.
	Save(payment Payment) error
}
