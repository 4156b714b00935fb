package domain

import "time"

// Quota задаёт ёмкость для пары товар/вариация: сколько неотменённых позиций
// может на неё ссылаться одновременно.
type Quota struct {
	ID          string
	Name        string
	ItemID      string
	VariationID string
	Size        int64
	// Used — текущее потребление; производная величина от активных позиций.
	Used      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available возвращает остаток ёмкости.
func (q *Quota) Available() int64 {
	left := q.Size - q.Used
	if left < 0 {
		return 0
	}
	return left
}

// QuotaDelta описывает изменение потребления для пары товар/вариация.
// Положительная Delta требует проверки ёмкости, отрицательная всегда проходит.
type QuotaDelta struct {
	ItemID      string
	VariationID string
	Delta       int64
}

// MergeQuotaDeltas складывает дельты по одинаковым ключам и отбрасывает нулевые.
func MergeQuotaDeltas(deltas []QuotaDelta) []QuotaDelta {
	type key struct{ item, variation string }

	sums := make(map[key]int64, len(deltas))
	order := make([]key, 0, len(deltas))
	for _, d := range deltas {
		k := key{d.ItemID, d.VariationID}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] += d.Delta
	}

	merged := make([]QuotaDelta, 0, len(order))
	for _, k := range order {
		if sums[k] == 0 {
			continue
		}
		merged = append(merged, QuotaDelta{ItemID: k.item, VariationID: k.variation, Delta: sums[k]})
	}
	return merged
}
