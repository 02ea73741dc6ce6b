// Package creditnote implements the CreditNote aggregate: a credit issued to
// a customer for returned goods, settled against outstanding invoices the
// same way as a deposit. Credit notes are immutable once created.
package creditnote

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Item is one returned product line.
type Item struct {
	ProductCode string
	Returned    int64
	Price       money.Money
}

// CreditNote aggregate.
type CreditNote struct {
	ID           uuid.UUID
	CustomerCode string
	CreatedBy    string
	Observation  string
	Items        []Item
	Total        money.Money
	CreatedAt    time.Time
}

// Made event carries the credit total driving allocation.
type Made struct {
	CreditNoteID uuid.UUID
	CustomerCode string
	Total        money.Money
	Items        []Item
	CreatedBy    string
}

// New validates the items and computes the credit total.
func New(customerCode, createdBy, observation string, items []Item) (*CreditNote, Made, error) {
	if customerCode == "" {
		return nil, Made{}, shared.Validationf("credit note requires a customer code")
	}
	if createdBy == "" {
		return nil, Made{}, shared.Validationf("credit note requires a creator")
	}
	if len(items) == 0 {
		return nil, Made{}, shared.Validationf("credit note requires at least one item")
	}

	total := money.Zero(items[0].Price.Currency())
	for _, item := range items {
		if item.ProductCode == "" {
			return nil, Made{}, shared.Validationf("credit note item requires a product code")
		}
		if item.Returned <= 0 {
			return nil, Made{}, shared.Validationf("item %s: returned quantity must be positive", item.ProductCode)
		}
		if !item.Price.IsPositive() {
			return nil, Made{}, shared.Validationf("item %s: price must be positive", item.ProductCode)
		}
		line := money.FromCents(item.Price.Cents()*item.Returned, item.Price.Currency())
		var err error
		if total, err = total.Add(line); err != nil {
			return nil, Made{}, err
		}
	}

	cn := &CreditNote{
		ID:           uuid.New(),
		CustomerCode: customerCode,
		CreatedBy:    createdBy,
		Observation:  observation,
		Items:        items,
		Total:        total,
		CreatedAt:    time.Now(),
	}
	return cn, Made{
		CreditNoteID: cn.ID,
		CustomerCode: cn.CustomerCode,
		Total:        cn.Total,
		Items:        cn.Items,
		CreatedBy:    cn.CreatedBy,
	}, nil
}
