package ledger

import (
	"context"
	"math"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
	"github.com/google/uuid"
)

const MaxPageSize = 100

type Page struct {
	Items    []models.TransactionView `json:"transactions"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"pageSize"`
	Total    int                      `json:"total"`
}

// History returns one page of the transactions accountID sent or received,
// newest first. A page past the end is empty but still reports the total.
func (l *Ledger) History(ctx context.Context, accountID uuid.UUID, page, pageSize int) (Page, error) {
	if page < 0 {
		return Page{}, apperr.Validation("page must not be negative")
	}
	if pageSize < 0 || pageSize > MaxPageSize {
		return Page{}, apperr.Validation("pageSize must be between 0 and %d", MaxPageSize)
	}

	limit := pageSize
	offset := 0
	if pageSize > 0 {
		if page > math.MaxInt32/pageSize {
			limit = 0
		} else {
			offset = page * pageSize
		}
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	items, total, err := l.store.ListTransactions(ctx, accountID, limit, offset)
	if err != nil {
		return Page{}, storeError(err)
	}
	if items == nil {
		items = []models.TransactionView{}
	}

	return Page{
		Items:    items,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}, nil
}
