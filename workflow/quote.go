package workflow

import (
	"context"

	"github.com/afrimobile/shares_backend/models"
	"github.com/afrimobile/shares_backend/utils"
)

// QuoteShares prices a prospective purchase against current tier prices and
// sold counts. The quote is advisory until a transaction captures it; the
// capacity it saw is re-checked when that transaction settles.
func QuoteShares(ctx context.Context, kind models.ShareKind, shares int64, currency models.Currency) (*models.ShareQuote, error) {
	if !kind.Valid() {
		return nil, utils.NewValidationError("unknown share kind %q", kind)
	}
	if !currency.Valid() {
		return nil, utils.NewValidationError("unknown currency %q", currency)
	}
	if shares <= 0 {
		return nil, utils.NewValidationError("share quantity must be positive, got %d", shares)
	}

	regular, err := models.GetRegularShareConfig(ctx)
	if err != nil {
		return nil, err
	}
	if kind == models.ShareKindCoFounder {
		coFounder, err := models.GetCoFounderShareConfig(ctx)
		if err != nil {
			return nil, err
		}
		return coFounder.Quote(shares, currency, regular)
	}
	return regular.Quote(shares, currency)
}

// ShareAvailability reports the effective per-tier availability after
// co-founder sales have consumed their share of regular capacity.
func ShareAvailability(ctx context.Context) ([]models.TierAvailability, *models.CoFounderShareConfig, error) {
	regular, err := models.GetRegularShareConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	coFounder, err := models.GetCoFounderShareConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	return models.EffectiveAvailability(regular, coFounder), coFounder, nil
}
