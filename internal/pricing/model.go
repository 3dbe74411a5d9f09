package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/amerfu/proxyd/internal/models"
)

// PriceOverride is a database-stored pricing entry that wins over the
// built-in table for its (provider, model) key, per spec §4.1's
// "authoritative store" tier. Mirrors the teacher's ModelPricing
// override table, collapsed to the fields the Pricing Registry (C1)
// actually consults and switched to decimal for exact cost math.
type PriceOverride struct {
	models.BaseModel
	Provider             Provider        `gorm:"index:idx_price_override_key,unique"`
	Model                string          `gorm:"index:idx_price_override_key,unique"`
	InputPerMtok         decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	OutputPerMtok        decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	CacheCreatePerMtok   decimal.Decimal `gorm:"type:numeric(18,6)"`
	CacheReadPerMtok     decimal.Decimal `gorm:"type:numeric(18,6)"`
	BatchDiscountPercent int
	EffectiveDate        time.Time
}

func (PriceOverride) TableName() string { return "price_overrides" }

func (o *PriceOverride) toDescriptor() ModelDescriptor {
	return ModelDescriptor{
		Provider:             o.Provider,
		Model:                o.Model,
		InputPerMtok:         o.InputPerMtok,
		OutputPerMtok:        o.OutputPerMtok,
		CacheCreatePerMtok:   o.CacheCreatePerMtok,
		CacheReadPerMtok:     o.CacheReadPerMtok,
		BatchDiscountPercent: o.BatchDiscountPercent,
		EffectiveDate:        o.EffectiveDate,
	}
}
