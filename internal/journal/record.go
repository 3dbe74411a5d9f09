// Package journal implements the Journal (C11): an append-only sink
// for one Record per completed request, per spec §4.11.
package journal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/amerfu/proxyd/internal/models"
)

// Record is the Journal Record (spec §3): created once, immutable.
type Record struct {
	models.BaseModel
	RequestID      string         `gorm:"uniqueIndex;not null"`
	UserID         uuid.UUID      `gorm:"type:uuid;index"`
	AgentID        string         `gorm:"index"`
	Provider       string
	ModelOriginal  string
	ModelEffective string
	Endpoint       string
	InputTokens    int64
	OutputTokens   int64
	CacheTokens    int64
	CostUSD        decimal.Decimal `gorm:"type:numeric(18,6);not null;default:0"`
	LatencyMS      int64
	StatusCode     int
	Streaming      bool
	BillingQuality string         // "authoritative" | "estimated", per §4.3
	Detections     datatypes.JSON `gorm:"type:jsonb"` // flattened security.DetectionResult summaries, may be empty
	StartTime      time.Time      `gorm:"index"` // ordering key (spec §5 "monotonically ordered by start_time")
}

func (Record) TableName() string { return "journal_records" }
