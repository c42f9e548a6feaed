package models

import (
	"time"

	"github.com/flaboy/aira-splitpay/pkg/database"
	"github.com/shopspring/decimal"
)

type HistoryType string

const (
	HistoryTypePayment  HistoryType = "payment"
	HistoryTypeReversal HistoryType = "reversal"
)

// HistoryEntry 对账单中的一行，只追加不修改
type HistoryEntry struct {
	ID           uint            `gorm:"primaryKey" json:"-"`
	BookingID    uint            `gorm:"not null;index" json:"booking_id"`
	SubBookingID uint            `gorm:"not null;default:0" json:"sub_booking_id"`
	IntentID     uint            `gorm:"not null;default:0;index" json:"-"`
	SlotID       uint            `gorm:"not null;default:0" json:"slot_id,omitempty"`
	Date         time.Time       `gorm:"not null" json:"date"`
	Type         HistoryType     `gorm:"size:20;not null" json:"type"`
	Concept      string          `gorm:"size:255" json:"concept"`
	Payer        string          `gorm:"size:255" json:"payer"`
	Amount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	CreatedAt    time.Time       `json:"-"`
}

func (h *HistoryEntry) TableName() string {
	return "gp_payment_history"
}

func init() {
	database.RegisterAutoMigrateModels(&HistoryEntry{})
}
