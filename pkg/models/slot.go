package models

import (
	"time"

	"github.com/flaboy/aira-splitpay/pkg/database"
	"github.com/flaboy/aira-splitpay/pkg/money"
	"github.com/shopspring/decimal"
)

type SlotStatus string

const (
	SlotStatusOpen SlotStatus = "open"
	SlotStatusPaid SlotStatus = "paid"
)

// Slot 预订待付余额中的一个固定分期
type Slot struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	BookingID        uint            `gorm:"not null;uniqueIndex:idx_gp_slot_key,priority:1" json:"booking_id"`
	SubBookingID     uint            `gorm:"not null;default:0;uniqueIndex:idx_gp_slot_key,priority:2" json:"sub_booking_id"` // 0 表示整单
	SlotIndex        int             `gorm:"not null;uniqueIndex:idx_gp_slot_key,priority:3" json:"slot_index"`
	AmountDue        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount_due"`
	AmountPaid       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount_paid"`
	Status           SlotStatus      `gorm:"size:10;not null;default:'open'" json:"status"`
	ReservationToken *string         `gorm:"size:64;index" json:"-"`
	ReservedUntil    *time.Time      `gorm:"index" json:"reserved_until,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (s *Slot) TableName() string {
	return "gp_slots"
}

// Open 未付金额
func (s *Slot) Open() decimal.Decimal {
	return money.Open(s.AmountDue, s.AmountPaid)
}

func (s *Slot) IsPaid() bool {
	return s.Status == SlotStatusPaid || money.Settled(s.AmountDue.Sub(s.AmountPaid))
}

// ReservedAt 在 now 时刻是否仍被某个预留占用
func (s *Slot) ReservedAt(now time.Time) bool {
	return s.ReservedUntil != nil && !s.ReservedUntil.Before(now)
}

func init() {
	database.RegisterAutoMigrateModels(&Slot{})
}
