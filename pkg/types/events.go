package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentReconciledEvent 支付完成记账并分配到分期
type PaymentReconciledEvent struct {
	IntentToken  string          `json:"intent_token"`
	BookingID    uint            `json:"booking_id"`
	SubBookingID uint            `json:"sub_booking_id"`
	CustomerID   uint            `json:"customer_id"`
	Provider     string          `json:"provider"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	CollectionID string          `json:"collection_id"`
	Payer        string          `json:"payer"`
	ReconciledAt time.Time       `json:"reconciled_at"`
}

// SlotAllocation 一个分期本次分到的金额
type SlotAllocation struct {
	SlotID        uint            `json:"slot_id"`
	SlotIndex     int             `json:"slot_index"`
	AmountApplied decimal.Decimal `json:"amount_applied"`
}

type SlotsAllocatedEvent struct {
	IntentToken  string           `json:"intent_token"`
	BookingID    uint             `json:"booking_id"`
	SubBookingID uint             `json:"sub_booking_id"`
	Allocations  []SlotAllocation `json:"allocations"`
	Remaining    decimal.Decimal  `json:"remaining"` // 未能分配的金额
}

type LinkPaidEvent struct {
	LinkToken string    `json:"link_token"`
	BookingID uint      `json:"booking_id"`
	PaidAt    time.Time `json:"paid_at"`
}
