package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Balance 后台账务系统中预订的金额
type Balance struct {
	Total   decimal.Decimal `json:"total"`
	Paid    decimal.Decimal `json:"paid"`
	Pending decimal.Decimal `json:"pending"`
}

// LineItem 预订中的一个服务项（子预订）
type LineItem struct {
	SubBookingID uint            `json:"sub_booking_id"`
	Description  string          `json:"description"`
	Passengers   int             `json:"passengers"`
	Total        decimal.Decimal `json:"total"`
	Paid         decimal.Decimal `json:"paid"`
	Pending      decimal.Decimal `json:"pending"`
}

// CollectionParams 一笔收款的记账参数
type CollectionParams struct {
	BookingID    uint            `json:"booking_id"`
	SubBookingID uint            `json:"sub_booking_id,omitempty"`
	CustomerID   uint            `json:"customer_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Provider     string          `json:"provider"`
	Method       string          `json:"method"`
	Reference    string          `json:"reference"`
	Concept      string          `json:"concept"`
	Payer        string          `json:"payer"`
	CollectedAt  time.Time       `json:"collected_at"`
}

// Service 后台账务系统。RecordCollection 本身不保证幂等，由调用方负责。
type Service interface {
	GetBookingBalance(ctx context.Context, bookingID, customerID uint) (*Balance, error)
	RecordCollection(ctx context.Context, params CollectionParams) (string, error)
	GetBookingLineItems(ctx context.Context, bookingID, customerID uint) ([]LineItem, error)
}

// GroupTotals 计算分期数量和待付总额；subBookingID 为 0 时汇总整单
func GroupTotals(items []LineItem, subBookingID uint) (int, decimal.Decimal) {
	n := 0
	pending := decimal.Zero
	for _, item := range items {
		if subBookingID != 0 && item.SubBookingID != subBookingID {
			continue
		}
		n += item.Passengers
		pending = pending.Add(item.Pending)
	}
	return n, pending
}
