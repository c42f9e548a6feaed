package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flaboy/aira-splitpay/pkg/ledger"
	"github.com/shopspring/decimal"
)

var ErrUnavailable = errors.New("ledger unavailable")

// Fake 内存实现，记录调用次数，可以注入失败
type Fake struct {
	mu          sync.Mutex
	balances    map[uint]*ledger.Balance
	items       map[uint][]ledger.LineItem
	collections []ledger.CollectionParams

	// FailRecord 为 true 时 RecordCollection 返回 ErrUnavailable
	FailRecord bool
}

func NewFake() *Fake {
	return &Fake{
		balances: make(map[uint]*ledger.Balance),
		items:    make(map[uint][]ledger.LineItem),
	}
}

// SetBooking 设置预订的服务项，余额由服务项汇总
func (f *Fake) SetBooking(bookingID uint, items ...ledger.LineItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[bookingID] = items
	b := &ledger.Balance{Total: decimal.Zero, Paid: decimal.Zero, Pending: decimal.Zero}
	for _, item := range items {
		b.Total = b.Total.Add(item.Total)
		b.Paid = b.Paid.Add(item.Paid)
		b.Pending = b.Pending.Add(item.Pending)
	}
	f.balances[bookingID] = b
}

func (f *Fake) SetFailRecord(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailRecord = fail
}

func (f *Fake) GetBookingBalance(ctx context.Context, bookingID, customerID uint) (*ledger.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[bookingID]
	if !ok {
		return nil, fmt.Errorf("booking %d not found", bookingID)
	}
	copied := *b
	return &copied, nil
}

func (f *Fake) RecordCollection(ctx context.Context, params ledger.CollectionParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRecord {
		return "", ErrUnavailable
	}
	f.collections = append(f.collections, params)
	if b, ok := f.balances[params.BookingID]; ok {
		b.Paid = b.Paid.Add(params.Amount)
		b.Pending = b.Pending.Sub(params.Amount)
	}
	return fmt.Sprintf("COL-%d", len(f.collections)), nil
}

func (f *Fake) GetBookingLineItems(ctx context.Context, bookingID, customerID uint) ([]ledger.LineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.items[bookingID]
	if !ok {
		return nil, fmt.Errorf("booking %d not found", bookingID)
	}
	return append([]ledger.LineItem(nil), items...), nil
}

// Collections 已记账的收款
func (f *Fake) Collections() []ledger.CollectionParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.CollectionParams(nil), f.collections...)
}
