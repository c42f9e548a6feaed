package allocation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/money"
	"github.com/flaboy/aira-splitpay/pkg/slots"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 单个分期并发修改时的最大重试次数
const maxCASAttempts = 3

// Record 一笔付款落在某个分期上的金额
type Record struct {
	SlotID        uint            `json:"slot_id"`
	SlotIndex     int             `json:"slot_index"`
	AmountApplied decimal.Decimal `json:"amount_applied"`
}

type Result struct {
	Records   []Record        `json:"records"`
	Applied   decimal.Decimal `json:"applied"`
	Remaining decimal.Decimal `json:"remaining"`
}

type Service struct {
	store *slots.Store
}

func NewService(store *slots.Store) *Service {
	return &Service{store: store}
}

// WithTx 分期的读写都在事务 tx 中执行
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{store: s.store.WithTx(tx)}
}

// Allocate 按传入顺序把 amountPaid 依次填到分期上，不重新排序
//
// 已付清的分期 open 为 0 会被跳过，所以用同一金额重复执行不会再产生变化。
func (s *Service) Allocate(ctx context.Context, list []models.Slot, amountPaid decimal.Decimal) (*Result, error) {
	if amountPaid.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", errors.ErrValidation, amountPaid)
	}

	result := &Result{Records: []Record{}, Applied: decimal.Zero}
	remaining := amountPaid
	for i := range list {
		if money.Settled(remaining) {
			break
		}
		applied, err := s.applyOne(ctx, &list[i], remaining)
		if err != nil {
			return nil, err
		}
		if applied.IsZero() {
			continue
		}
		remaining = remaining.Sub(applied)
		result.Applied = result.Applied.Add(applied)
		result.Records = append(result.Records, Record{
			SlotID:        list[i].ID,
			SlotIndex:     list[i].SlotIndex,
			AmountApplied: applied,
		})
	}
	result.Remaining = remaining

	slog.Info("[Allocation] Applied payment", "amount", amountPaid.String(), "slots", len(result.Records),
		"remaining", remaining.String())
	return result, nil
}

// AllocateOpen 按 slot_index 顺序分配到分组下所有未付分期
func (s *Service) AllocateOpen(ctx context.Context, bookingID, subBookingID uint, amountPaid decimal.Decimal) (*Result, error) {
	list, err := s.store.ListOpen(ctx, bookingID, subBookingID)
	if err != nil {
		return nil, err
	}
	return s.Allocate(ctx, list, amountPaid)
}

// AllocateIDs 按给定 id 顺序分配
func (s *Service) AllocateIDs(ctx context.Context, ids []uint, amountPaid decimal.Decimal) (*Result, error) {
	list, err := s.store.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.Allocate(ctx, list, amountPaid)
}

// applyOne 对一个分期做 compare-and-set；冲突时重新读取再计算
func (s *Service) applyOne(ctx context.Context, slot *models.Slot, remaining decimal.Decimal) (decimal.Decimal, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		open := slot.Open()
		if open.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, nil
		}
		apply := decimal.Min(open, remaining)
		newPaid := slot.AmountPaid.Add(apply)
		status := models.SlotStatusOpen
		if money.Settled(slot.AmountDue.Sub(newPaid)) {
			status = models.SlotStatusPaid
		}

		ok, err := s.store.ApplyPayment(ctx, slot, newPaid, status)
		if err != nil {
			return decimal.Zero, err
		}
		if ok {
			slot.AmountPaid = newPaid
			slot.Status = status
			slot.ReservationToken = nil
			slot.ReservedUntil = nil
			return apply, nil
		}

		fresh, err := s.store.Get(ctx, slot.ID)
		if err != nil {
			return decimal.Zero, err
		}
		*slot = *fresh
	}
	return decimal.Zero, fmt.Errorf("%w: slot %d changed concurrently", errors.ErrPersistence, slot.ID)
}
