package intent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Reconcile 对已收到成功回调但未完成的意图重新执行记账和分配
func (s *Service) Reconcile(ctx context.Context, intentID uint) error {
	in, err := s.GetByID(ctx, intentID)
	if err != nil {
		return err
	}
	if in.Status.Terminal() {
		return nil
	}

	release, ok, err := s.acquireLease(ctx, in)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("[IntentService] Reconcile skipped, intent is being processed", "intent", in.Token)
		return nil
	}
	defer release()
	if in.Status.Terminal() {
		return nil
	}

	amount, err := successAmount(in)
	if err != nil {
		return err
	}
	return s.complete(ctx, in, amount)
}

// ReconcilePending 处理一批 needs_reconcile 的意图，返回成功的数量
func (s *Service) ReconcilePending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("needs_reconcile = ? AND status NOT IN ?", true, terminalStatuses).
		Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("%w: list pending intents: %v", errors.ErrPersistence, err)
	}

	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.Reconcile(ctx, id); err != nil {
			slog.Warn("[IntentService] Reconcile failed", "intent_id", id, "error", err)
			continue
		}
		done++
	}
	if len(ids) > 0 {
		slog.Info("[IntentService] Reconcile batch finished", "candidates", len(ids), "reconciled", done)
	}
	return done, nil
}

// successAmount 取最后一次成功回调记录的金额
func successAmount(in *models.PaymentIntent) (decimal.Decimal, error) {
	log, err := in.EventLog()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: intent %s has unreadable events: %v", errors.ErrPersistence, in.Token, err)
	}
	for i := len(log) - 1; i >= 0; i-- {
		e := log[i]
		if e.Kind != models.EventCallback || cast.ToString(e.Data["status"]) != string(types.CallbackSucceeded) {
			continue
		}
		amount, err := decimal.NewFromString(cast.ToString(e.Data["amount"]))
		if err != nil || !amount.IsPositive() {
			return in.Amount, nil
		}
		return amount, nil
	}
	return decimal.Zero, fmt.Errorf("%w: intent %s has no successful callback", errors.ErrValidation, in.Token)
}
