package intent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/flaboy/aira-splitpay/pkg/allocation"
	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/events"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/ledger"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/money"
	eventtypes "github.com/flaboy/aira-splitpay/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// Outcome 回调处理结果，HTTP 层据此应答
type Outcome string

const (
	OutcomeReconciled Outcome = "reconciled"
	OutcomeDuplicate  Outcome = "duplicate" // 已处理过
	OutcomeFailed     Outcome = "failed"
	OutcomePending    Outcome = "pending"
	OutcomeIgnored    Outcome = "ignored" // 找不到意图，或意图已失败
	OutcomeBusy       Outcome = "busy"    // 其它请求持有租约
)

// HandleCallback 验签并处理渠道回调。
// 签名错误时不做任何修改；记账失败时返回 ErrLedger，意图保留待重试。
func (s *Service) HandleCallback(ctx context.Context, provider models.Provider, req *types.CallbackRequest) (Outcome, error) {
	adapter := s.providers.Get(provider)
	if adapter == nil {
		return "", fmt.Errorf("%w: %s", errors.ErrProviderNotFound, provider)
	}

	res, err := adapter.ParseCallback(ctx, req)
	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidSignature) {
			slog.Warn("[IntentService] Invalid callback signature", "provider", provider, "error", err)
		}
		return "", err
	}

	in, err := s.findByCallback(ctx, provider, res)
	if err != nil {
		return "", err
	}
	if in == nil {
		slog.Warn("[IntentService] Callback for unknown intent", "provider", provider,
			"payment_id", res.PaymentID, "order_ref", res.OrderRef)
		return OutcomeIgnored, nil
	}

	switch res.Status {
	case types.CallbackPending:
		slog.Info("[IntentService] Callback pending", "intent", in.Token, "code", res.ResponseCode)
		return OutcomePending, nil
	case types.CallbackFailed:
		return s.handleFailure(ctx, in, res)
	case types.CallbackAuthorized:
		return s.handleAuthorized(ctx, adapter, in, res)
	default:
		return s.handleSuccess(ctx, in, res)
	}
}

func (s *Service) findByCallback(ctx context.Context, provider models.Provider, res *types.CallbackResult) (*models.PaymentIntent, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{"provider_payment_id", res.PaymentID},
		{"provider_order_ref", res.OrderRef},
		{"provider_reference", res.Reference},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		var in models.PaymentIntent
		err := s.db.WithContext(ctx).Where("provider = ? AND "+l.column+" = ?", provider, l.value).
			Order("id DESC").First(&in).Error
		if err == nil {
			// 授权码之类的支付号不保证唯一，订单号不一致时继续查找
			if res.OrderRef != "" && in.ProviderOrderRef != res.OrderRef {
				continue
			}
			return &in, nil
		}
		if !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: find intent: %v", errors.ErrPersistence, err)
		}
	}
	return nil, nil
}

func (s *Service) handleFailure(ctx context.Context, in *models.PaymentIntent, res *types.CallbackResult) (Outcome, error) {
	if in.Status.Terminal() {
		if in.Status == models.IntentStatusReconciled {
			slog.Warn("[IntentService] Failure callback after reconcile ignored", "intent", in.Token, "code", res.ResponseCode)
		}
		return OutcomeDuplicate, nil
	}

	release, ok, err := s.acquireLease(ctx, in)
	if err != nil || !ok {
		return OutcomeBusy, err
	}
	defer release()

	if err := s.markFailed(ctx, in, map[string]interface{}{
		"stage":         "callback",
		"response_code": res.ResponseCode,
		"payment_id":    res.PaymentID,
	}); err != nil {
		return "", err
	}
	return OutcomeFailed, nil
}

// terminalOutcome 意图已结束时回调不再生效
func terminalOutcome(in *models.PaymentIntent, res *types.CallbackResult) (Outcome, bool) {
	switch in.Status {
	case models.IntentStatusReconciled:
		slog.Info("[IntentService] Duplicate callback", "intent", in.Token)
		return OutcomeDuplicate, true
	case models.IntentStatusFailed:
		slog.Warn("[IntentService] Payment arrived for failed intent", "intent", in.Token,
			"payment_id", res.PaymentID, "status", res.Status, "amount", res.Amount.String())
		return OutcomeIgnored, true
	}
	return "", false
}

func (s *Service) handleSuccess(ctx context.Context, in *models.PaymentIntent, res *types.CallbackResult) (Outcome, error) {
	if outcome, done := terminalOutcome(in, res); done {
		return outcome, nil
	}

	release, ok, err := s.acquireLease(ctx, in)
	if err != nil {
		return "", err
	}
	if !ok {
		slog.Info("[IntentService] Callback already being processed", "intent", in.Token)
		return OutcomeBusy, nil
	}
	defer release()
	if in.Status.Terminal() {
		return OutcomeDuplicate, nil
	}
	return s.settle(ctx, in, res)
}

// handleAuthorized 付款人已在渠道确认。只有持有租约且意图未结束时才捕获，
// 已失败的意图不会再扣款。
func (s *Service) handleAuthorized(ctx context.Context, adapter payment.ProviderAdapter, in *models.PaymentIntent, res *types.CallbackResult) (Outcome, error) {
	capturer, ok := adapter.(payment.Capturer)
	if !ok {
		return "", fmt.Errorf("%w: %s does not capture payments", errors.ErrProviderRequest, in.Provider)
	}
	if outcome, done := terminalOutcome(in, res); done {
		return outcome, nil
	}

	release, ok, err := s.acquireLease(ctx, in)
	if err != nil {
		return "", err
	}
	if !ok {
		slog.Info("[IntentService] Callback already being processed", "intent", in.Token)
		return OutcomeBusy, nil
	}
	defer release()
	if outcome, done := terminalOutcome(in, res); done {
		return outcome, nil
	}

	captured, err := capturer.Capture(ctx, res)
	if err != nil {
		return "", err
	}
	switch captured.Status {
	case types.CallbackSucceeded:
		return s.settle(ctx, in, captured)
	case types.CallbackFailed:
		if err := s.markFailed(ctx, in, map[string]interface{}{
			"stage":         "capture",
			"response_code": captured.ResponseCode,
			"payment_id":    captured.PaymentID,
		}); err != nil {
			return "", err
		}
		return OutcomeFailed, nil
	default:
		slog.Info("[IntentService] Capture pending", "intent", in.Token, "code", captured.ResponseCode)
		return OutcomePending, nil
	}
}

// settle 在持有租约时写入回调事件并完成对账
func (s *Service) settle(ctx context.Context, in *models.PaymentIntent, res *types.CallbackResult) (Outcome, error) {
	amount := in.Amount
	if res.Amount.IsPositive() {
		if !money.Settled(res.Amount.Sub(in.Amount).Abs()) {
			slog.Warn("[IntentService] Callback amount differs from intent", "intent", in.Token,
				"intent_amount", in.Amount.String(), "callback_amount", res.Amount.String())
		}
		amount = res.Amount
	}

	if res.PaymentID != "" && in.ProviderPaymentID == "" {
		in.ProviderPaymentID = res.PaymentID
	}
	if err := in.AppendEvent(models.IntentEvent{Kind: models.EventCallback, At: s.now(), Data: map[string]interface{}{
		"status":        string(res.Status),
		"amount":        amount.String(),
		"payment_id":    res.PaymentID,
		"reference":     res.Reference,
		"response_code": res.ResponseCode,
	}}); err != nil {
		return "", err
	}
	if err := s.save(ctx, in, "provider_payment_id", "events"); err != nil {
		return "", err
	}

	if err := s.complete(ctx, in, amount); err != nil {
		return "", err
	}
	return OutcomeReconciled, nil
}

// acquireLease 用条件更新占用意图，返回释放函数。租约过期后其它请求可以接手。
func (s *Service) acquireLease(ctx context.Context, in *models.PaymentIntent) (func(), bool, error) {
	token := uuid.NewString()
	now := s.now()
	until := now.Add(s.settleLease)

	res := s.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND (settle_token IS NULL OR settle_until IS NULL OR settle_until < ?)", in.ID, now).
		Updates(map[string]interface{}{"settle_token": token, "settle_until": until})
	if res.Error != nil {
		return nil, false, fmt.Errorf("%w: acquire settle lease: %v", errors.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	// 拿到租约后重新读取，之前的处理可能已经写入了事件
	var fresh models.PaymentIntent
	if err := s.db.WithContext(ctx).First(&fresh, in.ID).Error; err != nil {
		s.releaseLease(in.ID, token)
		return nil, false, fmt.Errorf("%w: reload intent: %v", errors.ErrPersistence, err)
	}
	*in = fresh

	return func() { s.releaseLease(in.ID, token) }, true, nil
}

func (s *Service) releaseLease(id uint, token string) {
	err := s.db.Model(&models.PaymentIntent{}).
		Where("id = ? AND settle_token = ?", id, token).
		Updates(map[string]interface{}{"settle_token": nil, "settle_until": nil}).Error
	if err != nil {
		slog.Error("[IntentService] Failed to release settle lease", "intent_id", id, "error", err)
	}
}

// complete 在持有租约时执行：记账（最多一次）、分配、更新链接、标记 reconciled
func (s *Service) complete(ctx context.Context, in *models.PaymentIntent, amount decimal.Decimal) error {
	if in.Status.Terminal() {
		return nil
	}
	log, err := in.EventLog()
	if err != nil {
		return fmt.Errorf("%w: intent %s has unreadable events: %v", errors.ErrPersistence, in.Token, err)
	}

	payer := in.PayerName
	collectionID := ""
	if ev, ok := log.LedgerRecorded(); ok {
		collectionID = cast.ToString(ev.Data["ledger_id"])
	} else {
		collectionID, err = s.ledger.RecordCollection(ctx, ledger.CollectionParams{
			BookingID:    in.BookingID,
			SubBookingID: in.SubBookingID,
			CustomerID:   in.CustomerID,
			Amount:       amount,
			Currency:     in.Currency,
			Provider:     string(in.Provider),
			Method:       in.Method,
			Reference:    in.ProviderOrderRef,
			Concept:      concept(in),
			Payer:        payer,
			CollectedAt:  s.now(),
		})
		if err != nil {
			return s.ledgerFailed(ctx, in, err)
		}
		if err := in.AppendEvent(models.IntentEvent{Kind: models.EventLedgerRecorded, At: s.now(), Data: map[string]interface{}{
			"ledger_id": collectionID,
			"amount":    amount.String(),
		}}); err != nil {
			return err
		}
		in.NeedsReconcile = false
		if err := s.save(ctx, in, "events", "needs_reconcile"); err != nil {
			slog.Error("[IntentService] Ledger recorded but marker not saved", "intent", in.Token,
				"ledger_id", collectionID, "error", err)
			return err
		}
		slog.Info("[IntentService] Collection recorded", "intent", in.Token, "ledger_id", collectionID)
	}

	if !log.Has(models.EventAllocated) {
		if err := s.allocate(ctx, in, amount, payer); err != nil {
			return err
		}
	}

	if err := s.settleLink(ctx, in, amount); err != nil {
		slog.Error("[IntentService] Failed to update payment link", "intent", in.Token, "error", err)
	}

	in.Status = models.IntentStatusReconciled
	in.NeedsReconcile = false
	if err := s.save(ctx, in, "status", "needs_reconcile"); err != nil {
		return err
	}
	slog.Info("[IntentService] Intent reconciled", "intent", in.Token, "amount", amount.String())

	if err := events.EmitPaymentReconciled(&eventtypes.PaymentReconciledEvent{
		IntentToken:  in.Token,
		BookingID:    in.BookingID,
		SubBookingID: in.SubBookingID,
		CustomerID:   in.CustomerID,
		Provider:     string(in.Provider),
		Amount:       amount,
		Currency:     in.Currency,
		CollectionID: collectionID,
		Payer:        payer,
		ReconciledAt: s.now(),
	}); err != nil {
		slog.Error("[IntentService] Event handler failed", "event", "payment_reconciled", "error", err)
	}
	return nil
}

func (s *Service) ledgerFailed(ctx context.Context, in *models.PaymentIntent, cause error) error {
	slog.Error("[IntentService] Ledger record failed", "intent", in.Token, "error", cause)
	if err := in.AppendEvent(models.IntentEvent{Kind: models.EventLedgerFailed, At: s.now(), Data: map[string]interface{}{
		"error": cause.Error(),
	}}); err != nil {
		return err
	}
	in.NeedsReconcile = true
	if err := s.save(ctx, in, "events", "needs_reconcile"); err != nil {
		return err
	}
	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, in.ID, cause.Error()); err != nil {
			slog.Error("[IntentService] Failed to enqueue retry", "intent", in.Token, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", errors.ErrLedger, cause)
}

// allocate 分期写入、付款历史和 allocated 标记在同一个事务中提交，
// 任何一步失败都不会留下没有标记的分配。
func (s *Service) allocate(ctx context.Context, in *models.PaymentIntent, amount decimal.Decimal, payer string) error {
	var result *allocation.Result
	prevEvents := in.Events
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		allocations := s.allocations.WithTx(tx)
		switch in.SlotMode {
		case models.SlotModeReserved:
			ids, err := in.SlotIDList()
			if err != nil {
				return fmt.Errorf("%w: intent %s slot ids: %v", errors.ErrPersistence, in.Token, err)
			}
			if result, err = allocations.AllocateIDs(ctx, ids, amount); err != nil {
				return err
			}
		case models.SlotModeOpen:
			var err error
			if result, err = allocations.AllocateOpen(ctx, in.BookingID, in.SubBookingID, amount); err != nil {
				return err
			}
		}

		entries := historyEntries(in, amount, payer, result, s.now())
		if err := s.statement.WithTx(tx).Record(ctx, entries...); err != nil {
			return err
		}

		data := map[string]interface{}{"amount": amount.String()}
		if result != nil {
			data["slots"] = len(result.Records)
			data["remaining"] = result.Remaining.String()
		}
		if err := in.AppendEvent(models.IntentEvent{Kind: models.EventAllocated, At: s.now(), Data: data}); err != nil {
			return err
		}
		return saveWith(ctx, tx, in, "events")
	})
	if err != nil {
		in.Events = prevEvents
		slog.Error("[IntentService] Allocation rolled back", "intent", in.Token, "error", err)
		return err
	}

	if result != nil {
		ev := &eventtypes.SlotsAllocatedEvent{
			IntentToken:  in.Token,
			BookingID:    in.BookingID,
			SubBookingID: in.SubBookingID,
			Remaining:    result.Remaining,
		}
		for _, r := range result.Records {
			ev.Allocations = append(ev.Allocations, eventtypes.SlotAllocation{
				SlotID: r.SlotID, SlotIndex: r.SlotIndex, AmountApplied: r.AmountApplied,
			})
		}
		if err := events.EmitSlotsAllocated(ev); err != nil {
			slog.Error("[IntentService] Event handler failed", "event", "slots_allocated", "error", err)
		}
	}
	return nil
}

// settleLink 付款覆盖链接金额后标记为已支付；整单链接以后台余额为准
func (s *Service) settleLink(ctx context.Context, in *models.PaymentIntent, amount decimal.Decimal) error {
	if in.LinkToken == "" {
		return nil
	}
	link, err := s.links.Get(ctx, in.LinkToken)
	if err != nil {
		return err
	}

	covered := false
	if link.Scope == models.LinkScopeWholeBookingTotal {
		balance, err := s.ledger.GetBookingBalance(ctx, link.BookingID, link.CustomerID)
		if err != nil {
			return err
		}
		covered = money.Settled(balance.Pending)
	} else {
		covered = money.Settled(link.AmountAuthorized.Sub(amount))
	}
	if !covered {
		return nil
	}

	paid, err := s.links.MarkPaid(ctx, link.Token)
	if err != nil || !paid {
		return err
	}
	if err := events.EmitLinkPaid(&eventtypes.LinkPaidEvent{
		LinkToken: link.Token,
		BookingID: link.BookingID,
		PaidAt:    s.now(),
	}); err != nil {
		slog.Error("[IntentService] Event handler failed", "event", "link_paid", "error", err)
	}
	return nil
}

func concept(in *models.PaymentIntent) string {
	if in.SubBookingID != 0 {
		return fmt.Sprintf("Payment %s booking %d/%d", in.ProviderOrderRef, in.BookingID, in.SubBookingID)
	}
	return fmt.Sprintf("Payment %s booking %d", in.ProviderOrderRef, in.BookingID)
}
