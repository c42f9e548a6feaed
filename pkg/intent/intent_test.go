package intent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/flaboy/aira-splitpay/internal/testutil"
	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/events"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/cardgateway"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/ledger"
	"github.com/flaboy/aira-splitpay/pkg/ledger/ledgertest"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/paymentlink"
	"github.com/flaboy/aira-splitpay/pkg/slots"
	"github.com/flaboy/aira-splitpay/pkg/statement"
	eventtypes "github.com/flaboy/aira-splitpay/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const cardSecret = "sq7HjrUOBfKmC576ILgskD5srU870gJ7"

type recordingQueue struct {
	mu  sync.Mutex
	ids []uint
}

func (q *recordingQueue) Enqueue(ctx context.Context, intentID uint, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, intentID)
	return nil
}

func (q *recordingQueue) IDs() []uint {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uint(nil), q.ids...)
}

// stubProvider 模拟需要服务端请求的渠道
type stubProvider struct {
	name   models.Provider
	status models.IntentStatus
	err    error

	mu            sync.Mutex
	callback      *types.CallbackResult
	captureStatus types.CallbackStatus
	captures      int
	initiates     int
}

func (p *stubProvider) Init() error           { return nil }
func (p *stubProvider) Name() models.Provider { return p.name }

func (p *stubProvider) Initiate(ctx context.Context, req *types.InitiateRequest) (*types.InitiateResult, error) {
	p.mu.Lock()
	p.initiates++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &types.InitiateResult{
		Status:            p.status,
		RedirectURL:       "https://bank.test/pay/" + req.OrderRef,
		ProviderPaymentID: "bt_" + req.OrderRef,
		ProviderReference: req.OrderRef,
	}, nil
}

func (p *stubProvider) ParseCallback(ctx context.Context, req *types.CallbackRequest) (*types.CallbackResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.callback != nil {
		res := *p.callback
		return &res, nil
	}
	return &types.CallbackResult{Status: types.CallbackPending, PaymentID: req.Query.Get("id")}, nil
}

func (p *stubProvider) Capture(ctx context.Context, res *types.CallbackResult) (*types.CallbackResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
	captured := *res
	captured.Status = p.captureStatus
	if captured.Status == "" {
		captured.Status = types.CallbackSucceeded
	}
	return &captured, nil
}

func (p *stubProvider) reply(res *types.CallbackResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = res
}

func (p *stubProvider) Captures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captures
}

type env struct {
	db        *gorm.DB
	svc       *Service
	ledger    *ledgertest.Fake
	clock     *testutil.Clock
	queue     *recordingQueue
	store     *slots.Store
	links     *paymentlink.Service
	statement *statement.Service
	signer    cardgateway.Signer
	failing   *stubProvider
	bank      *stubProvider
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	fake := ledgertest.NewFake()
	fake.SetBooking(1, ledger.LineItem{Description: "Trip", Passengers: 5, Total: decimal.NewFromInt(100), Pending: decimal.NewFromInt(100)})

	registry := payment.NewRegistry()
	require.NoError(t, registry.Register(cardgateway.New(cardgateway.Config{
		URL: "https://gateway.test/pay", MerchantCode: "999008881", Secret: cardSecret,
	})))
	bank := &stubProvider{name: models.ProviderBankTransferGateway, status: models.IntentStatusInitiated}
	require.NoError(t, registry.Register(bank))
	failing := &stubProvider{name: models.ProviderPayPal, err: fmt.Errorf("connection refused")}
	require.NoError(t, registry.Register(failing))

	e := &env{
		db:        db,
		ledger:    fake,
		clock:     clock,
		queue:     &recordingQueue{},
		store:     slots.NewStore(db).WithClock(clock.Now),
		links:     paymentlink.NewService(db, fake, "EUR").WithClock(clock.Now),
		statement: statement.NewService(db).WithClock(clock.Now),
		signer:    cardgateway.NewHMACSigner(cardSecret),
		failing:   failing,
		bank:      bank,
	}
	e.svc = NewService(Options{
		DB:             db,
		Ledger:         fake,
		Providers:      registry,
		Slots:          e.store,
		Links:          e.links,
		Statement:      e.statement,
		Queue:          e.queue,
		BuildURL:       func(path string) string { return "https://pay.example.com" + path },
		ReservationTTL: 15 * time.Minute,
		SettleLease:    time.Minute,
		Now:            clock.Now,
	})
	return e
}

func (e *env) groupToken(t *testing.T) string {
	t.Helper()
	gt, err := e.links.CreateGroupToken(context.Background(), 1, 0, 0, nil)
	require.NoError(t, err)
	return gt.Token
}

func (e *env) checkoutSlots(t *testing.T, count int) *models.PaymentIntent {
	t.Helper()
	out, err := e.svc.CheckoutSlots(context.Background(), SlotCheckoutRequest{
		GroupToken: e.groupToken(t),
		Count:      count,
		Provider:   models.ProviderCardGateway,
		PayerName:  "Ana",
	})
	require.NoError(t, err)
	return out.Intent
}

func (e *env) cardNotification(t *testing.T, orderRef, response string, amount decimal.Decimal) *types.CallbackRequest {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"Ds_Order":             orderRef,
		"Ds_Response":          response,
		"Ds_Amount":            amount.Shift(2).StringFixed(0),
		"Ds_AuthorisationCode": "A" + orderRef,
	})
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(raw)
	form := url.Values{}
	form.Set("Ds_SignatureVersion", cardgateway.SignatureVersion)
	form.Set("Ds_MerchantParameters", encoded)
	form.Set("Ds_Signature", e.signer.Sign(encoded, orderRef))
	return &types.CallbackRequest{Form: form, Query: url.Values{}}
}

func (e *env) reload(t *testing.T, in *models.PaymentIntent) *models.PaymentIntent {
	t.Helper()
	fresh, err := e.svc.GetByID(context.Background(), in.ID)
	require.NoError(t, err)
	return fresh
}

func (e *env) paidSlots(t *testing.T) []int {
	t.Helper()
	list, err := e.store.List(context.Background(), 1, 0)
	require.NoError(t, err)
	var paid []int
	for _, s := range list {
		if s.Status == models.SlotStatusPaid {
			paid = append(paid, s.SlotIndex)
		}
	}
	return paid
}

func TestCheckoutSlots(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	out, err := e.svc.CheckoutSlots(ctx, SlotCheckoutRequest{
		GroupToken: e.groupToken(t),
		Count:      2,
		Provider:   models.ProviderCardGateway,
	})
	require.NoError(t, err)

	require.Len(t, out.Reservation.Slots, 2)
	assert.Equal(t, 1, out.Reservation.Slots[0].SlotIndex)
	assert.Equal(t, 2, out.Reservation.Slots[1].SlotIndex)
	assert.True(t, decimal.NewFromInt(40).Equal(out.Link.AmountAuthorized))
	assert.Equal(t, "https://gateway.test/pay", out.Result.FormURL)
	assert.NotEmpty(t, out.Result.FormFields["Ds_Signature"])

	in := e.reload(t, out.Intent)
	assert.Equal(t, models.IntentStatusRedirecting, in.Status)
	assert.Equal(t, models.SlotModeReserved, in.SlotMode)
	assert.True(t, decimal.NewFromInt(40).Equal(in.Amount))
	assert.Equal(t, out.IntentToken, in.Token)
	assert.Equal(t, in.ProviderOrderRef, in.ProviderReference)
	ids, err := in.SlotIDList()
	require.NoError(t, err)
	assert.Equal(t, out.Reservation.SlotIDs(), ids)

	log, err := in.EventLog()
	require.NoError(t, err)
	assert.True(t, log.Has(models.EventCreated))
	assert.True(t, log.Has(models.EventProviderRequest))
	assert.True(t, log.Has(models.EventProviderResponse))

	// 剩余 3 个分期，再要 4 个失败
	_, err = e.svc.CheckoutSlots(ctx, SlotCheckoutRequest{GroupToken: e.groupToken(t), Count: 4, Provider: models.ProviderCardGateway})
	assert.ErrorIs(t, err, errors.ErrNoSlotsRemaining)

	available, err := e.svc.AvailableSlots(ctx, e.groupToken(t), 0)
	require.NoError(t, err)
	assert.Len(t, available, 3)
}

func TestWebhookIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var reconciled []*eventtypes.PaymentReconciledEvent
	recorder := &eventRecorder{onReconciled: func(ev *eventtypes.PaymentReconciledEvent) { reconciled = append(reconciled, ev) }}
	events.SetEventHandler(recorder)
	t.Cleanup(func() { events.SetEventHandler(nil) })

	in := e.checkoutSlots(t, 2)
	notification := e.cardNotification(t, in.ProviderOrderRef, "0000", decimal.NewFromInt(40))

	outcome, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)

	outcome, err = e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	collections := e.ledger.Collections()
	require.Len(t, collections, 1)
	assert.True(t, decimal.NewFromInt(40).Equal(collections[0].Amount))
	assert.Equal(t, in.ProviderOrderRef, collections[0].Reference)
	assert.Equal(t, "Ana", collections[0].Payer)

	assert.Equal(t, []int{1, 2}, e.paidSlots(t))

	history, err := e.statement.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.True(t, decimal.NewFromInt(40).Equal(statement.Total(history)))

	fresh := e.reload(t, in)
	assert.Equal(t, models.IntentStatusReconciled, fresh.Status)
	assert.False(t, fresh.NeedsReconcile)
	assert.Nil(t, fresh.SettleToken)
	log, err := fresh.EventLog()
	require.NoError(t, err)
	marker, ok := log.LedgerRecorded()
	require.True(t, ok)
	assert.Equal(t, "COL-1", marker.Data["ledger_id"])
	assert.Equal(t, 1, log.Count(models.EventAllocated))

	link, err := e.links.Get(ctx, in.LinkToken)
	require.NoError(t, err)
	assert.Equal(t, models.LinkStatusPaid, link.Status)

	require.Len(t, reconciled, 1)
	assert.Equal(t, "COL-1", reconciled[0].CollectionID)
	assert.Equal(t, 1, recorder.linkPaid)
	assert.Equal(t, 1, recorder.allocated)
}

func TestConcurrentWebhooksRecordOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.checkoutSlots(t, 1)
	notification := e.cardNotification(t, in.ProviderOrderRef, "0000", decimal.NewFromInt(20))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, e.ledger.Collections(), 1)
	assert.Equal(t, []int{1}, e.paidSlots(t))
}

func TestInvalidSignatureChangesNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.reload(t, e.checkoutSlots(t, 1))
	notification := e.cardNotification(t, in.ProviderOrderRef, "0000", decimal.NewFromInt(20))
	notification.Form.Set("Ds_Signature", cardgateway.NewHMACSigner("wrong").Sign(notification.Form.Get("Ds_MerchantParameters"), in.ProviderOrderRef))

	_, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
	assert.ErrorIs(t, err, errors.ErrInvalidSignature)

	assert.Empty(t, e.ledger.Collections())
	assert.Empty(t, e.paidSlots(t))
	fresh := e.reload(t, in)
	assert.Equal(t, in.Events, fresh.Events)
	assert.Equal(t, models.IntentStatusRedirecting, fresh.Status)
}

func TestLedgerFailureIsRetried(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.checkoutSlots(t, 2)
	notification := e.cardNotification(t, in.ProviderOrderRef, "0000", decimal.NewFromInt(40))

	e.ledger.SetFailRecord(true)
	_, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
	assert.ErrorIs(t, err, errors.ErrLedger)

	fresh := e.reload(t, in)
	assert.True(t, fresh.NeedsReconcile)
	assert.False(t, fresh.Status.Terminal())
	assert.Nil(t, fresh.SettleToken)
	assert.Equal(t, []uint{in.ID}, e.queue.IDs())
	assert.Empty(t, e.paidSlots(t))

	// 仍然失败时保持待重试
	n, err := e.svc.ReconcilePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	e.ledger.SetFailRecord(false)
	n, err = e.svc.ReconcilePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fresh = e.reload(t, in)
	assert.Equal(t, models.IntentStatusReconciled, fresh.Status)
	assert.False(t, fresh.NeedsReconcile)
	assert.Len(t, e.ledger.Collections(), 1)
	assert.Equal(t, []int{1, 2}, e.paidSlots(t))

	// 之后的重复通知不会再记账
	outcome, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, e.ledger.Collections(), 1)

	n, err = e.svc.ReconcilePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAllocationRollsBackWhenHistoryFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.checkoutSlots(t, 2)
	notification := e.cardNotification(t, in.ProviderOrderRef, "0000", decimal.NewFromInt(25))

	require.NoError(t, e.db.Migrator().DropTable(&models.HistoryEntry{}))
	_, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
	assert.ErrorIs(t, err, errors.ErrPersistence)

	list, err := e.store.List(ctx, 1, 0)
	require.NoError(t, err)
	for _, slot := range list {
		assert.True(t, slot.AmountPaid.IsZero(), "slot %d paid %s", slot.SlotIndex, slot.AmountPaid)
	}
	fresh := e.reload(t, in)
	assert.False(t, fresh.Status.Terminal())
	log, err := fresh.EventLog()
	require.NoError(t, err)
	_, recorded := log.LedgerRecorded()
	assert.True(t, recorded)
	assert.False(t, log.Has(models.EventAllocated))

	require.NoError(t, e.db.AutoMigrate(&models.HistoryEntry{}))
	outcome, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)

	list, err = e.store.List(ctx, 1, 0)
	require.NoError(t, err)
	paid := decimal.Zero
	for _, slot := range list {
		paid = paid.Add(slot.AmountPaid)
	}
	assert.Equal(t, "25.00", paid.StringFixed(2))
	assert.Equal(t, "20.00", list[0].AmountPaid.StringFixed(2))
	assert.Equal(t, "5.00", list[1].AmountPaid.StringFixed(2))
	assert.Equal(t, []int{1}, e.paidSlots(t))
	assert.Len(t, e.ledger.Collections(), 1)

	history, err := e.statement.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "25.00", statement.Total(history).StringFixed(2))
}

func TestReconcileSkipsLedgerWhenMarkerExists(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.checkoutSlots(t, 1)
	in = e.reload(t, in)
	require.NoError(t, in.AppendEvent(models.IntentEvent{Kind: models.EventCallback, At: e.clock.Now(),
		Data: map[string]interface{}{"status": "succeeded", "amount": "20"}}))
	require.NoError(t, in.AppendEvent(models.IntentEvent{Kind: models.EventLedgerRecorded, At: e.clock.Now(),
		Data: map[string]interface{}{"ledger_id": "COL-EXISTING"}}))
	in.NeedsReconcile = true
	require.NoError(t, e.db.Save(in).Error)

	require.NoError(t, e.svc.Reconcile(ctx, in.ID))

	assert.Empty(t, e.ledger.Collections())
	assert.Equal(t, []int{1}, e.paidSlots(t))
	assert.Equal(t, models.IntentStatusReconciled, e.reload(t, in).Status)
}

func TestFailedCallbackReleasesReservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.checkoutSlots(t, 2)

	outcome, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, e.cardNotification(t, in.ProviderOrderRef, "0190", decimal.NewFromInt(40)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, models.IntentStatusFailed, e.reload(t, in).Status)

	available, err := e.store.ListAvailable(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, available, 5)

	// 失败后到达的成功通知只记录日志
	outcome, err = e.svc.HandleCallback(ctx, models.ProviderCardGateway, e.cardNotification(t, in.ProviderOrderRef, "0000", decimal.NewFromInt(40)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, e.ledger.Collections())
	assert.Equal(t, models.IntentStatusFailed, e.reload(t, in).Status)
}

func TestCallbackForUnknownIntent(t *testing.T) {
	e := newEnv(t)

	outcome, err := e.svc.HandleCallback(context.Background(), models.ProviderCardGateway,
		e.cardNotification(t, "9999ZZZZZZZZ", "0000", decimal.NewFromInt(10)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	_, err = e.svc.HandleCallback(context.Background(), "unknown", &types.CallbackRequest{})
	assert.ErrorIs(t, err, errors.ErrProviderNotFound)
}

func TestCallbackWhileLeaseHeld(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.checkoutSlots(t, 1)
	until := e.clock.Now().Add(time.Minute)
	require.NoError(t, e.db.Model(&models.PaymentIntent{}).Where("id = ?", in.ID).
		Updates(map[string]interface{}{"settle_token": "other", "settle_until": until}).Error)

	notification := e.cardNotification(t, in.ProviderOrderRef, "0000", decimal.NewFromInt(20))
	outcome, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBusy, outcome)
	assert.Empty(t, e.ledger.Collections())

	// 租约过期后可以接手
	e.clock.Advance(2 * time.Minute)
	outcome, err = e.svc.HandleCallback(ctx, models.ProviderCardGateway, notification)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
	assert.Len(t, e.ledger.Collections(), 1)
}

func TestInitiateFailureReleasesReservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.CheckoutSlots(ctx, SlotCheckoutRequest{GroupToken: e.groupToken(t), Count: 2, Provider: models.ProviderPayPal})
	assert.ErrorIs(t, err, errors.ErrProviderRequest)

	available, err := e.store.ListAvailable(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, available, 5)

	var in models.PaymentIntent
	require.NoError(t, e.db.Where("provider = ?", models.ProviderPayPal).First(&in).Error)
	assert.Equal(t, models.IntentStatusFailed, in.Status)
	log, err := in.EventLog()
	require.NoError(t, err)
	assert.True(t, log.Has(models.EventFailed))
}

func TestCheckoutWholeBookingLink(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.store.EnsureSlots(ctx, 1, 0, 5, decimal.NewFromInt(100))
	require.NoError(t, err)
	link, err := e.links.Create(ctx, paymentlink.CreateLinkRequest{BookingID: 1, Scope: models.LinkScopeWholeBookingTotal})
	require.NoError(t, err)

	out, err := e.svc.CheckoutLink(ctx, LinkCheckoutRequest{LinkToken: link.Token, Provider: models.ProviderCardGateway})
	require.NoError(t, err)
	in := e.reload(t, out.Intent)
	assert.Equal(t, models.SlotModeOpen, in.SlotMode)
	assert.True(t, decimal.NewFromInt(100).Equal(in.Amount))

	_, err = e.svc.HandleCallback(ctx, models.ProviderCardGateway, e.cardNotification(t, in.ProviderOrderRef, "0000", decimal.NewFromInt(100)))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, e.paidSlots(t))
	stored, err := e.links.Get(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, models.LinkStatusPaid, stored.Status)

	_, err = e.svc.CheckoutLink(ctx, LinkCheckoutRequest{LinkToken: link.Token, Provider: models.ProviderCardGateway})
	assert.ErrorIs(t, err, errors.ErrLinkNotActive)
}

func TestCheckoutPartialLinkAllocatesOpenSlots(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.store.EnsureSlots(ctx, 1, 0, 5, decimal.NewFromInt(100))
	require.NoError(t, err)
	link, err := e.links.Create(ctx, paymentlink.CreateLinkRequest{BookingID: 1, Scope: models.LinkScopePartialAmount, AmountAuthorized: decimal.NewFromInt(30)})
	require.NoError(t, err)

	out, err := e.svc.CheckoutLink(ctx, LinkCheckoutRequest{LinkToken: link.Token, Provider: models.ProviderCardGateway})
	require.NoError(t, err)
	_, err = e.svc.HandleCallback(ctx, models.ProviderCardGateway, e.cardNotification(t, out.Intent.ProviderOrderRef, "0000", decimal.NewFromInt(30)))
	require.NoError(t, err)

	list, err := e.store.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(list[0].AmountPaid))
	assert.True(t, decimal.NewFromInt(10).Equal(list[1].AmountPaid))
	assert.True(t, list[2].AmountPaid.IsZero())

	stored, err := e.links.Get(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, models.LinkStatusPaid, stored.Status)
}

func TestReturnOK(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	out, err := e.svc.CheckoutSlots(ctx, SlotCheckoutRequest{GroupToken: e.groupToken(t), Count: 1, Provider: models.ProviderBankTransferGateway})
	require.NoError(t, err)
	in := e.reload(t, out.Intent)
	assert.Equal(t, models.IntentStatusInitiated, in.Status)
	assert.Equal(t, "bt_"+in.ProviderOrderRef, in.ProviderPaymentID)

	returned, err := e.svc.ReturnOK(ctx, in.Token)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusReturnedOK, returned.Status)

	again, err := e.svc.ReturnOK(ctx, in.Token)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusReturnedOK, again.Status)

	_, err = e.svc.ReturnOK(ctx, "pi-doesnotexist")
	assert.ErrorIs(t, err, errors.ErrIntentNotFound)

	assert.False(t, e.svc.SettlesOnReturn(models.ProviderCardGateway))
}

type eventRecorder struct {
	onReconciled func(*eventtypes.PaymentReconciledEvent)
	allocated    int
	linkPaid     int
}

func (r *eventRecorder) OnPaymentReconciled(ev *eventtypes.PaymentReconciledEvent) error {
	if r.onReconciled != nil {
		r.onReconciled(ev)
	}
	return nil
}

func (r *eventRecorder) OnSlotsAllocated(ev *eventtypes.SlotsAllocatedEvent) error {
	r.allocated++
	return nil
}

func (r *eventRecorder) OnLinkPaid(ev *eventtypes.LinkPaidEvent) error {
	r.linkPaid++
	return nil
}

func TestCallbackPaymentIDMustMatchOrderRef(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.checkoutSlots(t, 1)
	second := e.checkoutSlots(t, 1)

	// 两个意图拿到相同的授权码
	require.NoError(t, e.db.Model(&models.PaymentIntent{}).Where("id = ?", first.ID).
		Update("provider_payment_id", "A"+second.ProviderOrderRef).Error)

	outcome, err := e.svc.HandleCallback(ctx, models.ProviderCardGateway, e.cardNotification(t, second.ProviderOrderRef, "0000", decimal.NewFromInt(20)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)

	assert.Equal(t, models.IntentStatusReconciled, e.reload(t, second).Status)
	assert.Equal(t, models.IntentStatusRedirecting, e.reload(t, first).Status)
	assert.Equal(t, []int{2}, e.paidSlots(t))
}

func (e *env) checkoutBank(t *testing.T, count int) *models.PaymentIntent {
	t.Helper()
	out, err := e.svc.CheckoutSlots(context.Background(), SlotCheckoutRequest{
		GroupToken: e.groupToken(t),
		Count:      count,
		Provider:   models.ProviderBankTransferGateway,
		PayerName:  "Ana",
	})
	require.NoError(t, err)
	return out.Intent
}

func TestAuthorizedPaymentIsCapturedOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.checkoutBank(t, 2)
	e.bank.reply(&types.CallbackResult{
		Status:    types.CallbackAuthorized,
		PaymentID: in.ProviderPaymentID,
		OrderRef:  in.ProviderOrderRef,
		Amount:    decimal.NewFromInt(40),
	})

	outcome, err := e.svc.HandleCallback(ctx, models.ProviderBankTransferGateway, &types.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
	assert.Equal(t, 1, e.bank.Captures())
	assert.Len(t, e.ledger.Collections(), 1)
	assert.Equal(t, []int{1, 2}, e.paidSlots(t))

	outcome, err = e.svc.HandleCallback(ctx, models.ProviderBankTransferGateway, &types.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, e.bank.Captures())
	assert.Len(t, e.ledger.Collections(), 1)
}

func TestFailedIntentIsNotCaptured(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.checkoutBank(t, 2)
	e.bank.reply(&types.CallbackResult{
		Status:    types.CallbackFailed,
		PaymentID: in.ProviderPaymentID,
		OrderRef:  in.ProviderOrderRef,
	})
	outcome, err := e.svc.HandleCallback(ctx, models.ProviderBankTransferGateway, &types.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	e.bank.reply(&types.CallbackResult{
		Status:    types.CallbackAuthorized,
		PaymentID: in.ProviderPaymentID,
		OrderRef:  in.ProviderOrderRef,
		Amount:    decimal.NewFromInt(40),
	})
	outcome, err = e.svc.HandleCallback(ctx, models.ProviderBankTransferGateway, &types.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Zero(t, e.bank.Captures())
	assert.Empty(t, e.ledger.Collections())
	assert.Equal(t, models.IntentStatusFailed, e.reload(t, in).Status)
}

func TestDeclinedCaptureFailsIntent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in := e.checkoutBank(t, 1)
	e.bank.captureStatus = types.CallbackFailed
	e.bank.reply(&types.CallbackResult{
		Status:    types.CallbackAuthorized,
		PaymentID: in.ProviderPaymentID,
		OrderRef:  in.ProviderOrderRef,
	})

	outcome, err := e.svc.HandleCallback(ctx, models.ProviderBankTransferGateway, &types.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, e.bank.Captures())
	assert.Empty(t, e.ledger.Collections())

	available, err := e.store.ListAvailable(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, available, 5)
}

func TestInitiateRecordsProviderRequest(t *testing.T) {
	e := newEnv(t)

	in := e.reload(t, e.checkoutBank(t, 1))
	log, err := in.EventLog()
	require.NoError(t, err)
	req, ok := log.Last(models.EventProviderRequest)
	require.True(t, ok)
	assert.Equal(t, in.ProviderOrderRef, req.Data["order_ref"])
	assert.Equal(t, "https://pay.example.com/payment/bank_transfer_gateway/webhook", req.Data["notify_url"])
	assert.True(t, log.Has(models.EventProviderResponse))
}

func TestInitiateStopsOnUnreadableEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	in, err := e.svc.CreateIntent(ctx, CreateIntentRequest{
		BookingID: 1,
		Amount:    decimal.NewFromInt(20),
		Provider:  models.ProviderBankTransferGateway,
	})
	require.NoError(t, err)
	in.Events = datatypes.JSON("{")

	_, err = e.svc.Initiate(ctx, in, InitiateOptions{})
	require.Error(t, err)
	assert.Zero(t, e.bank.initiates)
	assert.Equal(t, models.IntentStatusCreated, e.reload(t, in).Status)
}
