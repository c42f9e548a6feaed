package slots

import (
	"context"
	"testing"
	"time"

	"github.com/flaboy/aira-splitpay/internal/testutil"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *testutil.Clock) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return NewStore(testutil.NewDB(t)).WithClock(clock.Now), clock
}

func dueOf(list []models.Slot) []decimal.Decimal {
	out := make([]decimal.Decimal, len(list))
	for i := range list {
		out[i] = list[i].AmountDue
	}
	return out
}

func TestEnsureSlotsCreatesDistribution(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	list, err := store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assertAmounts(t, amounts("33.34", "33.33", "33.33"), dueOf(list))
	for i, slot := range list {
		assert.Equal(t, i+1, slot.SlotIndex)
		assert.Equal(t, models.SlotStatusOpen, slot.Status)
	}

	// 再次调用不会重复创建
	again, err := store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Len(t, again, 3)
	assert.Equal(t, list[0].ID, again[0].ID)
}

func TestEnsureSlotsReseedsUntouchedGroup(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(100))
	require.NoError(t, err)

	list, err := store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(90))
	require.NoError(t, err)
	assertAmounts(t, amounts("30", "30", "30"), dueOf(list))
}

func TestEnsureSlotsNoReseedAfterPayment(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	list, err := store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(100))
	require.NoError(t, err)

	ok, err := store.ApplyPayment(ctx, &list[0], decimal.NewFromInt(10), models.SlotStatusOpen)
	require.NoError(t, err)
	require.True(t, ok)

	after, err := store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(90))
	require.NoError(t, err)
	assertAmounts(t, amounts("33.34", "33.33", "33.33"), dueOf(after))
}

func TestEnsureSlotsNoReseedWhileReserved(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	_, err := store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(100))
	require.NoError(t, err)
	n, err := store.CompareAndReserve(ctx, 1, 0, 1, "tok", clock.Now().Add(time.Minute), clock.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	list, err := store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(90))
	require.NoError(t, err)
	assertAmounts(t, amounts("33.34", "33.33", "33.33"), dueOf(list))

	// 预留过期后允许重新分配
	clock.Advance(2 * time.Minute)
	list, err = store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(90))
	require.NoError(t, err)
	assertAmounts(t, amounts("30", "30", "30"), dueOf(list))
}

func TestEnsureSlotsSubBookingsAreIndependent(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.EnsureSlots(ctx, 1, 0, 2, decimal.NewFromInt(50))
	require.NoError(t, err)
	sub, err := store.EnsureSlots(ctx, 1, 7, 4, decimal.NewFromInt(10))
	require.NoError(t, err)
	require.Len(t, sub, 4)
	assert.True(t, money.Sum(dueOf(sub)...).Equal(decimal.NewFromInt(10)))

	whole, err := store.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, whole, 2)
}

func TestCompareAndReserveAndRelease(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	_, err := store.EnsureSlots(ctx, 1, 0, 5, decimal.NewFromInt(100))
	require.NoError(t, err)

	n, err := store.CompareAndReserve(ctx, 1, 0, 2, "a", clock.Now().Add(time.Minute), clock.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	held, err := store.ListByToken(ctx, "a")
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, 1, held[0].SlotIndex)
	assert.Equal(t, 2, held[1].SlotIndex)

	available, err := store.ListAvailable(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, available, 3)

	released, err := store.ReleaseToken(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, released)

	available, err = store.ListAvailable(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, available, 5)
}

func TestApplyPaymentCompareAndSet(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	list, err := store.EnsureSlots(ctx, 1, 0, 1, decimal.NewFromInt(20))
	require.NoError(t, err)
	stale := list[0]

	ok, err := store.ApplyPayment(ctx, &list[0], decimal.NewFromInt(5), models.SlotStatusOpen)
	require.NoError(t, err)
	assert.True(t, ok)

	// stale 仍认为 amount_paid 为 0
	ok, err = store.ApplyPayment(ctx, &stale, decimal.NewFromInt(20), models.SlotStatusPaid)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := store.Get(ctx, list[0].ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5).Equal(fresh.AmountPaid))
}

func TestListByIDsKeepsOrder(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	list, err := store.EnsureSlots(ctx, 1, 0, 3, decimal.NewFromInt(30))
	require.NoError(t, err)

	got, err := store.ListByIDs(ctx, []uint{list[2].ID, list[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].SlotIndex)
	assert.Equal(t, 1, got[1].SlotIndex)
}
