package slots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/flaboy/aira-splitpay/pkg/money"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 分期的持久化。amount_paid、status 和预留字段只能通过
// CompareAndReserve、ReleaseToken、ApplyPayment 修改。
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock 替换时间来源（测试用）
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithTx 返回在事务 tx 中执行的副本
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, now: s.now}
}

func (s *Store) Now() time.Time {
	return s.now().UTC()
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", errors.ErrPersistence, op, err)
}

// List 按 slot_index 返回一个分组下的全部分期
func (s *Store) List(ctx context.Context, bookingID, subBookingID uint) ([]models.Slot, error) {
	var list []models.Slot
	err := s.db.WithContext(ctx).
		Where("booking_id = ? AND sub_booking_id = ?", bookingID, subBookingID).
		Order("slot_index ASC").
		Find(&list).Error
	if err != nil {
		return nil, persistenceError("list slots", err)
	}
	return list, nil
}

// ListOpen 返回还有未付金额的分期，按 slot_index 排序
func (s *Store) ListOpen(ctx context.Context, bookingID, subBookingID uint) ([]models.Slot, error) {
	var list []models.Slot
	err := s.db.WithContext(ctx).
		Where("booking_id = ? AND sub_booking_id = ? AND status = ? AND amount_due - amount_paid > ?",
			bookingID, subBookingID, models.SlotStatusOpen, money.Epsilon.InexactFloat64()).
		Order("slot_index ASC").
		Find(&list).Error
	if err != nil {
		return nil, persistenceError("list open slots", err)
	}
	return list, nil
}

// ListAvailable 返回在 now 时刻可以被预留的分期
func (s *Store) ListAvailable(ctx context.Context, bookingID, subBookingID uint) ([]models.Slot, error) {
	var list []models.Slot
	err := s.db.WithContext(ctx).
		Where("booking_id = ? AND sub_booking_id = ? AND status = ? AND (reserved_until IS NULL OR reserved_until < ?) AND amount_due - amount_paid > ?",
			bookingID, subBookingID, models.SlotStatusOpen, s.Now(), money.Epsilon.InexactFloat64()).
		Order("slot_index ASC").
		Find(&list).Error
	if err != nil {
		return nil, persistenceError("list available slots", err)
	}
	return list, nil
}

// ListByIDs 按传入 id 的顺序返回分期，不存在的 id 被忽略
func (s *Store) ListByIDs(ctx context.Context, ids []uint) ([]models.Slot, error) {
	if len(ids) == 0 {
		return []models.Slot{}, nil
	}
	var rows []models.Slot
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, persistenceError("load slots", err)
	}
	byID := make(map[uint]models.Slot, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	list := make([]models.Slot, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			list = append(list, r)
		}
	}
	return list, nil
}

// ListByToken 返回某个预留令牌持有的分期
func (s *Store) ListByToken(ctx context.Context, token string) ([]models.Slot, error) {
	var list []models.Slot
	err := s.db.WithContext(ctx).
		Where("reservation_token = ?", token).
		Order("slot_index ASC").
		Find(&list).Error
	if err != nil {
		return nil, persistenceError("list reserved slots", err)
	}
	return list, nil
}

func (s *Store) Get(ctx context.Context, id uint) (*models.Slot, error) {
	var slot models.Slot
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&slot).Error; err != nil {
		return nil, persistenceError("load slot", err)
	}
	return &slot, nil
}

// EnsureSlots 保证分组下至少有 n 个分期
//
// 已存在的分期默认保持金额不变；只有在没有任何付款、没有未过期的预留，
// 且金额总和与 totalPending 相差超过 0.01 时才重新分配。
func (s *Store) EnsureSlots(ctx context.Context, bookingID, subBookingID uint, n int, totalPending decimal.Decimal) ([]models.Slot, error) {
	if bookingID == 0 || n < 0 || totalPending.IsNegative() {
		return nil, fmt.Errorf("%w: booking=%d n=%d total=%s", errors.ErrValidation, bookingID, n, totalPending)
	}

	existing, err := s.List(ctx, bookingID, subBookingID)
	if err != nil {
		return nil, err
	}

	amounts := Distribute(totalPending, n)
	if len(existing) < n {
		missing := make([]models.Slot, 0, n-len(existing))
		have := make(map[int]bool, len(existing))
		for _, slot := range existing {
			have[slot.SlotIndex] = true
		}
		for i := 1; i <= n; i++ {
			if have[i] {
				continue
			}
			missing = append(missing, models.Slot{
				BookingID:    bookingID,
				SubBookingID: subBookingID,
				SlotIndex:    i,
				AmountDue:    amounts[i-1],
				AmountPaid:   decimal.Zero,
				Status:       models.SlotStatusOpen,
			})
		}
		if len(missing) > 0 {
			// 并发创建时由唯一索引去重
			err := s.db.WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&missing).Error
			if err != nil {
				return nil, persistenceError("create slots", err)
			}
		}
		if existing, err = s.List(ctx, bookingID, subBookingID); err != nil {
			return nil, err
		}
	}

	if s.needsReseed(existing, totalPending) {
		if err := s.reseed(ctx, bookingID, subBookingID, existing, totalPending); err != nil {
			return nil, err
		}
		return s.List(ctx, bookingID, subBookingID)
	}
	return existing, nil
}

func (s *Store) needsReseed(list []models.Slot, totalPending decimal.Decimal) bool {
	if len(list) == 0 {
		return false
	}
	now := s.Now()
	sum := decimal.Zero
	for i := range list {
		if list[i].AmountPaid.GreaterThan(money.Epsilon) || list[i].ReservedAt(now) {
			return false
		}
		sum = sum.Add(list[i].AmountDue)
	}
	return sum.Sub(totalPending).Abs().GreaterThan(money.Epsilon)
}

// reseed 用一条语句重算整组金额，语句内再次检查没有付款和有效预留，
// 避免检查之后有人抢先预留或付款时只改了一部分。
func (s *Store) reseed(ctx context.Context, bookingID, subBookingID uint, list []models.Slot, totalPending decimal.Decimal) error {
	amounts := Distribute(totalPending, len(list))
	now := s.Now()

	var sb strings.Builder
	args := make([]interface{}, 0, len(list)*2+8)
	sb.WriteString("UPDATE gp_slots SET amount_due = CASE slot_index")
	for i, slot := range list {
		sb.WriteString(" WHEN ? THEN ?")
		args = append(args, slot.SlotIndex, amounts[i])
	}
	sb.WriteString(" ELSE amount_due END, updated_at = ?")
	sb.WriteString(" WHERE booking_id = ? AND sub_booking_id = ?")
	sb.WriteString(" AND (SELECT COUNT(*) FROM (SELECT id FROM gp_slots WHERE booking_id = ? AND sub_booking_id = ?")
	sb.WriteString(" AND (amount_paid > ? OR (reserved_until IS NOT NULL AND reserved_until >= ?))) AS busy) = 0")
	args = append(args, now, bookingID, subBookingID, bookingID, subBookingID, money.Epsilon.InexactFloat64(), now)

	res := s.db.WithContext(ctx).Exec(sb.String(), args...)
	if res.Error != nil {
		return persistenceError("reseed slots", res.Error)
	}
	return nil
}

// CompareAndReserve 用一条条件更新把最多 count 个可预留的分期标记为 token 所有，
// 返回实际更新的行数。
func (s *Store) CompareAndReserve(ctx context.Context, bookingID, subBookingID uint, count int, token string, until, now time.Time) (int64, error) {
	db := s.db.WithContext(ctx)
	eps := money.Epsilon.InexactFloat64()
	// sqlite 以 REAL 存金额，差值判断有误差，以 status 为准
	open := models.SlotStatusOpen
	until = until.UTC()
	now = now.UTC()

	var res *gorm.DB
	if db.Dialector.Name() == "mysql" {
		res = db.Exec(`UPDATE gp_slots SET reservation_token = ?, reserved_until = ?, updated_at = ?
			WHERE booking_id = ? AND sub_booking_id = ? AND status = ?
			AND (reserved_until IS NULL OR reserved_until < ?)
			AND amount_due - amount_paid > ?
			ORDER BY slot_index ASC LIMIT ?`,
			token, until, now, bookingID, subBookingID, open, now, eps, count)
	} else {
		// 外层条件重复检查可用性：并发时子查询可能选中已被别人抢走的行
		res = db.Exec(`UPDATE gp_slots SET reservation_token = ?, reserved_until = ?, updated_at = ?
			WHERE id IN (
				SELECT id FROM gp_slots
				WHERE booking_id = ? AND sub_booking_id = ? AND status = ?
				AND (reserved_until IS NULL OR reserved_until < ?)
				AND amount_due - amount_paid > ?
				ORDER BY slot_index ASC LIMIT ?
			)
			AND status = ?
			AND (reserved_until IS NULL OR reserved_until < ?)
			AND amount_due - amount_paid > ?`,
			token, until, now, bookingID, subBookingID, open, now, eps, count, open, now, eps)
	}
	if res.Error != nil {
		return 0, persistenceError("reserve slots", res.Error)
	}
	return res.RowsAffected, nil
}

// ReleaseToken 释放某个令牌持有的全部预留
func (s *Store) ReleaseToken(ctx context.Context, token string) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		"UPDATE gp_slots SET reservation_token = NULL, reserved_until = NULL, updated_at = ? WHERE reservation_token = ?",
		s.Now(), token)
	if res.Error != nil {
		return 0, persistenceError("release slots", res.Error)
	}
	return res.RowsAffected, nil
}

// ApplyPayment 以 amount_paid 为比较条件写入新的已付金额，同时清除预留。
// 返回 false 表示该分期已被并发修改。
func (s *Store) ApplyPayment(ctx context.Context, slot *models.Slot, newPaid decimal.Decimal, status models.SlotStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Slot{}).
		Where("id = ? AND amount_paid = ?", slot.ID, slot.AmountPaid).
		Updates(map[string]interface{}{
			"amount_paid":       newPaid,
			"status":            status,
			"reservation_token": nil,
			"reserved_until":    nil,
		})
	if res.Error != nil {
		return false, persistenceError("apply payment", res.Error)
	}
	return res.RowsAffected == 1, nil
}
