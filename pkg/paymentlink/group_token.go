package paymentlink

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"gorm.io/gorm"
)

// CreateGroupToken 创建同一预订所有同行者共用的分期入口
func (s *Service) CreateGroupToken(ctx context.Context, bookingID, subBookingID, customerID uint, expiresAt *time.Time) (*models.GroupToken, error) {
	if bookingID == 0 {
		return nil, fmt.Errorf("%w: booking id is required", errors.ErrValidation)
	}
	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate group token: %w", err)
	}
	gt := &models.GroupToken{
		Token:        token,
		BookingID:    bookingID,
		SubBookingID: subBookingID,
		CustomerID:   customerID,
		Status:       models.GroupTokenStatusActive,
		ExpiresAt:    expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(gt).Error; err != nil {
		return nil, fmt.Errorf("%w: create group token: %v", errors.ErrPersistence, err)
	}
	slog.Info("[PaymentLink] Group token created", "booking", bookingID, "sub_booking", subBookingID)
	return gt, nil
}

// ValidateGroupToken 与 Validate 相同的惰性过期规则
func (s *Service) ValidateGroupToken(ctx context.Context, token string) (*models.GroupToken, error) {
	if token == "" {
		return nil, errors.ErrLinkNotFound
	}
	var gt models.GroupToken
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&gt).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load group token: %v", errors.ErrPersistence, err)
	}

	if gt.Status == models.GroupTokenStatusExpired {
		return nil, errors.ErrLinkExpired
	}
	if gt.Status != models.GroupTokenStatusActive {
		return nil, errors.ErrLinkNotActive
	}
	if gt.ExpiredAt(s.now()) {
		err := s.db.WithContext(ctx).Model(&models.GroupToken{}).
			Where("id = ? AND status = ?", gt.ID, models.GroupTokenStatusActive).
			Update("status", models.GroupTokenStatusExpired).Error
		if err != nil {
			return nil, fmt.Errorf("%w: expire group token: %v", errors.ErrPersistence, err)
		}
		return nil, errors.ErrLinkExpired
	}
	return &gt, nil
}
