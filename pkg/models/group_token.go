package models

import (
	"time"

	"github.com/flaboy/aira-splitpay/pkg/database"
)

type GroupTokenStatus string

const (
	GroupTokenStatusActive  GroupTokenStatus = "active"
	GroupTokenStatusExpired GroupTokenStatus = "expired"
)

// GroupToken 可重复使用的分期选择入口，同一预订的所有同行者共用
type GroupToken struct {
	ID           uint             `gorm:"primaryKey" json:"-"`
	Token        string           `gorm:"size:64;uniqueIndex;not null" json:"token"`
	BookingID    uint             `gorm:"not null;index" json:"booking_id"`
	SubBookingID uint             `gorm:"not null;default:0" json:"sub_booking_id"`
	CustomerID   uint             `gorm:"not null;default:0" json:"customer_id"`
	Status       GroupTokenStatus `gorm:"size:10;not null;default:'active'" json:"status"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (g *GroupToken) TableName() string {
	return "gp_group_tokens"
}

func (g *GroupToken) ExpiredAt(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}

func init() {
	database.RegisterAutoMigrateModels(&GroupToken{})
}
