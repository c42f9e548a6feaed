package models

import (
	"encoding/json"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/database"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type LinkScope string

const (
	LinkScopeWholeBookingTotal LinkScope = "whole_booking_total"
	LinkScopePartialAmount     LinkScope = "partial_amount"
	LinkScopePassengerShare    LinkScope = "passenger_share"
	LinkScopeCustomAmount      LinkScope = "custom_amount"
	LinkScopeSlotBased         LinkScope = "slot_based"
)

func (s LinkScope) Valid() bool {
	switch s {
	case LinkScopeWholeBookingTotal, LinkScopePartialAmount, LinkScopePassengerShare,
		LinkScopeCustomAmount, LinkScopeSlotBased:
		return true
	}
	return false
}

type LinkStatus string

const (
	LinkStatusActive  LinkStatus = "active"
	LinkStatusPaid    LinkStatus = "paid"
	LinkStatusExpired LinkStatus = "expired"
)

// PaymentLink 可分享的支付授权
type PaymentLink struct {
	ID               uint            `gorm:"primaryKey" json:"-"`
	Token            string          `gorm:"size:64;uniqueIndex;not null" json:"token"`
	BookingID        uint            `gorm:"not null;index" json:"booking_id"`
	SubBookingID     uint            `gorm:"not null;default:0" json:"sub_booking_id"`
	CustomerID       uint            `gorm:"not null;default:0" json:"customer_id"`
	Scope            LinkScope       `gorm:"size:30;not null" json:"scope"`
	AmountAuthorized decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount_authorized"`
	Currency         string          `gorm:"size:10;not null" json:"currency"`
	Status           LinkStatus      `gorm:"size:10;not null;default:'active';index" json:"status"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	BillingDni       string          `gorm:"size:32" json:"billing_dni,omitempty"`
	Metadata         datatypes.JSON  `json:"metadata,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (l *PaymentLink) TableName() string {
	return "gp_payment_links"
}

// LinkMetadata 链接的附加信息
type LinkMetadata struct {
	Mode            string `json:"mode,omitempty"`
	SlotIDs         []uint `json:"slot_ids,omitempty"`
	ReservationID   string `json:"reservation_id,omitempty"`
	BillingName     string `json:"billing_name,omitempty"`
	BillingEmail    string `json:"billing_email,omitempty"`
	PreferredMethod string `json:"preferred_method,omitempty"`
}

func (l *PaymentLink) ParseMetadata() (LinkMetadata, error) {
	var meta LinkMetadata
	if len(l.Metadata) == 0 {
		return meta, nil
	}
	err := json.Unmarshal(l.Metadata, &meta)
	return meta, err
}

func (l *PaymentLink) SetMetadata(meta LinkMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	l.Metadata = datatypes.JSON(data)
	return nil
}

// ExpiredAt 判断链接在 now 时刻是否已过期
func (l *PaymentLink) ExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

func init() {
	database.RegisterAutoMigrateModels(&PaymentLink{})
}
