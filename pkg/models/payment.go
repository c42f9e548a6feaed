package models

import (
	"encoding/json"
	"time"

	"github.com/flaboy/aira-splitpay/pkg/database"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Provider string

const (
	ProviderCardGateway         Provider = "card_gateway"
	ProviderBankTransferGateway Provider = "bank_transfer_gateway"
	ProviderPayPal              Provider = "paypal"
)

type IntentStatus string

const (
	IntentStatusCreated     IntentStatus = "created"
	IntentStatusInitiated   IntentStatus = "initiated"
	IntentStatusRedirecting IntentStatus = "redirecting" // 银行卡、PayPal：等待用户在支付页完成
	IntentStatusReturnedOK  IntentStatus = "returned_ok" // 银行转账：用户已从银行返回
	IntentStatusReconciled  IntentStatus = "reconciled"
	IntentStatusFailed      IntentStatus = "failed"
)

// Terminal reconciled 和 failed 之后不再变化
func (s IntentStatus) Terminal() bool {
	return s == IntentStatusReconciled || s == IntentStatusFailed
}

// SlotMode 支付金额如何落到分期上
type SlotMode string

const (
	SlotModeNone     SlotMode = "none"     // 不涉及分期
	SlotModeReserved SlotMode = "reserved" // 分配到创建时预留的分期
	SlotModeOpen     SlotMode = "open"     // 按顺序分配到所有未付分期
)

// PaymentIntent 一次支付尝试
type PaymentIntent struct {
	ID                uint            `gorm:"primaryKey"`
	Token             string          `gorm:"size:32;index"`
	BookingID         uint            `gorm:"not null;index"`
	SubBookingID      uint            `gorm:"not null;default:0"`
	CustomerID        uint            `gorm:"not null;default:0"`
	LinkToken         string          `gorm:"size:64;index"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency          string          `gorm:"size:10;default:'EUR'"`
	Provider          Provider        `gorm:"size:30;not null"`
	Method            string          `gorm:"size:30"`
	Status            IntentStatus    `gorm:"size:20;not null;index"`
	ProviderOrderRef  string          `gorm:"size:64;uniqueIndex"`
	ProviderPaymentID string          `gorm:"size:100;index"`
	ProviderReference string          `gorm:"size:100;index"`
	SlotMode          SlotMode        `gorm:"size:10;not null;default:'none'"`
	SlotIDs           datatypes.JSON
	ReservationToken  string `gorm:"size:64"`
	PayerName         string `gorm:"size:255"`

	// 请求/响应快照与记账标记，按时间追加
	Events         datatypes.JSON
	NeedsReconcile bool `gorm:"not null;default:false;index"`

	// 处理回调时的短租约，防止重复投递的 webhook 并发执行
	SettleToken *string `gorm:"size:64"`
	SettleUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *PaymentIntent) TableName() string {
	return "gp_payment_intents"
}

func (p *PaymentIntent) SlotIDList() ([]uint, error) {
	var ids []uint
	if len(p.SlotIDs) == 0 {
		return ids, nil
	}
	err := json.Unmarshal(p.SlotIDs, &ids)
	return ids, err
}

func (p *PaymentIntent) SetSlotIDs(ids []uint) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	p.SlotIDs = datatypes.JSON(data)
	return nil
}

// EventLog 解析事件列表
func (p *PaymentIntent) EventLog() (IntentEvents, error) {
	var events IntentEvents
	if len(p.Events) == 0 {
		return events, nil
	}
	err := json.Unmarshal(p.Events, &events)
	return events, err
}

// AppendEvent 追加一个事件并重新序列化
func (p *PaymentIntent) AppendEvent(e IntentEvent) error {
	events, err := p.EventLog()
	if err != nil {
		return err
	}
	events = append(events, e)
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	p.Events = datatypes.JSON(data)
	return nil
}

func init() {
	database.RegisterAutoMigrateModels(&PaymentIntent{})
}
