package models

import "time"

type IntentEventKind string

const (
	EventCreated          IntentEventKind = "created"
	EventProviderRequest  IntentEventKind = "provider_request"
	EventProviderResponse IntentEventKind = "provider_response"
	EventReturned         IntentEventKind = "returned"
	EventCallback         IntentEventKind = "callback"
	EventLedgerRecorded   IntentEventKind = "ledger_recorded"
	EventLedgerFailed     IntentEventKind = "ledger_failed"
	EventAllocated        IntentEventKind = "allocated"
	EventFailed           IntentEventKind = "failed"
)

type IntentEvent struct {
	Kind IntentEventKind        `json:"kind"`
	At   time.Time              `json:"at"`
	Data map[string]interface{} `json:"data,omitempty"`
}

type IntentEvents []IntentEvent

// LedgerRecorded 返回记账成功的事件（如果有）
func (es IntentEvents) LedgerRecorded() (IntentEvent, bool) {
	return es.Last(EventLedgerRecorded)
}

func (es IntentEvents) Has(kind IntentEventKind) bool {
	_, ok := es.Last(kind)
	return ok
}

func (es IntentEvents) Last(kind IntentEventKind) (IntentEvent, bool) {
	for i := len(es) - 1; i >= 0; i-- {
		if es[i].Kind == kind {
			return es[i], true
		}
	}
	return IntentEvent{}, false
}

func (es IntentEvents) Count(kind IntentEventKind) int {
	n := 0
	for _, e := range es {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
