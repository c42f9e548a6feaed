package serviceaction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flaboy/aira-splitpay/pkg/intent"
)

// ReconcileArgs reconcile_intent 的参数
type ReconcileArgs struct {
	IntentID uint   `json:"intent_id"`
	Reason   string `json:"reason,omitempty"`
}

// ReconcileIntentExecutor 重新执行记账失败的支付意图
type ReconcileIntentExecutor struct {
	intents *intent.Service
}

func NewReconcileIntentExecutor(intents *intent.Service) *ReconcileIntentExecutor {
	return &ReconcileIntentExecutor{intents: intents}
}

func (e *ReconcileIntentExecutor) Type() ActionType {
	return ActionReconcileIntent
}

func (e *ReconcileIntentExecutor) Validate(args json.RawMessage) error {
	var a ReconcileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return err
	}
	if a.IntentID == 0 {
		return fmt.Errorf("intent_id is required")
	}
	return nil
}

func (e *ReconcileIntentExecutor) Execute(ctx context.Context, args json.RawMessage) error {
	var a ReconcileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return err
	}
	return e.intents.Reconcile(ctx, a.IntentID)
}

// NewReconcileAction 构造 reconcile_intent 消息
func NewReconcileAction(intentID uint, reason string) (Action, error) {
	args, err := json.Marshal(ReconcileArgs{IntentID: intentID, Reason: reason})
	if err != nil {
		return Action{}, err
	}
	return Action{Type: ActionReconcileIntent, Args: args}, nil
}
