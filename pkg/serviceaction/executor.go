package serviceaction

import (
	"context"
	"encoding/json"
	"fmt"
)

// Executor 处理一种队列动作。Validate 失败的消息不会重试。
type Executor interface {
	Type() ActionType
	Validate(args json.RawMessage) error
	Execute(ctx context.Context, args json.RawMessage) error
}

type ActionType string

const ActionReconcileIntent ActionType = "reconcile_intent"

// Action 队列中传递的动作消息
type Action struct {
	Type ActionType      `json:"action"`
	Args json.RawMessage `json:"args"`
}

// Decode 解析队列消息体
func Decode(body []byte) (Action, error) {
	var action Action
	if err := json.Unmarshal(body, &action); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if action.Type == "" {
		return Action{}, fmt.Errorf("%w: missing action type", ErrInvalidArgs)
	}
	return action, nil
}
