package retry

import (
	"context"
	"log/slog"

	"github.com/flaboy/aira-splitpay/pkg/serviceaction"
)

// LocalQueue 没有配置 SQS 时使用的进程内队列。进程退出时未处理的消息会丢失，
// 由 Sweeper 兜底。
type LocalQueue struct {
	actions chan serviceaction.Action
}

func NewLocalQueue(size int) *LocalQueue {
	if size <= 0 {
		size = 100
	}
	return &LocalQueue{actions: make(chan serviceaction.Action, size)}
}

func (q *LocalQueue) Enqueue(ctx context.Context, intentID uint, reason string) error {
	action, err := serviceaction.NewReconcileAction(intentID, reason)
	if err != nil {
		return err
	}
	select {
	case q.actions <- action:
	default:
		slog.Warn("[RetryQueue] Local queue full, leaving retry to sweeper", "intent_id", intentID)
	}
	return nil
}

// Len 待处理的消息数
func (q *LocalQueue) Len() int {
	return len(q.actions)
}

// Listen 依次执行队列中的动作，直到 ctx 结束
func (q *LocalQueue) Listen(ctx context.Context, engine *serviceaction.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-q.actions:
			if err := engine.Dispatch(ctx, action); err != nil {
				slog.Warn("[RetryQueue] Local retry failed", "action", action.Type, "error", err)
			}
		}
	}
}

// Drain 同步执行当前所有待处理动作，返回执行数量
func (q *LocalQueue) Drain(ctx context.Context, engine *serviceaction.Engine) int {
	n := 0
	for {
		select {
		case action := <-q.actions:
			if err := engine.Dispatch(ctx, action); err != nil {
				slog.Warn("[RetryQueue] Local retry failed", "action", action.Type, "error", err)
			}
			n++
		default:
			return n
		}
	}
}
