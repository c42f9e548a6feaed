package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/flaboy/aira-splitpay/pkg/serviceaction"
)

// SQSClient 用到的 SQS 接口，*sqs.Client 实现了它
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSConfig struct {
	QueueURL     string
	Region       string
	AccessKey    string
	Secret       string
	DelaySeconds int32
}

// SQSQueue 记账重试队列。消息体为 serviceaction.Action。
type SQSQueue struct {
	client   SQSClient
	queueURL string
	delay    int32
}

// NewSQSQueue 配置了专用凭证时使用静态凭证，否则使用默认凭证链
func NewSQSQueue(ctx context.Context, cfg SQSConfig) (*SQSQueue, error) {
	var awsCfg aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.Secret != "" {
		awsCfg, err = awsConfig.LoadDefaultConfig(ctx,
			awsConfig.WithRegion(cfg.Region),
			awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.Secret, "")),
		)
	} else {
		awsCfg, err = awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	slog.Info("[RetryQueue] SQS client created", "queue", cfg.QueueURL, "region", cfg.Region)
	return NewSQSQueueWithClient(sqs.NewFromConfig(awsCfg), cfg.QueueURL, cfg.DelaySeconds), nil
}

func NewSQSQueueWithClient(client SQSClient, queueURL string, delaySeconds int32) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, delay: delaySeconds}
}

// Enqueue 投递 reconcile_intent 消息
func (q *SQSQueue) Enqueue(ctx context.Context, intentID uint, reason string) error {
	action, err := serviceaction.NewReconcileAction(intentID, reason)
	if err != nil {
		return err
	}
	body, err := json.Marshal(action)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: q.delay,
	})
	if err != nil {
		return fmt.Errorf("failed to send retry message: %w", err)
	}
	slog.Info("[RetryQueue] Retry enqueued", "intent_id", intentID)
	return nil
}

// Listen 长轮询队列并交给 engine 执行，直到 ctx 结束。
// 执行失败的消息不删除，可见性超时后会重新投递。
func (q *SQSQueue) Listen(ctx context.Context, engine *serviceaction.Engine) {
	slog.Info("[RetryQueue] Listening", "queue", q.queueURL)
	for ctx.Err() == nil {
		if err := q.Poll(ctx, engine); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("[RetryQueue] Error receiving message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// Poll 接收并处理一批消息
func (q *SQSQueue) Poll(ctx context.Context, engine *serviceaction.Engine) error {
	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return err
	}

	for _, message := range output.Messages {
		messageID := aws.ToString(message.MessageId)

		action, err := serviceaction.Decode([]byte(aws.ToString(message.Body)))
		if err != nil {
			slog.Error("[RetryQueue] Dropping malformed message", "message_id", messageID, "error", err)
			q.delete(ctx, message.ReceiptHandle, messageID)
			continue
		}

		if err := engine.Dispatch(ctx, action); err != nil {
			if serviceaction.Permanent(err) {
				slog.Error("[RetryQueue] Dropping message that cannot succeed", "message_id", messageID, "error", err)
				q.delete(ctx, message.ReceiptHandle, messageID)
				continue
			}
			slog.Warn("[RetryQueue] Action failed, leaving message for redelivery",
				"message_id", messageID, "action", action.Type, "error", err)
			continue
		}
		q.delete(ctx, message.ReceiptHandle, messageID)
	}
	return nil
}

func (q *SQSQueue) delete(ctx context.Context, receiptHandle *string, messageID string) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		slog.Error("[RetryQueue] Error deleting message", "message_id", messageID, "error", err)
	}
}
