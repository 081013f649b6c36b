package queue

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the subset of the SQS client the event source uses
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSClient reads storage events from an SQS queue
type SQSClient struct {
	Client   SQSAPI
	QueueURL string
}

// NewSQSClient builds an SQS-backed event source. An empty queueURL falls
// back to the SQS_QUEUE_URL environment variable.
func NewSQSClient(ctx context.Context, queueURL string) (*SQSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := sqs.NewFromConfig(cfg)
	if queueURL == "" {
		queueURL = os.Getenv("SQS_QUEUE_URL")
	}
	return &SQSClient{Client: client, QueueURL: queueURL}, nil
}

// NewSQSClientWithAPI allows injecting a custom SQSAPI (for testing)
func NewSQSClientWithAPI(api SQSAPI, queueURL string) *SQSClient {
	return &SQSClient{Client: api, QueueURL: queueURL}
}

// EnqueueEvent sends a storage event to the queue
func (q *SQSClient) EnqueueEvent(ctx context.Context, event StorageEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = q.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	return err
}

// ReceiveEvents pulls up to maxMessages events with long polling. Bodies
// that fail to decode are skipped and left on the queue for its redrive
// policy to dead-letter.
func (q *SQSClient) ReceiveEvents(ctx context.Context, maxMessages int32, waitSeconds int32) ([]StorageEvent, []string, error) {
	resp, err := q.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.QueueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, nil, err
	}
	var events []StorageEvent
	var receiptHandles []string
	for _, msg := range resp.Messages {
		var event StorageEvent
		if err := json.Unmarshal([]byte(*msg.Body), &event); err == nil {
			events = append(events, event)
			receiptHandles = append(receiptHandles, *msg.ReceiptHandle)
		}
	}
	return events, receiptHandles, nil
}

// DeleteMessage acknowledges a processed event
func (q *SQSClient) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := q.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}
