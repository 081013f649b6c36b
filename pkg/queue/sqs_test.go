package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSQSAPI captures sent messages and serves canned receives
type mockSQSAPI struct {
	sent     []string
	messages []types.Message
	deleted  []string
}

func (m *mockSQSAPI) SendMessage(_ context.Context, input *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, aws.ToString(input.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (m *mockSQSAPI) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: m.messages}, nil
}

func (m *mockSQSAPI) DeleteMessage(_ context.Context, input *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(input.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSClient_EnqueueAndReceive(t *testing.T) {
	api := &mockSQSAPI{}
	client := NewSQSClientWithAPI(api, "https://sqs.example/queue")

	ev := StorageEvent{
		EventType: EventTypeCreate,
		Path:      "buckets/tenant-a/documents/a.txt",
		Timestamp: 1756000000,
		FileSize:  64,
	}
	require.NoError(t, client.EnqueueEvent(context.Background(), ev))
	require.Len(t, api.sent, 1)

	var roundTripped StorageEvent
	require.NoError(t, json.Unmarshal([]byte(api.sent[0]), &roundTripped))
	assert.Equal(t, ev, roundTripped)

	api.messages = []types.Message{
		{Body: aws.String(api.sent[0]), ReceiptHandle: aws.String("rh-1")},
		{Body: aws.String("not json"), ReceiptHandle: aws.String("rh-2")},
	}
	events, receipts, err := client.ReceiveEvents(context.Background(), 10, 1)
	require.NoError(t, err)

	// The undecodable body is skipped
	require.Len(t, events, 1)
	assert.Equal(t, ev.Path, events[0].Path)
	assert.Equal(t, []string{"rh-1"}, receipts)

	require.NoError(t, client.DeleteMessage(context.Background(), "rh-1"))
	assert.Equal(t, []string{"rh-1"}, api.deleted)
}
