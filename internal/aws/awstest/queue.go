package awstest

import (
	"context"
	"fmt"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Queue records sent SQS messages.
type Queue struct {
	mu       sync.Mutex
	Messages []*sqs.SendMessageInput
	Err      error
}

func (q *Queue) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.Messages = append(q.Messages, in)
	return &sqs.SendMessageOutput{MessageId: sdkaws.String(fmt.Sprintf("msg-%d", len(q.Messages)))}, nil
}

// Bodies returns the message bodies in send order.
func (q *Queue) Bodies() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.Messages))
	for _, m := range q.Messages {
		out = append(out, sdkaws.ToString(m.MessageBody))
	}
	return out
}

// Metrics records CloudWatch datums.
type Metrics struct {
	mu     sync.Mutex
	Datums []cwtypes.MetricDatum
	Err    error
}

func (m *Metrics) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Datums = append(m.Datums, in.MetricData...)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Sum adds the values recorded for name.
func (m *Metrics) Sum(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, d := range m.Datums {
		if sdkaws.ToString(d.MetricName) == name {
			total += sdkaws.ToFloat64(d.Value)
		}
	}
	return total
}
