package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/aws/awstest"
)

const table = "idempotency-table"

func newTestStore(now time.Time) (*Store, *awstest.Dynamo) {
	mock := awstest.NewDynamo().WithTable(table, "idempotency_key")
	s := NewStore(mock, table, 48*time.Hour)
	s.nowFunc = func() time.Time { return now }
	return s, mock
}

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s, mock := newTestStore(now)
	ctx := context.Background()
	key := NotificationKey("ORD-20260301-1")

	created, err := s.CreateIfNotExists(ctx, key, "ORD-20260301-1")
	if err != nil {
		t.Fatalf("CreateIfNotExists error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second create should return created=false (exists)
	created2, err := s.CreateIfNotExists(ctx, key, "ORD-20260301-1")
	if err != nil {
		t.Fatalf("second CreateIfNotExists error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil || rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS record, got %+v", rec)
	}
	if rec.ExpiresAt != now.Add(48*time.Hour).Unix() {
		t.Fatalf("ttl not applied: %d", rec.ExpiresAt)
	}

	if err := s.MarkDone(ctx, key, `{"ok":true}`, 200); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	item := mock.Get(table, key)
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}
	if rb, ok := item["response_body"].(*types.AttributeValueMemberS); !ok || rb.Value != `{"ok":true}` {
		t.Fatalf("response_body not set correctly: %+v", item["response_body"])
	}

	if err := s.MarkFailed(ctx, key, "notify failed"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	rec, _ = s.Get(ctx, key)
	if rec.Status != StatusFailed || rec.Note != "notify failed" {
		t.Fatalf("expected FAILED with note, got %+v", rec)
	}
}

func TestReclaim_OnlyFromFailed(t *testing.T) {
	s, _ := newTestStore(time.Now())
	ctx := context.Background()
	key := NotificationKey("ORD-1")

	if _, err := s.CreateIfNotExists(ctx, key, "ORD-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Reclaim(ctx, key); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed while IN_PROGRESS, got %v", err)
	}
	if err := s.MarkFailed(ctx, key, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := s.Reclaim(ctx, key); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	rec, _ := s.Get(ctx, key)
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS after reclaim, got %s", rec.Status)
	}
}

func TestMarkDone_UnknownKey(t *testing.T) {
	s, _ := newTestStore(time.Now())
	if err := s.MarkDone(context.Background(), "missing", "{}", 200); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
}

func TestGet_ExpiredRecordIsIgnored(t *testing.T) {
	now := time.Now()
	s, _ := newTestStore(now)
	ctx := context.Background()
	if _, err := s.CreateIfNotExists(ctx, "k", "o"); err != nil {
		t.Fatalf("create: %v", err)
	}
	s.nowFunc = func() time.Time { return now.Add(49 * time.Hour) }
	rec, err := s.Get(ctx, "k")
	if err != nil || rec != nil {
		t.Fatalf("expected expired record to be ignored, got %+v, %v", rec, err)
	}
}

func TestTransactPut_CarriesCondition(t *testing.T) {
	s, _ := newTestStore(time.Now())
	rec := s.NewRecord(PaymentKey("pi_1", "ORD-1"), "ORD-1", "pi_1", "abc")
	put, err := s.TransactPut(rec)
	if err != nil {
		t.Fatalf("TransactPut: %v", err)
	}
	if *put.Put.ConditionExpression != "attribute_not_exists(idempotency_key)" {
		t.Fatalf("unexpected condition %s", *put.Put.ConditionExpression)
	}
	if *put.Put.TableName != table {
		t.Fatalf("unexpected table %s", *put.Put.TableName)
	}
	if k := put.Put.Item["idempotency_key"].(*types.AttributeValueMemberS).Value; k != "pi_1:ORD-1" {
		t.Fatalf("unexpected key %s", k)
	}
}
