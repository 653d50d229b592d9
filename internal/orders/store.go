package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/aws"
)

var (
	// ErrAlreadyConfirmed means the order is already paid or the
	// confirmation key was already used.
	ErrAlreadyConfirmed = errors.New("order already confirmed")
	// ErrInsufficientStock means a stock decrement condition failed.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStatusMismatch means a conditional status update found another
	// status.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
)

// StockConflictError reports which extra transaction item failed.
type StockConflictError struct {
	Index int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("%v (stock update %d)", ErrInsufficientStock, e.Index)
}

func (e *StockConflictError) Unwrap() error { return ErrInsufficientStock }

// never overwrite a paid order
const unpaidCondition = "attribute_not_exists(order_id) OR payment_status <> :paid"

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreatePaid atomically writes, in one TransactWriteItems call:
//   - idempotencyPut (conditional on the key not existing)
//   - the paid order (conditional on no paid order with the same id)
//   - stockUpdates, each conditional on enough stock
//
// A failed idempotency or order condition returns ErrAlreadyConfirmed; a
// failed stock condition returns a *StockConflictError.
func (s *Store) CreatePaid(ctx context.Context, idempotencyPut types.TransactWriteItem, order Order, stockUpdates []types.TransactWriteItem) error {
	order.PaymentStatus = PaymentPaid
	put, err := s.orderPut(order)
	if err != nil {
		return err
	}

	items := make([]types.TransactWriteItem, 0, 2+len(stockUpdates))
	items = append(items, idempotencyPut, put)
	items = append(items, stockUpdates...)

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for i, r := range tce.CancellationReasons {
				if sdkaws.ToString(r.Code) != "ConditionalCheckFailed" {
					continue
				}
				if i < 2 {
					return ErrAlreadyConfirmed
				}
				return &StockConflictError{Index: i - 2}
			}
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// PutUnpaid records an order whose payment did not go through, or that was
// put on hold. It never replaces a paid order.
func (s *Store) PutUnpaid(ctx context.Context, order Order) error {
	put, err := s.orderPut(order)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 put.Put.TableName,
		Item:                      put.Put.Item,
		ConditionExpression:       put.Put.ConditionExpression,
		ExpressionAttributeValues: put.Put.ExpressionAttributeValues,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyConfirmed
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

func (s *Store) orderPut(order Order) (types.TransactWriteItem, error) {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal order item: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: awsString(unpaidCondition),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":paid": &types.AttributeValueMemberS{Value: PaymentPaid},
			},
		},
	}, nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatus conditionally moves order_status from expected to newStatus.
// Returns ErrStatusMismatch if the order is in another status.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "order_status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// IncrementAttempts increases the notification attempt counter by 1.
func (s *Store) IncrementAttempts(ctx context.Context, orderID string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_exists(order_id)"),
		ReturnValues:        types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
