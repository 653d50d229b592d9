// Package inventory keeps product and variant stock in DynamoDB.
package inventory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Danny-CYH/Relove-Market-sub005/internal/aws"
	"github.com/Danny-CYH/Relove-Market-sub005/internal/contract"
)

// Stock is one stock keeping unit: a product, or a variant of it.
type Stock struct {
	SKU         string    `dynamodbav:"sku"` // PK
	ProductID   string    `dynamodbav:"product_id"`
	VariantID   string    `dynamodbav:"variant_id,omitempty"`
	ProductName string    `dynamodbav:"product_name,omitempty"`
	Quantity    int       `dynamodbav:"quantity"`
	UpdatedAt   time.Time `dynamodbav:"updated_at"`
}

// SKU returns the stock key of a product or product variant.
func SKU(productID, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + "#" + variantID
}

// Deduction is the quantity to remove from one SKU.
type Deduction struct {
	SKU      string
	Quantity int
}

// Store reads and updates stock levels.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Get returns the stock of sku, or (nil, nil) when it is unknown.
func (s *Store) Get(ctx context.Context, sku string) (*Stock, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"sku": &types.AttributeValueMemberS{Value: sku},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", sku, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var st Stock
	if err := attributevalue.UnmarshalMap(out.Item, &st); err != nil {
		return nil, fmt.Errorf("unmarshal stock: %w", err)
	}
	return &st, nil
}

// Put writes a stock level.
func (s *Store) Put(ctx context.Context, st Stock) error {
	st.SKU = SKU(st.ProductID, st.VariantID)
	st.UpdatedAt = s.nowFunc().UTC()
	item, err := attributevalue.MarshalMap(st)
	if err != nil {
		return fmt.Errorf("marshal stock: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put stock %s: %w", st.SKU, err)
	}
	return nil
}

// Check compares each item against its variant stock when a variant is
// selected, and against the product stock, which Deductions reduces for
// every purchase of the product. Quantities sharing a SKU are added up.
// Nothing is reserved.
func (s *Store) Check(ctx context.Context, items []contract.OrderItem) ([]contract.StockResult, bool, error) {
	requested := map[string]int{}
	for _, d := range Deductions(items) {
		requested[d.SKU] = d.Quantity
	}
	seen := map[string]*Stock{}
	get := func(sku string) (*Stock, error) {
		if st, ok := seen[sku]; ok {
			return st, nil
		}
		st, err := s.Get(ctx, sku)
		if err != nil {
			return nil, err
		}
		seen[sku] = st
		return st, nil
	}

	results := make([]contract.StockResult, 0, len(items))
	allValid := true
	for _, it := range items {
		res := contract.StockResult{ProductID: it.ProductID, VariantID: it.VariantID()}
		skus := []string{it.ProductID}
		if v := it.VariantID(); v != "" {
			skus = []string{SKU(it.ProductID, v), it.ProductID}
		}
		for i, sku := range skus {
			st, err := get(sku)
			if err != nil {
				return nil, false, err
			}
			switch {
			case st == nil && sku != it.ProductID:
				res.Error = "Variant not found: " + it.VariantID()
			case st == nil:
				res.Error = "Product not found: " + it.ProductID
			case st.Quantity < requested[sku]:
				res.AvailableQuantity = st.Quantity
				res.Error = fmt.Sprintf("Insufficient stock. Available: %d, Requested: %d", st.Quantity, requested[sku])
			case i == 0:
				// the selected stock row is what the buyer sees
				res.AvailableQuantity = st.Quantity
			}
			if res.Error != "" {
				break
			}
		}
		res.Valid = res.Error == ""
		if !res.Valid {
			allValid = false
		}
		results = append(results, res)
	}
	return results, allValid, nil
}

// Deductions aggregates the stock to remove per SKU in first-seen order. A
// variant purchase also reduces the parent product stock.
func Deductions(items []contract.OrderItem) []Deduction {
	var out []Deduction
	index := map[string]int{}
	add := func(sku string, qty int) {
		if i, ok := index[sku]; ok {
			out[i].Quantity += qty
			return
		}
		index[sku] = len(out)
		out = append(out, Deduction{SKU: sku, Quantity: qty})
	}
	for _, it := range items {
		if v := it.VariantID(); v != "" {
			add(SKU(it.ProductID, v), it.Quantity)
		}
		add(it.ProductID, it.Quantity)
	}
	return out
}

// TransactDecrement returns the conditional decrement of d for use in a
// TransactWriteItems call. The condition fails when stock is short.
func (s *Store) TransactDecrement(d Deduction) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"sku": &types.AttributeValueMemberS{Value: d.SKU},
			},
			UpdateExpression:    awsString("SET quantity = quantity - :q, updated_at = :ua"),
			ConditionExpression: awsString("quantity >= :q"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(d.Quantity)},
				":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
			},
		},
	}
}

func awsString(s string) *string { return &s }
