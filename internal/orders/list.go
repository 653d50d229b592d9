package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ListFilter selects orders for List. Empty fields do not filter; zero
// times leave the range open on that side.
type ListFilter struct {
	Status   string
	UserID   string
	SellerID string
	From     time.Time // created_at >= From
	To       time.Time // created_at <= To
	Page     int       // 1-based
	PerPage  int
}

// Page is one page of orders, newest first.
type Page struct {
	Orders   []Order
	Page     int
	PerPage  int
	Total    int
	LastPage int
}

func (f ListFilter) normalized() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

// expression builds the scan filter for the equality fields.
func (f ListFilter) expression() (*string, map[string]string, map[string]types.AttributeValue) {
	var (
		terms []string
		names = map[string]string{}
		vals  = map[string]types.AttributeValue{}
	)
	add := func(attr, v string) {
		if v == "" {
			return
		}
		n, p := "#"+attr, ":"+attr
		terms = append(terms, n+" = "+p)
		names[n] = attr
		vals[p] = &types.AttributeValueMemberS{Value: v}
	}
	add("order_status", f.Status)
	add("user_id", f.UserID)
	add("seller_id", f.SellerID)
	if len(terms) == 0 {
		return nil, nil, nil
	}
	return sdkaws.String(strings.Join(terms, " AND ")), names, vals
}

func (f ListFilter) inRange(t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.After(f.To) {
		return false
	}
	return true
}

// List returns the orders matching f, newest first, paginated. The orders
// table has no secondary index, so this scans it.
func (s *Store) List(ctx context.Context, f ListFilter) (Page, error) {
	f = f.normalized()
	expr, names, vals := f.expression()

	var (
		matched []Order
		start   map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                 &s.tableName,
			FilterExpression:          expr,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: vals,
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return Page{}, fmt.Errorf("scan orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return Page{}, fmt.Errorf("unmarshal orders: %w", err)
		}
		for _, o := range batch {
			if f.inRange(o.CreatedAt) {
				matched = append(matched, o)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.OrderID > b.OrderID
	})

	p := Page{Page: f.Page, PerPage: f.PerPage, Total: len(matched)}
	p.LastPage = (p.Total + p.PerPage - 1) / p.PerPage
	if p.LastPage < 1 {
		p.LastPage = 1
	}
	lo := (f.Page - 1) * f.PerPage
	if lo < len(matched) {
		hi := lo + f.PerPage
		if hi > len(matched) {
			hi = len(matched)
		}
		p.Orders = matched[lo:hi]
	}
	return p, nil
}
