// Package awstest provides in-memory fakes of the AWS clients for tests.
// The DynamoDB fake understands the condition and update expressions the
// stores issue: attribute_(not_)exists, comparisons joined by AND/OR, and
// SET clauses with +, - and if_not_exists. Scan visits items in key order
// and applies Limit before the filter, as DynamoDB does.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a DynamoDB item.
type Item = map[string]types.AttributeValue

// Dynamo is an in-memory DynamoDB with one string partition key per table.
type Dynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]Item
	keys   map[string]string
	calls  map[string]int
	// Fail makes the named operation return the error.
	Fail map[string]error
}

func NewDynamo() *Dynamo {
	return &Dynamo{
		tables: map[string]map[string]Item{},
		keys:   map[string]string{},
		calls:  map[string]int{},
		Fail:   map[string]error{},
	}
}

// WithTable registers table with its partition key attribute.
func (d *Dynamo) WithTable(table, keyAttr string) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[table] = keyAttr
	if d.tables[table] == nil {
		d.tables[table] = map[string]Item{}
	}
	return d
}

// Seed stores item without evaluating any condition.
func (d *Dynamo) Seed(table string, item Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, err := d.keyOf(table, item)
	if err != nil {
		panic(err)
	}
	d.tables[table][k] = clone(item)
}

// Get returns a copy of the stored item, or nil.
func (d *Dynamo) Get(table, key string) Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	it, ok := d.tables[table][key]
	if !ok {
		return nil
	}
	return clone(it)
}

// Len returns the number of items in table.
func (d *Dynamo) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

// Calls returns how often op was invoked.
func (d *Dynamo) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

func (d *Dynamo) begin(op string) error {
	d.calls[op]++
	return d.Fail[op]
}

func (d *Dynamo) PutItem(_ context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("PutItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(in.TableName)
	k, err := d.keyOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, d.tables[table][k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	d.tables[table][k] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(_ context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("GetItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(in.TableName)
	k, err := d.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := d.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (d *Dynamo) UpdateItem(_ context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("UpdateItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(in.TableName)
	k, err := d.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	current := d.tables[table][k]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	next, err := applyUpdate(sdkaws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, current, in.Key)
	if err != nil {
		return nil, err
	}
	d.tables[table][k] = next
	return &dyn.UpdateItemOutput{Attributes: clone(next)}, nil
}

func (d *Dynamo) TransactWriteItems(_ context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		table, key string
		item       Item
	}
	var (
		writes   []write
		reasons  = make([]types.CancellationReason, len(in.TransactItems))
		canceled bool
	)
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}
		var (
			table, k string
			ok       bool
			err      error
			next     Item
		)
		switch {
		case ti.Put != nil:
			table = sdkaws.ToString(ti.Put.TableName)
			if k, err = d.keyOf(table, ti.Put.Item); err != nil {
				return nil, err
			}
			ok, err = evalCondition(ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues, d.tables[table][k])
			next = clone(ti.Put.Item)
		case ti.Update != nil:
			table = sdkaws.ToString(ti.Update.TableName)
			if k, err = d.keyOf(table, ti.Update.Key); err != nil {
				return nil, err
			}
			cur := d.tables[table][k]
			ok, err = evalCondition(ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues, cur)
			if err == nil && ok {
				next, err = applyUpdate(sdkaws.ToString(ti.Update.UpdateExpression), ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues, cur, ti.Update.Key)
			}
		case ti.ConditionCheck != nil:
			table = sdkaws.ToString(ti.ConditionCheck.TableName)
			if k, err = d.keyOf(table, ti.ConditionCheck.Key); err != nil {
				return nil, err
			}
			ok, err = evalCondition(ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues, d.tables[table][k])
		default:
			return nil, errors.New("awstest: unsupported transact item")
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			reasons[i] = types.CancellationReason{Code: sdkaws.String("ConditionalCheckFailed"), Message: sdkaws.String("The conditional request failed")}
			canceled = true
			continue
		}
		if next != nil {
			writes = append(writes, write{table: table, key: k, item: next})
		}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		d.tables[w.table][w.key] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) Scan(_ context.Context, in *dyn.ScanInput, _ ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("Scan"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(in.TableName)
	if _, ok := d.keys[table]; !ok {
		return nil, fmt.Errorf("awstest: table %q not registered", table)
	}
	keys := make([]string, 0, len(d.tables[table]))
	for k := range d.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(in.ExclusiveStartKey) > 0 {
		after, err := d.keyOf(table, in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}
	end := len(keys)
	if in.Limit != nil && *in.Limit > 0 && start+int(*in.Limit) < end {
		end = start + int(*in.Limit)
	}

	out := &dyn.ScanOutput{}
	for _, k := range keys[start:end] {
		it := d.tables[table][k]
		ok, err := evalCondition(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, clone(it))
		}
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(end - start)
	if end < len(keys) {
		out.LastEvaluatedKey = Item{d.keys[table]: &types.AttributeValueMemberS{Value: keys[end-1]}}
	}
	return out, nil
}

func (d *Dynamo) keyOf(table string, item Item) (string, error) {
	attr, ok := d.keys[table]
	if !ok {
		return "", fmt.Errorf("awstest: table %q not registered", table)
	}
	v, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: item has no string key %q", attr)
	}
	return v.Value, nil
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
}

func clone(it Item) Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func resolve(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func evalCondition(expr *string, names map[string]string, vals map[string]types.AttributeValue, item Item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, disj := range strings.Split(*expr, " OR ") {
		all := true
		for _, term := range strings.Split(disj, " AND ") {
			ok, err := evalTerm(strings.Trim(strings.TrimSpace(term), "()"), names, vals, item)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalTerm(term string, names map[string]string, vals map[string]types.AttributeValue, item Item) (bool, error) {
	if arg, ok := strings.CutPrefix(term, "attribute_not_exists("); ok {
		_, exists := item[resolve(strings.TrimSuffix(arg, ")"), names)]
		return !exists, nil
	}
	if arg, ok := strings.CutPrefix(term, "attribute_exists("); ok {
		_, exists := item[resolve(strings.TrimSuffix(arg, ")"), names)]
		return exists, nil
	}
	for _, op := range []string{"<>", ">=", "<=", "=", ">", "<"} {
		lhs, rhs, found := strings.Cut(term, " "+op+" ")
		if !found {
			continue
		}
		left, ok := item[resolve(strings.TrimSpace(lhs), names)]
		if !ok {
			return false, nil
		}
		right, ok := vals[strings.TrimSpace(rhs)]
		if !ok {
			return false, fmt.Errorf("awstest: missing value %s", rhs)
		}
		c, err := compare(left, right)
		if err != nil {
			return false, err
		}
		switch op {
		case "=":
			return c == 0, nil
		case "<>":
			return c != 0, nil
		case ">=":
			return c >= 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c < 0, nil
		}
	}
	return false, fmt.Errorf("awstest: unsupported condition %q", term)
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 1, nil
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 1, nil
		}
		x, err := strconv.ParseFloat(av.Value, 64)
		if err != nil {
			return 0, err
		}
		y, err := strconv.ParseFloat(bv.Value, 64)
		if err != nil {
			return 0, err
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("awstest: cannot compare %T", a)
}

func applyUpdate(expr string, names map[string]string, vals map[string]types.AttributeValue, current, key Item) (Item, error) {
	set, ok := strings.CutPrefix(strings.TrimSpace(expr), "SET ")
	if !ok {
		return nil, fmt.Errorf("awstest: unsupported update %q", expr)
	}
	next := clone(current)
	if next == nil {
		next = clone(key)
	}
	for _, clause := range splitTopLevel(set) {
		lhs, rhs, found := strings.Cut(clause, "=")
		if !found {
			return nil, fmt.Errorf("awstest: bad SET clause %q", clause)
		}
		v, err := evalOperand(strings.TrimSpace(rhs), names, vals, current)
		if err != nil {
			return nil, err
		}
		next[resolve(strings.TrimSpace(lhs), names)] = v
	}
	return next, nil
}

func evalOperand(expr string, names map[string]string, vals map[string]types.AttributeValue, item Item) (types.AttributeValue, error) {
	for _, op := range []string{" + ", " - "} {
		if l, r, found := strings.Cut(expr, op); found {
			lv, err := evalOperand(strings.TrimSpace(l), names, vals, item)
			if err != nil {
				return nil, err
			}
			rv, err := evalOperand(strings.TrimSpace(r), names, vals, item)
			if err != nil {
				return nil, err
			}
			x, err := number(lv)
			if err != nil {
				return nil, err
			}
			y, err := number(rv)
			if err != nil {
				return nil, err
			}
			if op == " - " {
				y = -y
			}
			return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x+y, 'f', -1, 64)}, nil
		}
	}
	if args, ok := strings.CutPrefix(expr, "if_not_exists("); ok {
		name, def, _ := strings.Cut(strings.TrimSuffix(args, ")"), ",")
		if v, ok := item[resolve(strings.TrimSpace(name), names)]; ok {
			return v, nil
		}
		return evalOperand(strings.TrimSpace(def), names, vals, item)
	}
	if strings.HasPrefix(expr, ":") {
		v, ok := vals[expr]
		if !ok {
			return nil, fmt.Errorf("awstest: missing value %s", expr)
		}
		return v, nil
	}
	v, ok := item[resolve(expr, names)]
	if !ok {
		return nil, fmt.Errorf("awstest: attribute %s does not exist", expr)
	}
	return v, nil
}

func number(v types.AttributeValue) (float64, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("awstest: %T is not a number", v)
	}
	return strconv.ParseFloat(n.Value, 64)
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}
