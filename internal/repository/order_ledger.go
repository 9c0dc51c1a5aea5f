package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"philelect-bot/internal/domain"
)

const (
	orderPrefix = "ORDER#"
	skOrder     = "ORDER#"
)

// ledgerAPI is the minimal DynamoDB interface required by OrderLedger.
type ledgerAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// OrderLedger is append-only order creation plus the single PENDING -> PAID
// status transition.
type OrderLedger struct {
	api       ledgerAPI
	tableName string
}

func NewOrderLedger(api ledgerAPI, tableName string) (*OrderLedger, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &OrderLedger{api: api, tableName: tableName}, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": str(orderPrefix + orderID),
		"SK": str(skOrder),
	}
}

// Create persists a new order exactly once.
func (l *OrderLedger) Create(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		return errors.New("repository: Create: order id is required")
	}
	_, err := l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                orderItem(order),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Create order: %w", err)
	}
	return nil
}

// FindPendingByPrefix returns the PENDING order whose id starts with prefix,
// or nil when no such order exists. The filter is applied per page, so a page
// can be empty while later pages still hold the match; the scan follows
// LastEvaluatedKey until it finds one or runs out of pages.
func (l *OrderLedger) FindPendingByPrefix(ctx context.Context, prefix string) (*domain.Order, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(l.tableName),
		FilterExpression: aws.String("begins_with(order_id, :prefix) AND #s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix":  str(prefix),
			":pending": str(string(domain.OrderPending)),
		},
	}
	for {
		out, err := l.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: FindPendingByPrefix scan: %w", err)
		}
		if len(out.Items) > 0 {
			order, err := itemToOrder(out.Items[0])
			if err != nil {
				return nil, fmt.Errorf("repository: FindPendingByPrefix decode: %w", err)
			}
			return &order, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// MarkPaid sets the order status to PAID and records the provider reference.
func (l *OrderLedger) MarkPaid(ctx context.Context, orderID, providerRef string) error {
	_, err := l.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(l.tableName),
		Key:              orderKey(orderID),
		UpdateExpression: aws.String("SET #s = :paid, payment_reference = :ref"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":paid": str(string(domain.OrderPaid)),
			":ref":  str(providerRef),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: MarkPaid: %w", err)
	}
	return nil
}

func orderItem(order domain.Order) map[string]types.AttributeValue {
	items := make([]types.AttributeValue, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"sku":   str(line.SKU),
			"qty":   numAttr(line.Qty),
			"price": numAttr(line.Price),
		}})
	}
	return map[string]types.AttributeValue{
		"PK":                str(orderPrefix + order.ID),
		"SK":                str(skOrder),
		"order_id":          str(order.ID),
		"user_phone":        str(order.UserPhone),
		"items":             &types.AttributeValueMemberL{Value: items},
		"total_amount":      numAttr(order.TotalAmount),
		"status":            str(string(order.Status)),
		"payment_reference": str(order.PaymentReference),
	}
}

func itemToOrder(item map[string]types.AttributeValue) (domain.Order, error) {
	id, err := strAttr(item, "order_id")
	if err != nil {
		return domain.Order{}, err
	}
	phone, err := strAttr(item, "user_phone")
	if err != nil {
		return domain.Order{}, err
	}
	total, err := intAttr(item, "total_amount")
	if err != nil {
		return domain.Order{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:               id,
		UserPhone:        phone,
		TotalAmount:      total,
		Status:           domain.OrderStatus(status),
		PaymentReference: optStrAttr(item, "payment_reference"),
	}
	if v, ok := item["items"].(*types.AttributeValueMemberL); ok {
		for _, entry := range v.Value {
			m, ok := entry.(*types.AttributeValueMemberM)
			if !ok {
				return domain.Order{}, errors.New("repository: order line is not a map")
			}
			sku, err := strAttr(m.Value, "sku")
			if err != nil {
				return domain.Order{}, err
			}
			qty, err := intAttr(m.Value, "qty")
			if err != nil {
				return domain.Order{}, err
			}
			price, err := intAttr(m.Value, "price")
			if err != nil {
				return domain.Order{}, err
			}
			order.Items = append(order.Items, domain.LineItem{SKU: sku, Qty: qty, Price: price})
		}
	}
	return order, nil
}
