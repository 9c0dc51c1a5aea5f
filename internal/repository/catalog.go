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
	skuPrefix = "SKU#"
	skProduct = "PRODUCT#"
)

// catalogAPI is the minimal DynamoDB interface required by Catalog.
type catalogAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Catalog reads the product table. The dispatcher treats products as
// immutable; writes happen out of band.
type Catalog struct {
	api       catalogAPI
	tableName string
}

func NewCatalog(api catalogAPI, tableName string) (*Catalog, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Catalog{api: api, tableName: tableName}, nil
}

// GetBySKU returns the product for an exact SKU, or nil when absent.
func (c *Catalog) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": str(skuPrefix + sku),
			"SK": str(skProduct),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetBySKU get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	product, err := itemToProduct(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetBySKU decode: %w", err)
	}
	return &product, nil
}

// SearchByName returns up to limit products whose name contains term,
// case-insensitively. The catalog is small enough that a scan with in-process
// filtering is the whole search story; the scan still follows
// LastEvaluatedKey so a multi-page table does not hide matches.
func (c *Catalog) SearchByName(ctx context.Context, term string, limit int) ([]domain.Product, error) {
	in := &dynamodb.ScanInput{
		TableName: aws.String(c.tableName),
	}
	needle := strings.ToLower(strings.TrimSpace(term))
	matches := make([]domain.Product, 0, limit)
	for {
		out, err := c.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: SearchByName scan: %w", err)
		}
		for _, item := range out.Items {
			product, err := itemToProduct(item)
			if err != nil {
				return nil, fmt.Errorf("repository: SearchByName decode: %w", err)
			}
			if !strings.Contains(strings.ToLower(product.Name), needle) {
				continue
			}
			matches = append(matches, product)
			if len(matches) >= limit {
				return matches, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return matches, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func itemToProduct(item map[string]types.AttributeValue) (domain.Product, error) {
	sku, err := strAttr(item, "sku")
	if err != nil {
		return domain.Product{}, err
	}
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.Product{}, err
	}
	price, err := intAttr(item, "price")
	if err != nil {
		return domain.Product{}, err
	}
	stock, err := intAttr(item, "stock")
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{SKU: sku, Name: name, Price: price, Stock: stock}, nil
}
