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
	userPrefix = "USER#"
	skState    = "STATE#"
)

// stateAPI is the minimal DynamoDB interface required by StateStore.
type stateAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// StateStore persists per-user conversation state keyed by phone number.
// Writes are last-write-wins upserts; the record is created implicitly on
// first write and never deleted here.
type StateStore struct {
	api       stateAPI
	tableName string
}

func NewStateStore(api stateAPI, tableName string) (*StateStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &StateStore{api: api, tableName: tableName}, nil
}

func userPK(phone string) string {
	return userPrefix + phone
}

func stateKey(phone string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": str(userPK(phone)),
		"SK": str(skState),
	}
}

// Get returns the conversation state for a phone number. A missing record is
// a zero state, not an error.
func (s *StateStore) Get(ctx context.Context, phone string) (domain.ConversationState, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            stateKey(phone),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: Get state: %w", err)
	}
	state := domain.ConversationState{Phone: phone}
	if out == nil || len(out.Item) == 0 {
		return state, nil
	}

	if v, ok := out.Item["last_search_results"].(*types.AttributeValueMemberL); ok {
		for _, entry := range v.Value {
			m, ok := entry.(*types.AttributeValueMemberM)
			if !ok {
				return domain.ConversationState{}, errors.New("repository: Get state: search result is not a map")
			}
			item, err := attrToCatalogItem(m.Value)
			if err != nil {
				return domain.ConversationState{}, fmt.Errorf("repository: Get state: %w", err)
			}
			state.LastSearchResults = append(state.LastSearchResults, item)
		}
	}
	if v, ok := out.Item["last_selected_product"].(*types.AttributeValueMemberM); ok {
		item, err := attrToCatalogItem(v.Value)
		if err != nil {
			return domain.ConversationState{}, fmt.Errorf("repository: Get state: %w", err)
		}
		state.LastSelected = &item
	}
	return state, nil
}

// SaveSearchResults replaces last_search_results, creating the record if it
// does not exist.
func (s *StateStore) SaveSearchResults(ctx context.Context, phone string, results []domain.CatalogItem) error {
	list := make([]types.AttributeValue, 0, len(results))
	for _, item := range results {
		list = append(list, &types.AttributeValueMemberM{Value: catalogItemAttr(item)})
	}
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              stateKey(phone),
		UpdateExpression: aws.String("SET last_search_results = :r"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r": &types.AttributeValueMemberL{Value: list},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSearchResults: %w", err)
	}
	return nil
}

// SaveSelected replaces last_selected_product, creating the record if it does
// not exist.
func (s *StateStore) SaveSelected(ctx context.Context, phone string, item domain.CatalogItem) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              stateKey(phone),
		UpdateExpression: aws.String("SET last_selected_product = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberM{Value: catalogItemAttr(item)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSelected: %w", err)
	}
	return nil
}

func catalogItemAttr(item domain.CatalogItem) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sku":   str(item.SKU),
		"name":  str(item.Name),
		"price": numAttr(item.Price),
	}
}

func attrToCatalogItem(m map[string]types.AttributeValue) (domain.CatalogItem, error) {
	sku, err := strAttr(m, "sku")
	if err != nil {
		return domain.CatalogItem{}, err
	}
	name, err := strAttr(m, "name")
	if err != nil {
		return domain.CatalogItem{}, err
	}
	price, err := intAttr(m, "price")
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return domain.CatalogItem{SKU: sku, Name: name, Price: price}, nil
}
