package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-worker/internal/domain"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client wraps a DynamoDB table holding daily quota counters. Items are keyed
// by a single string partition key "PK"; the table's TTL attribute must be
// "ttl".
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// IncrementBelow atomically adds one to the counter for rec.Key unless it has
// already reached limit. The TTL is refreshed on every admitted write.
func (c *Client) IncrementBelow(ctx context.Context, rec domain.QuotaRecord, limit int) (int, bool, error) {
	if rec.Key == "" {
		return 0, false, errors.New("repository: IncrementBelow: key is required")
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: rec.Key},
		},
		UpdateExpression:    aws.String("SET #ttl = :ttl, #user = :user, #day = :day ADD #count :one"),
		ConditionExpression: aws.String("attribute_not_exists(#count) OR #count < :max"),
		ExpressionAttributeNames: map[string]string{
			"#count": "count",
			"#ttl":   "ttl",
			"#user":  "userId",
			"#day":   "day",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":max":  &types.AttributeValueMemberN{Value: strconv.Itoa(limit)},
			":ttl":  &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.TTL, 10)},
			":user": &types.AttributeValueMemberS{Value: rec.UserID},
			":day":  &types.AttributeValueMemberS{Value: rec.Day},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return limit, false, nil
		}
		return 0, false, fmt.Errorf("repository: IncrementBelow: %w", err)
	}
	if out == nil {
		return 0, false, errors.New("repository: IncrementBelow: empty response")
	}

	count, err := intAttr(out.Attributes, "count")
	if err != nil {
		return 0, false, fmt.Errorf("repository: IncrementBelow decode count: %w", err)
	}
	return count, true, nil
}

// GetQuota reads the stored counter for key. A missing item yields a zero
// record without error.
func (c *Client) GetQuota(ctx context.Context, key string) (domain.QuotaRecord, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.QuotaRecord{}, fmt.Errorf("repository: GetQuota get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.QuotaRecord{Key: key}, nil
	}
	return itemToQuota(out.Item)
}

// Count returns the stored counter for key, 0 when the item is missing.
func (c *Client) Count(ctx context.Context, key string) (int, error) {
	rec, err := c.GetQuota(ctx, key)
	if err != nil {
		return 0, err
	}
	return rec.Count, nil
}

func itemToQuota(item map[string]types.AttributeValue) (domain.QuotaRecord, error) {
	key, err := strAttr(item, "PK")
	if err != nil {
		return domain.QuotaRecord{}, fmt.Errorf("repository: GetQuota decode: %w", err)
	}
	count, err := intAttr(item, "count")
	if err != nil {
		return domain.QuotaRecord{}, fmt.Errorf("repository: GetQuota decode: %w", err)
	}
	userID, _ := strAttr(item, "userId") // allow empty
	day, _ := strAttr(item, "day")       // allow empty
	ttl, _ := intAttr(item, "ttl")

	return domain.QuotaRecord{
		Key:    key,
		UserID: userID,
		Day:    day,
		Count:  count,
		TTL:    int64(ttl),
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
