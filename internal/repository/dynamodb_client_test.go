package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chat-worker/internal/domain"
)

type fakeDynamo struct {
	getOut          *dynamodb.GetItemOutput
	getErr          error
	updateOut       *dynamodb.UpdateItemOutput
	updateErr       error
	lastGetInput    *dynamodb.GetItemInput
	lastUpdateInput *dynamodb.UpdateItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateInput = in
	return f.updateOut, f.updateErr
}

func countAttrs(n int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"count": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)},
		"ttl":   &types.AttributeValueMemberN{Value: "1772500000"},
	}
}

func testRecord() domain.QuotaRecord {
	return domain.QuotaRecord{Key: "rl:u1:20260301", UserID: "u1", Day: "20260301", TTL: 1772500000}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestIncrementBelow_Admitted(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: countAttrs(1)}}
	c := mustNewClient(t, db)

	n, ok, err := c.IncrementBelow(context.Background(), testRecord(), 40)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, n)
}

func TestIncrementBelow_RequestShape(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: countAttrs(3)}}
	c := mustNewClient(t, db)

	_, _, err := c.IncrementBelow(context.Background(), testRecord(), 40)
	require.NoError(t, err)

	in := db.lastUpdateInput
	require.NotNil(t, in)
	require.Equal(t, "test-table", *in.TableName)
	require.Equal(t, "rl:u1:20260301", in.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(#count) OR #count < :max", *in.ConditionExpression)
	require.Contains(t, *in.UpdateExpression, "ADD #count :one")
	require.Contains(t, *in.UpdateExpression, "#ttl = :ttl")
	require.Equal(t, "40", in.ExpressionAttributeValues[":max"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "1772500000", in.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, types.ReturnValueUpdatedNew, in.ReturnValues)
}

func TestIncrementBelow_ConditionFailedMeansDenied(t *testing.T) {
	db := &fakeDynamo{updateErr: fmt.Errorf("operation error: %w", &types.ConditionalCheckFailedException{Message: strPtr("nope")})}
	c := mustNewClient(t, db)

	n, ok, err := c.IncrementBelow(context.Background(), testRecord(), 40)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 40, n)
}

func TestIncrementBelow_DynamoError(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)

	_, _, err := c.IncrementBelow(context.Background(), testRecord(), 40)
	require.Error(t, err)
	require.Contains(t, err.Error(), "IncrementBelow")
}

func TestIncrementBelow_MalformedCount(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"count": &types.AttributeValueMemberS{Value: "bad"},
	}}}
	c := mustNewClient(t, db)

	_, _, err := c.IncrementBelow(context.Background(), testRecord(), 40)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode count")
}

func TestIncrementBelow_MissingKey(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	_, _, err := c.IncrementBelow(context.Background(), domain.QuotaRecord{}, 40)
	require.Error(t, err)
}

func TestGetQuota_HappyPath(t *testing.T) {
	item := countAttrs(7)
	item["PK"] = &types.AttributeValueMemberS{Value: "rl:u1:20260301"}
	item["userId"] = &types.AttributeValueMemberS{Value: "u1"}
	item["day"] = &types.AttributeValueMemberS{Value: "20260301"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	rec, err := c.GetQuota(context.Background(), "rl:u1:20260301")
	require.NoError(t, err)
	require.Equal(t, domain.QuotaRecord{Key: "rl:u1:20260301", UserID: "u1", Day: "20260301", Count: 7, TTL: 1772500000}, rec)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetQuota_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)

	rec, err := c.GetQuota(context.Background(), "rl:u1:20260301")
	require.NoError(t, err)
	require.Equal(t, 0, rec.Count)
	require.Equal(t, "rl:u1:20260301", rec.Key)
}

func TestGetQuota_Error(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)

	_, err := c.GetQuota(context.Background(), "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetQuota")
}

func TestCount_ReadsStoredCounter(t *testing.T) {
	item := countAttrs(12)
	item["PK"] = &types.AttributeValueMemberS{Value: "rl:u1:20260301"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	n, err := c.Count(context.Background(), "rl:u1:20260301")
	require.NoError(t, err)
	require.Equal(t, 12, n)
	require.Nil(t, db.lastUpdateInput)

	db.getOut = &dynamodb.GetItemOutput{}
	n, err = c.Count(context.Background(), "rl:u2:20260301")
	require.NoError(t, err)
	require.Zero(t, n)

	db.getErr = errors.New("throttled")
	_, err = c.Count(context.Background(), "rl:u1:20260301")
	require.ErrorContains(t, err, "throttled")
}

func strPtr(s string) *string { return &s }
