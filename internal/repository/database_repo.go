package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/whaleray/control-plane/internal/models"
)

// DatabaseRepository defines user database row operations.
type DatabaseRepository interface {
	Put(ctx context.Context, db *models.Database) error
	GetByUser(ctx context.Context, userID string) (*models.Database, error)
	UpdateState(ctx context.Context, databaseID string, state models.DBState) error
	Delete(ctx context.Context, databaseID string) error
}

type databaseRepo struct {
	db    dynamoAPI
	table string
}

// NewDatabaseRepository creates a new database repository.
func NewDatabaseRepository(db dynamoAPI, table string) DatabaseRepository {
	return &databaseRepo{db: db, table: table}
}

// Put upserts a database row. The primary key is deterministic so the
// write is idempotent under retry.
func (r *databaseRepo) Put(ctx context.Context, db *models.Database) error {
	item, err := attributevalue.MarshalMap(db)
	if err != nil {
		return fmt.Errorf("marshal database: %w", err)
	}

	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	return err
}

// GetByUser retrieves the user's database row, if any.
func (r *databaseRepo) GetByUser(ctx context.Context, userID string) (*models.Database, error) {
	out, err := r.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String("userId-index"),
		KeyConditionExpression: aws.String("userId = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var db models.Database
	if err := attributevalue.UnmarshalMap(out.Items[0], &db); err != nil {
		return nil, fmt.Errorf("unmarshal database: %w", err)
	}
	return &db, nil
}

// UpdateState persists a reconciled dbState.
func (r *databaseRepo) UpdateState(ctx context.Context, databaseID string, state models.DBState) error {
	_, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"databaseId": &types.AttributeValueMemberS{Value: databaseID},
		},
		UpdateExpression: aws.String("SET dbState = :state"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state": &types.AttributeValueMemberS{Value: string(state)},
		},
		ConditionExpression: aws.String("attribute_exists(databaseId)"),
	})
	if isConditionFailed(err) {
		return ErrConditionFailed
	}
	return err
}

// Delete removes a database row.
func (r *databaseRepo) Delete(ctx context.Context, databaseID string) error {
	_, err := r.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"databaseId": &types.AttributeValueMemberS{Value: databaseID},
		},
	})
	return err
}

// Compile-time check to ensure databaseRepo implements DatabaseRepository.
var _ DatabaseRepository = (*databaseRepo)(nil)
