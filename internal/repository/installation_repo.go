package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/whaleray/control-plane/internal/models"
)

// InstallationRepository defines GitHub App installation row operations.
type InstallationRepository interface {
	Put(ctx context.Context, inst *models.Installation) error
	ListByUser(ctx context.Context, userID string) ([]*models.Installation, error)
	Delete(ctx context.Context, installationID int64) error
}

type installationRepo struct {
	db    dynamoAPI
	table string
}

// NewInstallationRepository creates a new installation repository.
func NewInstallationRepository(db dynamoAPI, table string) InstallationRepository {
	return &installationRepo{db: db, table: table}
}

// Put upserts an installation row.
func (r *installationRepo) Put(ctx context.Context, inst *models.Installation) error {
	item, err := attributevalue.MarshalMap(inst)
	if err != nil {
		return fmt.Errorf("marshal installation: %w", err)
	}

	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	return err
}

// ListByUser retrieves all installations linked to a user.
func (r *installationRepo) ListByUser(ctx context.Context, userID string) ([]*models.Installation, error) {
	out, err := r.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String("userId-index"),
		KeyConditionExpression: aws.String("userId = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, err
	}

	installations := make([]*models.Installation, 0, len(out.Items))
	for _, item := range out.Items {
		var inst models.Installation
		if err := attributevalue.UnmarshalMap(item, &inst); err != nil {
			return nil, fmt.Errorf("unmarshal installation: %w", err)
		}
		installations = append(installations, &inst)
	}
	return installations, nil
}

// Delete removes an installation row. Used when the upstream grant is
// gone (token exchange returns 401/404).
func (r *installationRepo) Delete(ctx context.Context, installationID int64) error {
	_, err := r.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"installationId": &types.AttributeValueMemberN{Value: strconv.FormatInt(installationID, 10)},
		},
	})
	return err
}

// Compile-time check to ensure installationRepo implements InstallationRepository.
var _ InstallationRepository = (*installationRepo)(nil)
