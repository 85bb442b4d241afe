// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/whaleray/control-plane/internal/models"
)

// dynamoAPI is the subset of the DynamoDB client the repositories use.
// Narrow on purpose so tests can substitute a fake.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrConditionFailed is returned when a conditional write loses its race.
var ErrConditionFailed = errors.New("conditional write failed")

// DeploymentRepository defines deployment row operations.
// All status writes go through UpdateStatus so auxiliary fields attach
// to the same write as the transition that discovered them.
type DeploymentRepository interface {
	Create(ctx context.Context, d *models.Deployment) error
	GetByID(ctx context.Context, deploymentID string) (*models.Deployment, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Deployment, error)
	ListByService(ctx context.Context, serviceID string, limit int) ([]*models.Deployment, error)
	UpdateStatus(ctx context.Context, deploymentID string, status models.DeploymentStatus, extra map[string]any) error
}

type deploymentRepo struct {
	db    dynamoAPI
	table string
}

// NewDeploymentRepository creates a new deployment repository.
func NewDeploymentRepository(db dynamoAPI, table string) DeploymentRepository {
	return &deploymentRepo{db: db, table: table}
}

// Create inserts a new deployment row.
func (r *deploymentRepo) Create(ctx context.Context, d *models.Deployment) error {
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return fmt.Errorf("marshal deployment: %w", err)
	}

	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(deploymentId)"),
	})
	if isConditionFailed(err) {
		return ErrConditionFailed
	}
	return err
}

// GetByID retrieves a deployment by its UUID.
func (r *deploymentRepo) GetByID(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	out, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"deploymentId": &types.AttributeValueMemberS{Value: deploymentID},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	var d models.Deployment
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("unmarshal deployment: %w", err)
	}
	return &d, nil
}

// ListByUser retrieves a user's deployments, most recent first.
func (r *deploymentRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Deployment, error) {
	return r.query(ctx, "userId-index", "userId", userID, limit)
}

// ListByService retrieves a service's deployment history, most recent first.
func (r *deploymentRepo) ListByService(ctx context.Context, serviceID string, limit int) ([]*models.Deployment, error) {
	return r.query(ctx, "serviceId-createdAt-index", "serviceId", serviceID, limit)
}

func (r *deploymentRepo) query(ctx context.Context, index, keyAttr, keyValue string, limit int) ([]*models.Deployment, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#k = :v"),
		ExpressionAttributeNames: map[string]string{
			"#k": keyAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: keyValue},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := r.db.Query(ctx, in)
	if err != nil {
		return nil, err
	}

	deployments := make([]*models.Deployment, 0, len(out.Items))
	for _, item := range out.Items {
		var d models.Deployment
		if err := attributevalue.UnmarshalMap(item, &d); err != nil {
			return nil, fmt.Errorf("unmarshal deployment: %w", err)
		}
		deployments = append(deployments, &d)
	}
	return deployments, nil
}

// UpdateStatus performs a single conditional write that sets status,
// updatedAt and every supplied extra field in one round-trip.
func (r *deploymentRepo) UpdateStatus(ctx context.Context, deploymentID string, status models.DeploymentStatus, extra map[string]any) error {
	expr := "SET #status = :status, updatedAt = :updatedAt"
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(status)},
		":updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}

	i := 0
	for field, value := range extra {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal field %s: %w", field, err)
		}
		name := fmt.Sprintf("#f%d", i)
		placeholder := fmt.Sprintf(":f%d", i)
		expr += fmt.Sprintf(", %s = %s", name, placeholder)
		names[name] = field
		values[placeholder] = av
		i++
	}

	_, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"deploymentId": &types.AttributeValueMemberS{Value: deploymentID},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(deploymentId)"),
	})
	if isConditionFailed(err) {
		return ErrConditionFailed
	}
	return err
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Compile-time check to ensure deploymentRepo implements DeploymentRepository.
var _ DeploymentRepository = (*deploymentRepo)(nil)
