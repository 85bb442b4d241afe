package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/whaleray/control-plane/internal/models"
)

// ServiceRepository defines service row operations.
type ServiceRepository interface {
	GetByID(ctx context.Context, serviceID string) (*models.Service, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Service, error)
	// Activate promotes a deployment to the service's active deployment.
	// The write is conditional: it succeeds only when the service has no
	// active deployment yet, or the active one was created before
	// createdAt. A lost race returns ErrConditionFailed.
	Activate(ctx context.Context, svc *models.Service, createdAt time.Time) error
}

type serviceRepo struct {
	db    dynamoAPI
	table string
}

// NewServiceRepository creates a new service repository.
func NewServiceRepository(db dynamoAPI, table string) ServiceRepository {
	return &serviceRepo{db: db, table: table}
}

// GetByID retrieves a service row.
func (r *serviceRepo) GetByID(ctx context.Context, serviceID string) (*models.Service, error) {
	out, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"serviceId": &types.AttributeValueMemberS{Value: serviceID},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}

	var svc models.Service
	if err := attributevalue.UnmarshalMap(out.Item, &svc); err != nil {
		return nil, fmt.Errorf("unmarshal service: %w", err)
	}
	return &svc, nil
}

// ListByUser retrieves all services owned by a user.
func (r *serviceRepo) ListByUser(ctx context.Context, userID string) ([]*models.Service, error) {
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

	services := make([]*models.Service, 0, len(out.Items))
	for _, item := range out.Items {
		var svc models.Service
		if err := attributevalue.UnmarshalMap(item, &svc); err != nil {
			return nil, fmt.Errorf("unmarshal service: %w", err)
		}
		services = append(services, &svc)
	}
	return services, nil
}

// Activate writes the service row, guarded against an older deployment
// overwriting a newer one when two builds finish out of order.
func (r *serviceRepo) Activate(ctx context.Context, svc *models.Service, createdAt time.Time) error {
	_, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"serviceId": &types.AttributeValueMemberS{Value: svc.ServiceID},
		},
		UpdateExpression: aws.String(
			"SET activeDeploymentId = :did, activeCreatedAt = :cat, userId = :uid, serviceName = :sname, serviceEndpoint = :endpoint",
		),
		ConditionExpression: aws.String(
			"attribute_not_exists(activeDeploymentId) OR activeCreatedAt < :cat",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":did":      &types.AttributeValueMemberS{Value: svc.ActiveDeploymentID},
			":cat":      &types.AttributeValueMemberS{Value: createdAt.UTC().Format(time.RFC3339Nano)},
			":uid":      &types.AttributeValueMemberS{Value: svc.UserID},
			":sname":    &types.AttributeValueMemberS{Value: svc.ServiceName},
			":endpoint": &types.AttributeValueMemberS{Value: svc.ServiceEndpoint},
		},
	})
	if isConditionFailed(err) {
		return ErrConditionFailed
	}
	return err
}

// Compile-time check to ensure serviceRepo implements ServiceRepository.
var _ ServiceRepository = (*serviceRepo)(nil)
