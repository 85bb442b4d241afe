package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/whaleray/control-plane/internal/models"
	apierrors "github.com/whaleray/control-plane/internal/pkg/errors"
	"github.com/whaleray/control-plane/internal/repository"
)

// dbCluster is the slice of the ECS cluster the database controller needs.
type dbCluster interface {
	SubnetAZ(ctx context.Context, subnetID string) (string, error)
	RegisterDatabaseTaskDefinition(ctx context.Context, databaseID, username, password string) (string, error)
	CreateDatabaseService(ctx context.Context, databaseID, userID, taskDefARN, subnetID string) error
	ServiceCounts(ctx context.Context, service string) (running, desired int32, found bool, err error)
	DeleteService(ctx context.Context, service string) error
	DeregisterTaskDefinition(ctx context.Context, taskDefARN string) error
}

// credentialStore persists database passwords as SecureString parameters.
type credentialStore interface {
	PutSecret(ctx context.Context, path, value string) error
	Delete(ctx context.Context, path string) error
	DBPasswordPath(databaseID string) string
}

// DatabaseEndpoints are the tenant-facing connection points.
type DatabaseEndpoints struct {
	Internal string `json:"internal"`
	External string `json:"external"`
}

// CreateDatabaseResult is returned exactly once, at creation. The
// plaintext password exists nowhere else in an API response and is
// never logged.
type CreateDatabaseResult struct {
	DatabaseID string            `json:"databaseId"`
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	Endpoints  DatabaseEndpoints `json:"endpoints"`
}

// DatabaseService manages the per-user dedicated Postgres instance.
type DatabaseService interface {
	Get(ctx context.Context, userID string) (*models.Database, error)
	Create(ctx context.Context, userID string) (*CreateDatabaseResult, error)
	Delete(ctx context.Context, userID string) error
	ResetPassword(ctx context.Context, userID string) error
}

type databaseService struct {
	repo       repository.DatabaseRepository
	cluster    dbCluster
	creds      credentialStore
	subnets    []string
	project    string
	domainName string
	logger     *slog.Logger
}

// NewDatabaseService creates a database service. subnets is the ordered
// candidate list for placement; the first entry is used.
func NewDatabaseService(
	repo repository.DatabaseRepository,
	cluster dbCluster,
	creds credentialStore,
	subnets []string,
	project, domainName string,
	logger *slog.Logger,
) DatabaseService {
	return &databaseService{
		repo:       repo,
		cluster:    cluster,
		creds:      creds,
		subnets:    subnets,
		project:    project,
		domainName: domainName,
		logger:     logger,
	}
}

// Get returns the user's database with its state reconciled against the
// live ECS service. A changed state is written back best-effort.
func (s *databaseService) Get(ctx context.Context, userID string) (*models.Database, error) {
	db, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("query database: %w", err)
	}
	if db == nil {
		return nil, &apierrors.APIError{
			Summary:    "No database found",
			StatusCode: http.StatusNotFound,
		}
	}

	if db.ServiceArn != "" {
		state := s.observeState(ctx, db)
		if state != db.DBState {
			if err := s.repo.UpdateState(ctx, db.DatabaseID, state); err != nil {
				s.logger.Error("db state writeback failed",
					"databaseId", db.DatabaseID,
					"error", err,
				)
			} else {
				db.DBState = state
			}
		}
	}
	return db, nil
}

// observeState maps the ECS service's task counts to a database state.
func (s *databaseService) observeState(ctx context.Context, db *models.Database) models.DBState {
	running, desired, found, err := s.cluster.ServiceCounts(ctx, db.ServiceArn)
	if err != nil {
		s.logger.Error("db service state check failed",
			"databaseId", db.DatabaseID,
			"error", err,
		)
		return db.DBState
	}
	switch {
	case !found:
		return models.DBStateUnknown
	case running == desired && running > 0:
		return models.DBStateAvailable
	case running < desired:
		return models.DBStateCreating
	case desired == 0:
		return models.DBStateStopped
	}
	return db.DBState
}

// Create provisions a dedicated Postgres instance: credentials into the
// parameter store, a cloned task definition and an EBS-backed Fargate
// service. Partial failures roll back the credential and the row.
func (s *databaseService) Create(ctx context.Context, userID string) (*CreateDatabaseResult, error) {
	existing, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("query database: %w", err)
	}
	if existing != nil {
		return nil, apierrors.NewConflictError("Database already exists for this user")
	}
	if len(s.subnets) == 0 {
		return nil, fmt.Errorf("no database subnets configured")
	}

	databaseID := uuid.NewString()
	username := "user_" + databaseID[:8]
	password, err := GeneratePassword(16)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}

	subnetID := s.subnets[0]
	az, err := s.cluster.SubnetAZ(ctx, subnetID)
	if err != nil {
		return nil, err
	}

	passwordParam := s.creds.DBPasswordPath(databaseID)
	if err := s.creds.PutSecret(ctx, passwordParam, password); err != nil {
		return nil, fmt.Errorf("store credentials: %w", err)
	}

	db := &models.Database{
		DatabaseID:       databaseID,
		UserID:           userID,
		DBState:          models.DBStateCreating,
		Username:         username,
		PasswordParam:    passwordParam,
		AvailabilityZone: az,
		SubnetID:         subnetID,
		InternalEndpoint: fmt.Sprintf("db-%s.db.%s.local", databaseID, s.project),
		ExternalEndpoint: fmt.Sprintf("https://db.%s/%s/pgadmin/", s.domainName, databaseID),
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.Put(ctx, db); err != nil {
		s.rollback(ctx, databaseID, passwordParam, false)
		return nil, fmt.Errorf("persist database row: %w", err)
	}

	taskDefARN, err := s.cluster.RegisterDatabaseTaskDefinition(ctx, databaseID, username, password)
	if err != nil {
		s.rollback(ctx, databaseID, passwordParam, true)
		return nil, fmt.Errorf("register task definition: %w", err)
	}

	if err := s.cluster.CreateDatabaseService(ctx, databaseID, userID, taskDefARN, subnetID); err != nil {
		s.rollback(ctx, databaseID, passwordParam, true)
		return nil, fmt.Errorf("start database service: %w", err)
	}

	db.ServiceArn = "db-" + databaseID
	db.TaskDefinitionArn = taskDefARN
	if err := s.repo.Put(ctx, db); err != nil {
		s.logger.Error("db service info writeback failed",
			"databaseId", databaseID,
			"error", err,
		)
	}

	s.logger.Info("database creation started",
		"databaseId", databaseID,
		"userId", userID,
		"username", username,
		"az", az,
	)

	return &CreateDatabaseResult{
		DatabaseID: databaseID,
		Username:   username,
		Password:   password,
		Endpoints: DatabaseEndpoints{
			Internal: db.InternalEndpoint,
			External: db.ExternalEndpoint,
		},
	}, nil
}

// rollback undoes the credential parameter and, optionally, the row.
func (s *databaseService) rollback(ctx context.Context, databaseID, passwordParam string, dropRow bool) {
	if err := s.creds.Delete(ctx, passwordParam); err != nil {
		s.logger.Error("rollback: credential delete failed",
			"databaseId", databaseID,
			"error", err,
		)
	}
	if dropRow {
		if err := s.repo.Delete(ctx, databaseID); err != nil {
			s.logger.Error("rollback: row delete failed",
				"databaseId", databaseID,
				"error", err,
			)
		}
	}
}

// Delete tears the database down. Cloud resources go first, best
// effort; the row goes last so a partial teardown stays visible and
// retryable. The managed EBS volume is released with the service.
func (s *databaseService) Delete(ctx context.Context, userID string) error {
	db, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("query database: %w", err)
	}
	if db == nil {
		return apierrors.NewNotFoundError("Database")
	}

	serviceName := db.ServiceArn
	if serviceName == "" {
		serviceName = "db-" + db.DatabaseID
	}
	if err := s.cluster.DeleteService(ctx, serviceName); err != nil {
		s.logger.Error("db service delete failed",
			"databaseId", db.DatabaseID,
			"error", err,
		)
	}

	if db.TaskDefinitionArn != "" {
		if err := s.cluster.DeregisterTaskDefinition(ctx, db.TaskDefinitionArn); err != nil {
			s.logger.Error("db task definition deregister failed",
				"databaseId", db.DatabaseID,
				"error", err,
			)
		}
	}

	if err := s.creds.Delete(ctx, s.creds.DBPasswordPath(db.DatabaseID)); err != nil {
		s.logger.Error("db credential delete failed",
			"databaseId", db.DatabaseID,
			"error", err,
		)
	}

	if err := s.repo.Delete(ctx, db.DatabaseID); err != nil {
		return fmt.Errorf("delete database row: %w", err)
	}

	s.logger.Info("database deleted", "databaseId", db.DatabaseID, "userId", userID)
	return nil
}

// ResetPassword rotates the database password in place. Rotation needs
// a live connection for ALTER USER, which the control plane does not
// hold yet.
func (s *databaseService) ResetPassword(ctx context.Context, userID string) error {
	return apierrors.ErrNotImplemented
}

// passwordAlphabet matches what Postgres and pgAdmin both accept
// without quoting issues.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()_+"

// GeneratePassword returns a random password of the given length with
// at least one lowercase, one uppercase and three digits.
func GeneratePassword(length int) (string, error) {
	for {
		buf := make([]byte, length)
		for i := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
			if err != nil {
				return "", err
			}
			buf[i] = passwordAlphabet[n.Int64()]
		}

		var lower, upper, digits int
		for _, c := range buf {
			switch {
			case c >= 'a' && c <= 'z':
				lower++
			case c >= 'A' && c <= 'Z':
				upper++
			case c >= '0' && c <= '9':
				digits++
			}
		}
		if lower >= 1 && upper >= 1 && digits >= 3 {
			return string(buf), nil
		}
	}
}

// Compile-time check to ensure databaseService implements DatabaseService.
var _ DatabaseService = (*databaseService)(nil)
