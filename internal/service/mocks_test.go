package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/whaleray/control-plane/internal/models"
	"github.com/whaleray/control-plane/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock Repositories ---

type statusCall struct {
	deploymentID string
	status       models.DeploymentStatus
	extra        map[string]any
}

type mockDeploymentRepo struct {
	mu          sync.Mutex
	rows        map[string]*models.Deployment
	statusCalls []statusCall

	createErr error
	updateErr error
	listErr   error
}

func newMockDeploymentRepo() *mockDeploymentRepo {
	return &mockDeploymentRepo{rows: make(map[string]*models.Deployment)}
}

func (m *mockDeploymentRepo) Create(ctx context.Context, d *models.Deployment) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[d.DeploymentID]; ok {
		return repository.ErrConditionFailed
	}
	copied := *d
	m.rows[d.DeploymentID] = &copied
	return nil
}

func (m *mockDeploymentRepo) GetByID(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[deploymentID]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (m *mockDeploymentRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Deployment, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Deployment
	for _, d := range m.rows {
		if d.UserID == userID {
			copied := *d
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockDeploymentRepo) ListByService(ctx context.Context, serviceID string, limit int) ([]*models.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Deployment
	for _, d := range m.rows {
		if d.ServiceID == serviceID {
			copied := *d
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockDeploymentRepo) UpdateStatus(ctx context.Context, deploymentID string, status models.DeploymentStatus, extra map[string]any) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls = append(m.statusCalls, statusCall{deploymentID, status, extra})

	d, ok := m.rows[deploymentID]
	if !ok {
		return repository.ErrConditionFailed
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	if reason, ok := extra["errorMessage"].(string); ok {
		d.ErrorMessage = reason
	}
	return nil
}

func (m *mockDeploymentRepo) callsFor(deploymentID string) []statusCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var calls []statusCall
	for _, c := range m.statusCalls {
		if c.deploymentID == deploymentID {
			calls = append(calls, c)
		}
	}
	return calls
}

type mockServiceRepo struct {
	mu   sync.Mutex
	rows map[string]*models.Service

	getErr      error
	activateErr error
}

func newMockServiceRepo() *mockServiceRepo {
	return &mockServiceRepo{rows: make(map[string]*models.Service)}
}

func (m *mockServiceRepo) GetByID(ctx context.Context, serviceID string) (*models.Service, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.rows[serviceID]
	if !ok {
		return nil, nil
	}
	copied := *svc
	return &copied, nil
}

func (m *mockServiceRepo) ListByUser(ctx context.Context, userID string) ([]*models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Service
	for _, svc := range m.rows {
		if svc.UserID == userID {
			copied := *svc
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockServiceRepo) Activate(ctx context.Context, svc *models.Service, createdAt time.Time) error {
	if m.activateErr != nil {
		return m.activateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[svc.ServiceID]
	if ok && existing.ActiveDeploymentID != "" && !existing.ActiveCreatedAt.Before(createdAt) {
		return repository.ErrConditionFailed
	}
	copied := *svc
	copied.ActiveCreatedAt = createdAt
	m.rows[svc.ServiceID] = &copied
	return nil
}

type mockInstallationRepo struct {
	mu      sync.Mutex
	rows    map[int64]*models.Installation
	listErr error
	deleted []int64
}

func newMockInstallationRepo() *mockInstallationRepo {
	return &mockInstallationRepo{rows: make(map[int64]*models.Installation)}
}

func (m *mockInstallationRepo) Put(ctx context.Context, inst *models.Installation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *inst
	m.rows[inst.InstallationID] = &copied
	return nil
}

func (m *mockInstallationRepo) ListByUser(ctx context.Context, userID string) ([]*models.Installation, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Installation
	for _, inst := range m.rows {
		if inst.UserID == userID {
			copied := *inst
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockInstallationRepo) Delete(ctx context.Context, installationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, installationID)
	m.deleted = append(m.deleted, installationID)
	return nil
}

type mockUserRepo struct {
	mu   sync.Mutex
	rows map[string]*models.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{rows: make(map[string]*models.User)}
}

func (m *mockUserRepo) Put(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *user
	m.rows[user.UserID] = &copied
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.rows[userID]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

type mockStateRepo struct {
	mu     sync.Mutex
	states map[string]string
}

func newMockStateRepo() *mockStateRepo {
	return &mockStateRepo{states: make(map[string]string)}
}

func (m *mockStateRepo) Put(ctx context.Context, state, redirectURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = redirectURI
	return nil
}

func (m *mockStateRepo) Consume(ctx context.Context, state string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uri, ok := m.states[state]
	if !ok {
		return "", false, nil
	}
	delete(m.states, state)
	return uri, true, nil
}

type mockDatabaseRepo struct {
	mu   sync.Mutex
	rows map[string]*models.Database

	putErr error
}

func newMockDatabaseRepo() *mockDatabaseRepo {
	return &mockDatabaseRepo{rows: make(map[string]*models.Database)}
}

func (m *mockDatabaseRepo) Put(ctx context.Context, db *models.Database) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *db
	m.rows[db.DatabaseID] = &copied
	return nil
}

func (m *mockDatabaseRepo) GetByUser(ctx context.Context, userID string) (*models.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, db := range m.rows {
		if db.UserID == userID {
			copied := *db
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockDatabaseRepo) UpdateState(ctx context.Context, databaseID string, state models.DBState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.rows[databaseID]; ok {
		db.DBState = state
	}
	return nil
}

func (m *mockDatabaseRepo) Delete(ctx context.Context, databaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, databaseID)
	return nil
}
