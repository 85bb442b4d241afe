package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/whaleray/control-plane/internal/models"
	apierrors "github.com/whaleray/control-plane/internal/pkg/errors"
)

type fakeDBCluster struct {
	az          string
	azErr       error
	registerErr error
	createErr   error

	registeredPassword string
	createdService     string
	createdSubnet      string
	deletedServices    []string
	deregisteredARNs   []string

	running int32
	desired int32
	found   bool
	counts  error
}

func (f *fakeDBCluster) SubnetAZ(ctx context.Context, subnetID string) (string, error) {
	if f.azErr != nil {
		return "", f.azErr
	}
	return f.az, nil
}

func (f *fakeDBCluster) RegisterDatabaseTaskDefinition(ctx context.Context, databaseID, username, password string) (string, error) {
	if f.registerErr != nil {
		return "", f.registerErr
	}
	f.registeredPassword = password
	return "arn:aws:ecs:task-def/db-" + databaseID + ":1", nil
}

func (f *fakeDBCluster) CreateDatabaseService(ctx context.Context, databaseID, userID, taskDefARN, subnetID string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.createdService = "db-" + databaseID
	f.createdSubnet = subnetID
	return nil
}

func (f *fakeDBCluster) ServiceCounts(ctx context.Context, service string) (int32, int32, bool, error) {
	if f.counts != nil {
		return 0, 0, false, f.counts
	}
	return f.running, f.desired, f.found, nil
}

func (f *fakeDBCluster) DeleteService(ctx context.Context, service string) error {
	f.deletedServices = append(f.deletedServices, service)
	return nil
}

func (f *fakeDBCluster) DeregisterTaskDefinition(ctx context.Context, taskDefARN string) error {
	f.deregisteredARNs = append(f.deregisteredARNs, taskDefARN)
	return nil
}

type fakeCredStore struct {
	stored  map[string]string
	deleted []string
	putErr  error
}

func newFakeCredStore() *fakeCredStore {
	return &fakeCredStore{stored: make(map[string]string)}
}

func (f *fakeCredStore) PutSecret(ctx context.Context, path, value string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.stored[path] = value
	return nil
}

func (f *fakeCredStore) Delete(ctx context.Context, path string) error {
	delete(f.stored, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeCredStore) DBPasswordPath(databaseID string) string {
	return "/whaleray/db/" + databaseID + "/password"
}

func newTestDatabaseService(logger *slog.Logger) (DatabaseService, *mockDatabaseRepo, *fakeDBCluster, *fakeCredStore) {
	repo := newMockDatabaseRepo()
	cluster := &fakeDBCluster{az: "ap-northeast-2a"}
	creds := newFakeCredStore()
	svc := NewDatabaseService(repo, cluster, creds,
		[]string{"subnet-1", "subnet-2"}, "whaleray", "whaleray.dev", logger)
	return svc, repo, cluster, creds
}

func TestDatabaseService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions credentials, task definition and service", func(t *testing.T) {
		svc, repo, cluster, creds := newTestDatabaseService(discardLogger())

		result, err := svc.Create(ctx, "github_1")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if result.Username != "user_"+result.DatabaseID[:8] {
			t.Errorf("Username = %q, want user_ prefix from the database id", result.Username)
		}
		if len(result.Password) != 16 {
			t.Errorf("password length = %d, want 16", len(result.Password))
		}
		if result.Endpoints.Internal != "db-"+result.DatabaseID+".db.whaleray.local" {
			t.Errorf("Internal endpoint = %q", result.Endpoints.Internal)
		}
		if result.Endpoints.External != "https://db.whaleray.dev/"+result.DatabaseID+"/pgadmin/" {
			t.Errorf("External endpoint = %q", result.Endpoints.External)
		}

		path := creds.DBPasswordPath(result.DatabaseID)
		if creds.stored[path] != result.Password {
			t.Error("stored credential does not match the returned password")
		}
		if cluster.registeredPassword != result.Password {
			t.Error("task definition did not receive the password")
		}
		if cluster.createdService != "db-"+result.DatabaseID {
			t.Errorf("created service = %q", cluster.createdService)
		}
		if cluster.createdSubnet != "subnet-1" {
			t.Errorf("subnet = %q, want the first configured subnet", cluster.createdSubnet)
		}

		stored, _ := repo.GetByUser(ctx, "github_1")
		if stored == nil {
			t.Fatal("database row missing")
		}
		if stored.DBState != models.DBStateCreating {
			t.Errorf("DBState = %v, want CREATING", stored.DBState)
		}
		if stored.ServiceArn != "db-"+result.DatabaseID {
			t.Errorf("ServiceArn = %q", stored.ServiceArn)
		}
	})

	t.Run("second database for the same user conflicts", func(t *testing.T) {
		svc, _, _, _ := newTestDatabaseService(discardLogger())

		if _, err := svc.Create(ctx, "github_1"); err != nil {
			t.Fatalf("first Create() error = %v", err)
		}

		_, err := svc.Create(ctx, "github_1")
		apiErr, ok := err.(*apierrors.APIError)
		if !ok || apiErr.StatusCode != 409 {
			t.Fatalf("second Create() error = %v, want 409 conflict", err)
		}
	})

	t.Run("task definition failure rolls back credential and row", func(t *testing.T) {
		svc, repo, cluster, creds := newTestDatabaseService(discardLogger())
		cluster.registerErr = errors.New("image pull denied")

		_, err := svc.Create(ctx, "github_1")
		if err == nil {
			t.Fatal("Create() expected error")
		}

		if len(creds.stored) != 0 {
			t.Error("credential parameter survived the rollback")
		}
		if row, _ := repo.GetByUser(ctx, "github_1"); row != nil {
			t.Error("database row survived the rollback")
		}
	})

	t.Run("service creation failure rolls back credential and row", func(t *testing.T) {
		svc, repo, cluster, creds := newTestDatabaseService(discardLogger())
		cluster.createErr = errors.New("subnet exhausted")

		_, err := svc.Create(ctx, "github_1")
		if err == nil {
			t.Fatal("Create() expected error")
		}
		if len(creds.stored) != 0 || len(creds.deleted) == 0 {
			t.Error("credential parameter was not rolled back")
		}
		if row, _ := repo.GetByUser(ctx, "github_1"); row != nil {
			t.Error("database row survived the rollback")
		}
	})

	t.Run("password never appears in logs", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		svc, _, _, _ := newTestDatabaseService(logger)

		result, err := svc.Create(ctx, "github_1")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if strings.Contains(buf.String(), result.Password) {
			t.Error("plaintext password leaked into the log output")
		}
	})
}

func TestDatabaseService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("missing database is a 404", func(t *testing.T) {
		svc, _, _, _ := newTestDatabaseService(discardLogger())

		_, err := svc.Get(ctx, "github_1")
		apiErr, ok := err.(*apierrors.APIError)
		if !ok || apiErr.StatusCode != 404 {
			t.Fatalf("Get() error = %v, want 404", err)
		}
		if apiErr.Summary != "No database found" {
			t.Errorf("Summary = %q", apiErr.Summary)
		}
	})

	t.Run("state reconciles against the live service", func(t *testing.T) {
		tests := []struct {
			name    string
			running int32
			desired int32
			found   bool
			want    models.DBState
		}{
			{"all tasks running", 1, 1, true, models.DBStateAvailable},
			{"still starting", 0, 1, true, models.DBStateCreating},
			{"scaled to zero", 0, 0, true, models.DBStateStopped},
			{"service vanished", 0, 0, false, models.DBStateUnknown},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc, repo, cluster, _ := newTestDatabaseService(discardLogger())
				repo.Put(ctx, &models.Database{
					DatabaseID: "db-1",
					UserID:     "github_1",
					DBState:    models.DBStateCreating,
					ServiceArn: "db-db-1",
				})
				cluster.running, cluster.desired, cluster.found = tt.running, tt.desired, tt.found

				db, err := svc.Get(ctx, "github_1")
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if db.DBState != tt.want {
					t.Errorf("DBState = %v, want %v", db.DBState, tt.want)
				}
			})
		}
	})
}

func TestDatabaseService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("tears down service, task definition, credential and row", func(t *testing.T) {
		svc, repo, cluster, creds := newTestDatabaseService(discardLogger())
		repo.Put(ctx, &models.Database{
			DatabaseID:        "db-1",
			UserID:            "github_1",
			ServiceArn:        "db-db-1",
			TaskDefinitionArn: "arn:task-def/db-1:1",
			PasswordParam:     creds.DBPasswordPath("db-1"),
		})
		creds.stored[creds.DBPasswordPath("db-1")] = "secret"

		if err := svc.Delete(ctx, "github_1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		if len(cluster.deletedServices) != 1 || cluster.deletedServices[0] != "db-db-1" {
			t.Errorf("deleted services = %v", cluster.deletedServices)
		}
		if len(cluster.deregisteredARNs) != 1 {
			t.Errorf("deregistered = %v", cluster.deregisteredARNs)
		}
		if len(creds.stored) != 0 {
			t.Error("credential parameter survived deletion")
		}
		if row, _ := repo.GetByUser(ctx, "github_1"); row != nil {
			t.Error("row survived deletion")
		}
	})

	t.Run("missing database is a 404", func(t *testing.T) {
		svc, _, _, _ := newTestDatabaseService(discardLogger())

		err := svc.Delete(ctx, "github_1")
		apiErr, ok := err.(*apierrors.APIError)
		if !ok || apiErr.StatusCode != 404 {
			t.Fatalf("Delete() error = %v, want 404", err)
		}
	})
}

func TestDatabaseService_ResetPassword(t *testing.T) {
	svc, _, _, _ := newTestDatabaseService(discardLogger())

	err := svc.ResetPassword(context.Background(), "github_1")
	apiErr, ok := err.(*apierrors.APIError)
	if !ok || apiErr.StatusCode != 501 {
		t.Fatalf("ResetPassword() error = %v, want 501", err)
	}
}

func TestGeneratePassword(t *testing.T) {
	for i := 0; i < 20; i++ {
		pw, err := GeneratePassword(16)
		if err != nil {
			t.Fatalf("GeneratePassword() error = %v", err)
		}
		if len(pw) != 16 {
			t.Fatalf("length = %d, want 16", len(pw))
		}

		var lower, upper, digits int
		for _, c := range pw {
			switch {
			case c >= 'a' && c <= 'z':
				lower++
			case c >= 'A' && c <= 'Z':
				upper++
			case c >= '0' && c <= '9':
				digits++
			}
		}
		if lower < 1 || upper < 1 || digits < 3 {
			t.Errorf("password %q misses the composition policy (%d lower, %d upper, %d digits)",
				pw, lower, upper, digits)
		}
	}
}
