// Package envvault stores per-service environment blobs in a
// KMS-encrypted hierarchy of SSM parameters.
package envvault

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// MaxBlobSize is the hard ceiling on a stored env blob, enforced at write.
const MaxBlobSize = 4096

// resetPlaceholder overwrites the blob on an explicit reset. SSM
// rejects empty parameter values, so a single space stands in for
// "no environment".
const resetPlaceholder = " "

var (
	// ErrConflictingFlags is returned when a reset and new content are
	// requested at once.
	ErrConflictingFlags = errors.New("Cannot specify both envFileContent and isReset")

	// ErrMissingInitialEnv is returned when a first deployment arrives
	// without environment content.
	ErrMissingInitialEnv = errors.New("Initial deployment requires env content: no stored environment exists for this service")
)

// ErrBlobTooLarge reports an env blob over the size ceiling.
type ErrBlobTooLarge struct {
	Size int
}

func (e *ErrBlobTooLarge) Error() string {
	return fmt.Sprintf("env content is %d bytes, over the %d byte limit", e.Size, MaxBlobSize)
}

// ssmAPI is the subset of the SSM client the vault uses.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
}

// Vault manages one env blob per (userId, serviceId).
type Vault struct {
	ssm         ssmAPI
	projectName string
	kmsKeyARN   string
}

// New creates an env vault.
func New(client ssmAPI, projectName, kmsKeyARN string) *Vault {
	return &Vault{ssm: client, projectName: projectName, kmsKeyARN: kmsKeyARN}
}

// Path returns the parameter path for a service's env blob.
func (v *Vault) Path(userID, serviceID string) string {
	return fmt.Sprintf("/%s/%s/%s/DOTENV_BLOB", v.projectName, userID, serviceID)
}

// Exists reports whether a blob is stored for the service.
func (v *Vault) Exists(ctx context.Context, userID, serviceID string) (bool, error) {
	_, err := v.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(v.Path(userID, serviceID)),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("check env blob: %w", err)
	}
	return true, nil
}

// put writes the blob. Overwrite is set so retried writes are idempotent.
func (v *Vault) put(ctx context.Context, userID, serviceID, content string) error {
	_, err := v.ssm.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(v.Path(userID, serviceID)),
		Value:     aws.String(content),
		Type:      ssmtypes.ParameterTypeSecureString,
		KeyId:     aws.String(v.kmsKeyARN),
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("write env blob: %w", err)
	}
	return nil
}

// Resolve applies the three-way env decision table and returns the
// parameter path the builder should read:
//
//	reset requested            -> overwrite with the placeholder
//	new content supplied       -> size-check, overwrite
//	neither, blob exists       -> keep the stored blob
//	neither, no blob           -> fail: first deployment needs content
//
// Reset and new content together are rejected before anything is written.
func (v *Vault) Resolve(ctx context.Context, userID, serviceID, content string, isReset bool) (string, error) {
	if isReset && content != "" {
		return "", ErrConflictingFlags
	}

	switch {
	case isReset:
		if err := v.put(ctx, userID, serviceID, resetPlaceholder); err != nil {
			return "", err
		}
	case content != "":
		if len(content) > MaxBlobSize {
			return "", &ErrBlobTooLarge{Size: len(content)}
		}
		if err := v.put(ctx, userID, serviceID, content); err != nil {
			return "", err
		}
	default:
		exists, err := v.Exists(ctx, userID, serviceID)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", ErrMissingInitialEnv
		}
	}

	return v.Path(userID, serviceID), nil
}

// Delete removes a stored parameter. Used by the database controller's
// compensation and teardown paths for credential parameters.
func (v *Vault) Delete(ctx context.Context, path string) error {
	_, err := v.ssm.DeleteParameter(ctx, &ssm.DeleteParameterInput{
		Name: aws.String(path),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("delete parameter %s: %w", path, err)
	}
	return nil
}

// PutSecret writes an arbitrary SecureString parameter, used for
// database credentials at /{project}/db/{id}/password.
func (v *Vault) PutSecret(ctx context.Context, path, value string) error {
	_, err := v.ssm.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeSecureString,
		KeyId:     aws.String(v.kmsKeyARN),
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("write parameter %s: %w", path, err)
	}
	return nil
}

// DBPasswordPath returns the credential parameter path for a database.
func (v *Vault) DBPasswordPath(databaseID string) string {
	return fmt.Sprintf("/%s/db/%s/password", v.projectName, databaseID)
}
