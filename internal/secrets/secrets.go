// Package secrets resolves provider credentials by name from the process
// environment or from AWS Systems Manager Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a named secret does not exist or is empty
var ErrNotFound = errors.New("secrets: value not found")

// Store looks up secret values by name
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvStore reads secrets from environment variables
type EnvStore struct{}

// Get returns the value of the environment variable called name
func (EnvStore) Get(_ context.Context, name string) (string, error) {
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: environment variable %s", ErrNotFound, name)
	}
	return value, nil
}

// parameterAPI is the part of the SSM client SSMStore uses
type parameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMStore reads SecureString parameters from Parameter Store
type SSMStore struct {
	client parameterAPI
}

// NewSSMStore creates a store using the default AWS credential chain
func NewSSMStore(ctx context.Context, region string) (*SSMStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &SSMStore{client: ssm.NewFromConfig(awsCfg)}, nil
}

// Get fetches and decrypts the parameter called name
func (s *SSMStore) Get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: parameter %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("%w: parameter %s", ErrNotFound, name)
	}

	logrus.WithFields(logrus.Fields{
		"parameter": name,
		"version":   out.Parameter.Version,
	}).Debug("Loaded parameter from SSM")

	return aws.ToString(out.Parameter.Value), nil
}

// New returns the store named by source ("env" or "ssm")
func New(ctx context.Context, source, region string) (Store, error) {
	switch source {
	case "", "env":
		return EnvStore{}, nil
	case "ssm":
		return NewSSMStore(ctx, region)
	default:
		return nil, fmt.Errorf("unknown credential source %q", source)
	}
}
