package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrNotFound      = errors.New("secrets: not found")
)

// Reference schemes understood by Resolver.Resolve. Anything else is a literal value.
const (
	SchemeEnv = "env://"
	SchemeAWS = "awssm://"
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
}

type awsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSProvider struct {
	client awsClient
}

func NewAWS(ctx context.Context) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrInvalidConfig, err)
	}
	return NewAWSWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewAWSWithClient(client awsClient) (*AWSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil secretsmanager client", ErrInvalidConfig)
	}
	return &AWSProvider{client: client}, nil
}

// Get returns the secret named by key. A key of the form "id#field" reads the
// secret as a JSON object and returns one string field of it.
func (p *AWSProvider) Get(ctx context.Context, key string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("%w: nil aws provider", ErrInvalidConfig)
	}
	id, field, _ := strings.Cut(strings.TrimSpace(key), "#")
	if id == "" {
		return "", fmt.Errorf("%w: empty secret id", ErrInvalidConfig)
	}
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		return "", fmt.Errorf("secrets: get secret %q: %w", id, err)
	}

	var raw string
	switch {
	case out.SecretString != nil && strings.TrimSpace(*out.SecretString) != "":
		raw = strings.TrimSpace(*out.SecretString)
	case len(out.SecretBinary) > 0:
		raw = string(out.SecretBinary)
	default:
		return "", fmt.Errorf("%w: secret %q has no value", ErrNotFound, id)
	}
	if field == "" {
		return raw, nil
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("%w: secret %q is not a json object", ErrInvalidConfig, id)
	}
	v, ok := doc[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: secret %q has no field %q", ErrNotFound, id, field)
	}
	return strings.TrimSpace(v), nil
}

type EnvProvider struct{}

func NewEnv() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil env provider", ErrInvalidConfig)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty env key", ErrInvalidConfig)
	}
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%w: env %s is empty", ErrNotFound, key)
	}
	return v, nil
}

// Resolver turns connection-string flags into values. The AWS provider is
// built on first use so deployments without AWS credentials never touch it.
type Resolver struct {
	env Provider

	newAWS  func(context.Context) (Provider, error)
	awsOnce sync.Once
	aws     Provider
	awsErr  error
}

// NewResolver returns a Resolver backed by the environment and, lazily, by
// AWS Secrets Manager. A nil newAWS uses the default AWS credential chain.
func NewResolver(newAWS func(context.Context) (Provider, error)) *Resolver {
	if newAWS == nil {
		newAWS = func(ctx context.Context) (Provider, error) { return NewAWS(ctx) }
	}
	return &Resolver{env: NewEnv(), newAWS: newAWS}
}

// Resolve returns ref itself unless it starts with SchemeEnv or SchemeAWS, in
// which case the rest names the variable or secret to read.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, SchemeEnv):
		return r.env.Get(ctx, strings.TrimPrefix(ref, SchemeEnv))
	case strings.HasPrefix(ref, SchemeAWS):
		r.awsOnce.Do(func() { r.aws, r.awsErr = r.newAWS(ctx) })
		if r.awsErr != nil {
			return "", r.awsErr
		}
		return r.aws.Get(ctx, strings.TrimPrefix(ref, SchemeAWS))
	default:
		return ref, nil
	}
}
