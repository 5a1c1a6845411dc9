package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeAWSClient struct {
	out   *secretsmanager.GetSecretValueOutput
	err   error
	calls int
	ids   []string
}

func (c *fakeAWSClient) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	c.calls++
	c.ids = append(c.ids, *in.SecretId)
	if c.err != nil {
		return nil, c.err
	}
	return c.out, nil
}

func TestEnvProvider(t *testing.T) {
	const key = "BOUNTYD_TEST_SECRET_ENV"
	t.Setenv(key, "  postgres://u:p@db/bounties  ")

	p := NewEnv()
	got, err := p.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "postgres://u:p@db/bounties" {
		t.Fatalf("value mismatch: got %q", got)
	}
	if _, err := p.Get(context.Background(), "BOUNTYD_MISSING_ENV_XYZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAWSProvider_PlainAndJSONField(t *testing.T) {
	t.Parallel()

	client := &fakeAWSClient{out: &secretsmanager.GetSecretValueOutput{
		SecretString: strPtr(` {"dsn":"postgres://db/bounties","redis":""} `),
	}}
	p, err := NewAWSWithClient(client)
	if err != nil {
		t.Fatalf("NewAWSWithClient: %v", err)
	}

	got, err := p.Get(context.Background(), "prod/bountyd#dsn")
	if err != nil {
		t.Fatalf("Get field: %v", err)
	}
	if got != "postgres://db/bounties" {
		t.Fatalf("field mismatch: got %q", got)
	}
	if client.ids[0] != "prod/bountyd" {
		t.Fatalf("secret id: got %q want prod/bountyd", client.ids[0])
	}

	if _, err := p.Get(context.Background(), "prod/bountyd#redis"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty field: got %v want ErrNotFound", err)
	}

	raw, err := p.Get(context.Background(), "prod/bountyd")
	if err != nil {
		t.Fatalf("Get raw: %v", err)
	}
	if raw != `{"dsn":"postgres://db/bounties","redis":""}` {
		t.Fatalf("raw mismatch: got %q", raw)
	}
}

func TestAWSProvider_NotJSON(t *testing.T) {
	t.Parallel()

	p, _ := NewAWSWithClient(&fakeAWSClient{out: &secretsmanager.GetSecretValueOutput{SecretString: strPtr("plain")}})
	if _, err := p.Get(context.Background(), "id#dsn"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("got %v want ErrInvalidConfig", err)
	}
}

func TestResolver(t *testing.T) {
	t.Setenv("BOUNTYD_TEST_REDIS_URL", "redis://cache:6379/0")

	client := &fakeAWSClient{out: &secretsmanager.GetSecretValueOutput{SecretString: strPtr("https://rpc.example")}}
	builds := 0
	r := NewResolver(func(context.Context) (Provider, error) {
		builds++
		return NewAWSWithClient(client)
	})
	ctx := context.Background()

	if got, err := r.Resolve(ctx, " postgres://literal "); err != nil || got != "postgres://literal" {
		t.Fatalf("literal: got %q err %v", got, err)
	}
	if got, err := r.Resolve(ctx, "env://BOUNTYD_TEST_REDIS_URL"); err != nil || got != "redis://cache:6379/0" {
		t.Fatalf("env: got %q err %v", got, err)
	}
	if builds != 0 {
		t.Fatalf("aws provider built without an awssm reference")
	}
	for i := 0; i < 2; i++ {
		if got, err := r.Resolve(ctx, "awssm://prod/rpc"); err != nil || got != "https://rpc.example" {
			t.Fatalf("aws: got %q err %v", got, err)
		}
	}
	if builds != 1 || client.calls != 2 {
		t.Fatalf("builds=%d calls=%d, want 1 and 2", builds, client.calls)
	}
}

func TestResolver_AWSBuildErrorSticks(t *testing.T) {
	t.Parallel()

	boom := errors.New("no credentials")
	r := NewResolver(func(context.Context) (Provider, error) { return nil, boom })
	if _, err := r.Resolve(context.Background(), "awssm://x"); !errors.Is(err, boom) {
		t.Fatalf("got %v want %v", err, boom)
	}
}

func strPtr(v string) *string { return &v }
