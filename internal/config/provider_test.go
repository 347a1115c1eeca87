package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSSMClient struct {
	values  map[string]string
	err     error
	batches [][]string
}

func (m *mockSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.batches = append(m.batches, in.Names)
	if m.err != nil {
		return nil, m.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := m.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

var (
	_ SecretProvider = (*SSMProvider)(nil)
	_ SecretProvider = (*EnvVarProvider)(nil)
)

func TestSSMProvider_Batches(t *testing.T) {
	values := make(map[string]string)
	keys := make([]string, 0, 23)
	for i := range 23 {
		k := fmt.Sprintf("/dev/param/%02d", i)
		keys = append(keys, k)
		values[k] = fmt.Sprintf("v%d", i)
	}
	client := &mockSSMClient{values: values}

	got, err := NewSSMProviderWithClient(client).GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Equal(t, values, got)

	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 10)
	assert.Len(t, client.batches[1], 10)
	assert.Len(t, client.batches[2], 3)
}

func TestSSMProvider_EmptyKeys(t *testing.T) {
	client := &mockSSMClient{}

	got, err := NewSSMProviderWithClient(client).GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, client.batches)
}

func TestSSMProvider_InvalidParameter(t *testing.T) {
	client := &mockSSMClient{values: map[string]string{"/a": "1"}}

	_, err := NewSSMProviderWithClient(client).GetParametersBatch(context.Background(), []string{"/a", "/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing")
}

func TestSSMProvider_ClientError(t *testing.T) {
	boom := errors.New("access denied")
	client := &mockSSMClient{err: boom}

	_, err := NewSSMProviderWithClient(client).GetParametersBatch(context.Background(), []string{"/a"})
	assert.ErrorIs(t, err, boom)
}

func TestSSMProvider_CancelledContext(t *testing.T) {
	client := &mockSSMClient{values: map[string]string{"/a": "1"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSSMProviderWithClient(client).GetParametersBatch(ctx, []string{"/a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.batches)
}

func TestEnvVarProvider(t *testing.T) {
	p := &EnvVarProvider{lookup: func(k string) (string, bool) {
		if k == "PRESENT" {
			return "yes", true
		}
		return "", false
	}}

	got, err := p.GetParametersBatch(context.Background(), []string{"PRESENT", "ABSENT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PRESENT": "yes"}, got)
}
