package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmMaxBatchSize is the GetParameters per-request limit.
const ssmMaxBatchSize = 10

// SSMClient is the subset of the SSM SDK client used by SSMProvider.
type SSMClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider resolves SecureString parameters from AWS Systems Manager
// Parameter Store. The client is created lazily so that a local run with no
// _SSM_PARAM pointers never loads AWS credentials.
type SSMProvider struct {
	aws    AWSConfig
	client SSMClient
}

// NewSSMProvider creates an SSMProvider for the given region and optional
// endpoint override (LocalStack).
func NewSSMProvider(cfg AWSConfig) *SSMProvider {
	return &SSMProvider{aws: cfg}
}

// NewSSMProviderWithClient creates an SSMProvider over an existing client.
func NewSSMProviderWithClient(client SSMClient) *SSMProvider {
	return &SSMProvider{client: client}
}

func (p *SSMProvider) ensureClient(ctx context.Context) error {
	if p.client != nil {
		return nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.aws.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config for SSM (region=%s): %w", p.aws.Region, err)
	}

	p.client = ssm.NewFromConfig(cfg, func(o *ssm.Options) {
		if p.aws.EndpointURL != "" {
			o.BaseEndpoint = aws.String(p.aws.EndpointURL)
		}
	})
	return nil
}

// GetParametersBatch fetches keys in batches of ssmMaxBatchSize with
// decryption. Any parameter SSM reports as invalid fails the whole call.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	for i := 0; i < len(keys); i += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during SSM parameter retrieval: %w", err)
		}

		end := min(i+ssmMaxBatchSize, len(keys))
		output, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          keys[i:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("SSM GetParameters failed (batch %d-%d of %d): %w",
				i, end-1, len(keys), err)
		}

		for _, param := range output.Parameters {
			if param.Name != nil && param.Value != nil {
				result[*param.Name] = *param.Value
			}
		}
		if len(output.InvalidParameters) > 0 {
			return nil, fmt.Errorf("SSM parameters not found: %v", output.InvalidParameters)
		}
	}

	return result, nil
}
