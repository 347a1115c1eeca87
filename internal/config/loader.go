package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix is the environment variable suffix used to identify SSM
// parameter pointer variables. For example, DATABASE_URL_SSM_PARAM points
// to the SSM path for the DATABASE_URL secret.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// envLookup is a function type for looking up environment variables.
// It matches the signature of os.LookupEnv and allows injection for testing.
type envLookup func(key string) (string, bool)

// envSet is a function type for setting environment variables.
// It matches the signature of os.Setenv and allows injection for testing.
type envSet func(key, value string) error

// environ is a function type for listing all environment variables.
// It matches the signature of os.Environ and allows injection for testing.
type environ func() []string

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	environ   environ
}

// defaultDeps returns the standard OS-backed dependencies.
func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the daemon configuration.
//
// It performs the following steps in order:
//  1. Loads a .env file if present (non-fatal if missing).
//  2. If APP_ENV != "local", resolves _SSM_PARAM pointers via the provider
//     and injects resolved values as environment variables.
//  3. Processes envconfig tags to populate the Config struct.
//  4. Populates Config.Build from linker-injected variables.
//  5. Validates struct tags, then the stage ordering.
//
// For local development the provider may be nil.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	// godotenv does NOT override variables that are already set.
	_ = godotenv.Load()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs the struct tag rules and the cross-field rules that tags
// cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.Alerts.Stages.Validate(); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "invalid alert stage settings",
			Err:     err,
		}
	}
	if cfg.Alerts.QuietHours.Enabled() && cfg.Alerts.QuietHours.Start == cfg.Alerts.QuietHours.End {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "quiet hours start and end must differ",
		}
	}
	return nil
}

// resolveSSMParams scans the environment for variables ending in _SSM_PARAM,
// fetches the corresponding secret values via the SecretProvider, and injects
// them back into the environment so that envconfig can process them.
//
// For example, WEBHOOK_SECRET_SSM_PARAM=/prod/meetingalert/webhook/secret
// resolves that path and sets WEBHOOK_SECRET.
//
// If the target variable is already set in the environment (via direct env var
// or .env file), the SSM resolution is skipped for that variable. This respects
// the priority chain: OS Environment > Dotenv > SSM.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	// Collect all _SSM_PARAM variables and their target env var names.
	type ssmBinding struct {
		targetEnvVar string
		ssmPath      string
	}

	var bindings []ssmBinding
	ssmPathToTarget := make(map[string]string)

	for _, envEntry := range deps.environ() {
		key, ssmPath, ok := strings.Cut(envEntry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || ssmPath == "" {
			continue
		}

		targetEnvVar := strings.TrimSuffix(key, ssmParamSuffix)
		// Env > SSM.
		if _, exists := deps.lookupEnv(targetEnvVar); exists {
			continue
		}

		bindings = append(bindings, ssmBinding{
			targetEnvVar: targetEnvVar,
			ssmPath:      ssmPath,
		})
		ssmPathToTarget[ssmPath] = targetEnvVar
	}

	if len(bindings) == 0 {
		return nil
	}

	if provider == nil {
		targetVars := make([]string, 0, len(bindings))
		for _, b := range bindings {
			targetVars = append(targetVars, b.targetEnvVar)
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targetVars, ", ")),
		}
	}

	ssmPaths := make([]string, 0, len(bindings))
	for _, b := range bindings {
		ssmPaths = append(ssmPaths, b.ssmPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, ssmPaths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(ssmPaths)),
			Err:     err,
		}
	}

	for ssmPath, value := range resolved {
		targetEnvVar, ok := ssmPathToTarget[ssmPath]
		if !ok {
			continue
		}
		if err := deps.setEnv(targetEnvVar, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", targetEnvVar),
				Err:     err,
			}
		}
	}

	var missing []string
	for _, b := range bindings {
		if _, ok := resolved[b.ssmPath]; !ok {
			missing = append(missing, b.targetEnvVar)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
