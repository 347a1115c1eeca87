package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential (database URL, webhook signing secret,
// Redis password) and prints as a placeholder through fmt, slog and JSON.
// Unmask returns the raw value for the one place that needs it.
type SecretString string

// String returns the redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a non-empty secret was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
