package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSecret = "whsec-super-secret-12345"

func TestSecretString_Formatting(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v", "%+v"} {
		got := fmt.Sprintf(verb, s)
		if strings.Contains(got, testSecret) {
			t.Errorf("fmt %s leaked the raw secret: %s", verb, got)
		}
		if got != redactedPlaceholder {
			t.Errorf("fmt %s = %q, want %q", verb, got, redactedPlaceholder)
		}
	}
}

func TestSecretString_JSON(t *testing.T) {
	cfg := struct {
		URL    string       `json:"url"`
		Secret SecretString `json:"secret"`
	}{URL: "https://hooks.example.com", Secret: SecretString(testSecret)}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("JSON leaked the raw secret: %s", data)
	}
	if !strings.Contains(string(data), `"secret":"`+redactedPlaceholder+`"`) {
		t.Errorf("JSON = %s, want redacted placeholder", data)
	}
}

func TestSecretString_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("config loaded", "webhook_secret", SecretString(testSecret))

	if strings.Contains(buf.String(), testSecret) {
		t.Errorf("slog leaked the raw secret: %s", buf.String())
	}
}

func TestSecretString_UnmaskAndIsSet(t *testing.T) {
	s := SecretString(testSecret)
	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q, want raw value", s.Unmask())
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for a configured secret")
	}
	if SecretString("").IsSet() {
		t.Error("IsSet() = true for an empty secret")
	}
}
