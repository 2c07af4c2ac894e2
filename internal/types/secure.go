package types

import "log/slog"

const redacted = "[redacted]"

// SecretString holds a credential (database URL, push access token, admin
// key) that must never reach logs or JSON. Use Unmask at the point of use.
type SecretString string

// String hides the value from fmt verbs.
func (s SecretString) String() string { return redacted }

// LogValue hides the value from slog attributes.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON hides the value from config dumps.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the plaintext.
func (s SecretString) Unmask() string { return string(s) }

// IsSet reports whether a non-empty secret was configured.
func (s SecretString) IsSet() bool { return s != "" }
