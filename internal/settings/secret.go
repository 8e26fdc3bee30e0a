package settings

import (
	"encoding/json"
	"log/slog"
)

const redacted = "**********"

// Secret holds key material that must never reach logs or responses.
// Every textual rendering of a Secret is redacted; use Bytes to get the value.
type Secret []byte

// NewSecret copies s into a Secret.
func NewSecret(s string) Secret {
	return Secret([]byte(s))
}

// Bytes returns the raw secret value.
func (s Secret) Bytes() []byte {
	return []byte(s)
}

// IsEmpty reports whether the secret has no bytes.
func (s Secret) IsEmpty() bool {
	return len(s) == 0
}

func (s Secret) String() string {
	if len(s) == 0 {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return "settings.Secret(" + redacted + ")"
}

// LogValue keeps slog from printing the underlying bytes.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
