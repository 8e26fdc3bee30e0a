package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"hooky/internal/settings"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	SignaturePrefix = "sha256="

	// SignaturePattern is reported verbatim in validation errors.
	SignaturePattern = `sha256=[A-Fa-f0-9]{64}`
)

var signaturePattern = regexp.MustCompile(`^` + SignaturePattern + `$`)

// Outcome is the result of checking a webhook signature.
type Outcome int

const (
	Authenticated Outcome = iota
	BadFormat
	SignatureMismatch
	SecretUnavailable
)

func (o Outcome) String() string {
	switch o {
	case Authenticated:
		return "authenticated"
	case BadFormat:
		return "bad_format"
	case SignatureMismatch:
		return "signature_mismatch"
	case SecretUnavailable:
		return "secret_unavailable"
	default:
		return "unknown"
	}
}

// Verification carries the outcome plus what is needed to explain it.
// Digest is the signature we computed; it is safe to log, the secret is not.
type Verification struct {
	Outcome    Outcome
	Digest     string
	Validation *ValidationError
}

// ValidateHeader checks the shape of an X-Hub-Signature-256 value. It runs
// before any secret lookup or HMAC computation.
func ValidateHeader(value string, present bool) *ValidationError {
	if !present {
		return &ValidationError{
			Loc:  []string{"header", "x-hub-signature-256"},
			Msg:  "Missing required header parameter",
			Type: "value_error",
		}
	}
	if !signaturePattern.MatchString(value) {
		return &ValidationError{
			Loc:  []string{"header", "x-hub-signature-256"},
			Msg:  "string does not match regex '" + SignaturePattern + "'",
			Type: "value_error.str.regex",
			Ctx:  map[string]any{"pattern": SignaturePattern},
		}
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 value GitHub would send for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify authenticates payload against the signature header. A nil secret
// means the secret is not configured.
func Verify(secret *settings.Secret, payload []byte, header string, present bool) Verification {
	if verr := ValidateHeader(header, present); verr != nil {
		return Verification{Outcome: BadFormat, Validation: verr}
	}

	if secret == nil {
		return Verification{Outcome: SecretUnavailable}
	}

	expected := Sign(secret.Bytes(), payload)

	// Constant-time comparison to prevent timing attacks
	if !hmac.Equal([]byte(expected), []byte(header)) {
		return Verification{Outcome: SignatureMismatch, Digest: expected}
	}

	return Verification{Outcome: Authenticated, Digest: expected}
}
