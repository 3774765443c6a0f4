package twiliowhatsapp

import (
	"log/slog"

	twilioclient "github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the request signature Twilio computes with the auth token.
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks that inbound webhook requests were signed by Twilio.
type SignatureValidator struct {
	validator twilioclient.RequestValidator
}

// NewSignatureValidator creates a validator for authToken.
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: twilioclient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the public URL and form parameters.
func (v *SignatureValidator) Validate(url string, params map[string]string, signature string) bool {
	if signature == "" {
		slog.Warn("Twilio webhook missing signature", "url", url)
		return false
	}
	ok := v.validator.Validate(url, params, signature)
	if !ok {
		slog.Warn("Twilio webhook signature mismatch", "url", url)
	}
	return ok
}
