package approval

import (
	"net/mail"
	"regexp"
	"strings"
)

// documentIDPattern matches Document Service identifiers: URL-safe base64
// characters only.
var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateDocumentID rejects empty or malformed document identifiers.
func ValidateDocumentID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return &ValidationError{Field: "document id", Value: id, Reason: "empty"}
	}
	if !documentIDPattern.MatchString(trimmed) {
		return &ValidationError{Field: "document id", Value: id, Reason: "unexpected characters"}
	}
	return nil
}

// ValidateEmail rejects recipient addresses that cannot receive a request.
// Display-name forms ("Jane <jane@x.com>") are rejected: rows store bare
// addresses.
func ValidateEmail(email string) error {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return &ValidationError{Field: "recipient", Value: email, Reason: "empty"}
	}
	if !strings.Contains(trimmed, "@") {
		return &ValidationError{Field: "recipient", Value: email, Reason: "missing @"}
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return &ValidationError{Field: "recipient", Value: email, Reason: "not a bare address"}
	}
	return nil
}
