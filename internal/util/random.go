// Package util provides small helpers shared across BookPipe components.
package util

import (
	"math/rand/v2"
	"strings"
)

const hexChars = "0123456789abcdef"

// GenerateRandomID returns prefix followed by hexLength random hex characters.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns a random lowercase hex string. Not for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(hexChars[rand.IntN(len(hexChars))])
	}
	return b.String()
}

// GenerateRequestID tags an inbound HTTP request for log correlation.
func GenerateRequestID() string {
	return GenerateRandomID("req_", 16)
}

// GenerateMessageID is used for chat messages whose transport supplies no ID.
func GenerateMessageID() string {
	return GenerateRandomID("msg_", 24)
}
