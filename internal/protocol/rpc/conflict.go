package rpc

import (
	"regexp"
	"strings"
)

// ConflictMarker is the text the counterparty uses to refuse a second open channel.
const ConflictMarker = "an open channel with broker already exists"

var channelIDPattern = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)

// ParseConflict reports whether message is a channel conflict and returns the
// id of the existing channel. A conflict without a parseable id is not treated
// as one.
func ParseConflict(message string) (string, bool) {
	if !strings.Contains(strings.ToLower(message), ConflictMarker) {
		return "", false
	}
	id := channelIDPattern.FindString(message)
	if id == "" {
		return "", false
	}
	return strings.ToLower(id), true
}
