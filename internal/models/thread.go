package models

import (
	"fmt"
	"strconv"
)

// ThreadID returns the canonical conversation key for two participants.
// The smaller ID always comes first, so ThreadID(a, b) == ThreadID(b, a).
func ThreadID(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + "_" + strconv.FormatInt(b, 10)
}

// InThread reports whether a message between sender and receiver belongs to
// the conversation of a and b.
func InThread(sender, receiver, a, b int64) bool {
	return (sender == a && receiver == b) || (sender == b && receiver == a)
}

// ParseUserID parses a positive numeric user ID.
func ParseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}
