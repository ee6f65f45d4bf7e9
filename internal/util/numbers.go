package util

import (
	"fmt"
	"strconv"
)

// ParseID parses a positive database identifier.
func ParseID(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be positive", s)
	}
	return v, nil
}

func AsPtr[T any](v T) *T {
	return &v
}
