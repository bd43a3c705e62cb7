package utils

import (
	"github.com/google/uuid"
)

// GetUUID returns a time-based uuid, falling back to a random one if the clock
// sequence cannot be read.
func GetUUID() string {
	u1, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}
	return u1.String()
}

// ShortID 日志中使用的短 id
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
