package core

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// DefaultOwner identifies this process as a lock holder: host, pid and a
// random suffix so restarted processes reusing a pid stay distinct.
func DefaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}
