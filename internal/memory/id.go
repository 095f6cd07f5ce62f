package memory

import "github.com/google/uuid"

// NewID returns a prefixed unique identifier for records a Store backend
// must assign one to (memory, relationship, pattern) when the caller left
// ID empty.
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
