package store

import (
	"time"

	"github.com/google/uuid"
)

// newID mints a new entity identifier using google/uuid for every record id.
func newID() string {
	return uuid.NewString()
}

// nowUnix is the storage layer's clock, overridable in tests.
var nowUnix = func() int64 {
	return time.Now().Unix()
}
