package xid

import (
	"github.com/google/uuid"
)

// New returns a prefixed identifier such as "stk-3f0c...". The prefix keeps ids
// readable in logs and audit entries.
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return prefix + "-" + id.String()
}
