package domain

import (
	"time"

	"github.com/google/uuid"
)

// CompletionEvent signals that a registrant submitted the final stage.
// It carries only the identity; the dispatcher re-reads the record at
// notification time.
type CompletionEvent struct {
	Identity    uuid.UUID
	CompletedAt time.Time
}
