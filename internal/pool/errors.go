package pool

import (
	"fmt"

	"github.com/google/uuid"
)

// ShutdownError reports a worker that neither acknowledged a stop request
// nor yielded to forced termination. It indicates the host's process-control
// primitives are not functioning and is not recoverable by the pool.
type ShutdownError struct {
	WorkerID uuid.UUID
	Reason   string
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("worker %s failed to shut down cleanly: %s", e.WorkerID, e.Reason)
}
