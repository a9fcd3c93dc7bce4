package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// TerminalJobKey addresses the cached record of a job that reached COMPLETED or FAILED.
func TerminalJobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:terminal:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
