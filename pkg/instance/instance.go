package instance

import (
	"fmt"
	"os"
)

// GetID identifies this process for lock ownership and log fields.
// SETTLEMENT_INSTANCE_ID wins; otherwise hostname plus pid.
func GetID() string {
	if id := os.Getenv("SETTLEMENT_INSTANCE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "settlement"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
