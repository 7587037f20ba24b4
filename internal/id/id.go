package id

import (
	"os"
	"strings"

	"github.com/rs/xid"
)

func GenerateRunID() string {
	return "run-" + xid.New().String()
}

// GetInstanceID identifies the host the agent runs on. App Service sets
// WEBSITE_INSTANCE_ID per instance; outside of it the machine id is used.
func GetInstanceID() string {
	if id := os.Getenv("WEBSITE_INSTANCE_ID"); id != "" {
		return cleanID(id)
	}

	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		machineID := strings.TrimSpace(string(data))
		if len(machineID) >= 12 {
			return "host-" + machineID[:12]
		}
	}

	return "host-" + xid.New().String()
}

func cleanID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "_", "-")
	return s
}
