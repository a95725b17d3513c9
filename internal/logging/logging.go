package logging

import (
	"log"
	"os"
	"strings"
)

var allowlistOrder = []string{
	"event",
	"method",
	"route",
	"status",
	"duration_ms",
	"ip_hash",
	"session_id",
	"host_id",
	"user_id",
	"connection_id",
	"transfer_id",
	"type",
	"count",
	"scope",
	"reason",
	"error",
	"version",
}

var allowlistKeys = func() map[string]struct{} {
	keys := make(map[string]struct{}, len(allowlistOrder))
	for _, key := range allowlistOrder {
		keys[key] = struct{}{}
	}
	return keys
}()

// Allowlist prints fields as key=value pairs in a fixed order. Keys outside
// the allowlist are dropped so payload contents never reach the log.
func Allowlist(logger *log.Logger, fields map[string]string) {
	if logger == nil {
		return
	}
	var parts []string
	for _, key := range allowlistOrder {
		value, ok := fields[key]
		if !ok || value == "" {
			continue
		}
		if _, allowed := allowlistKeys[key]; !allowed {
			continue
		}
		parts = append(parts, key+"="+sanitize(value))
	}
	if len(parts) == 0 {
		return
	}
	logger.Print(strings.Join(parts, " "))
}

func Fatal(logger *log.Logger, fields map[string]string) {
	Allowlist(logger, fields)
	os.Exit(1)
}

func sanitize(value string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return '_'
		}
		return r
	}, value)
}
