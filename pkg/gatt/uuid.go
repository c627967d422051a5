package gatt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// shortUUIDPattern matches the 16- and 32-bit SIG-assigned short forms.
var shortUUIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{4}([0-9a-fA-F]{4})?$`)

// sigBaseUUID is the Bluetooth SIG base into which short UUIDs expand.
const sigBaseUUID = "%s-0000-1000-8000-00805f9b34fb"

// NormalizeServiceUUID validates a service UUID and returns its canonical
// lowercase 128-bit form. Short 16- and 32-bit SIG forms are expanded into
// the Bluetooth base UUID, so discovery-filter matching is effectively
// case-insensitive.
func NormalizeServiceUUID(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("service UUID cannot be empty")
	}
	if shortUUIDPattern.MatchString(trimmed) {
		short := strings.ToLower(trimmed)
		if len(short) == 4 {
			short = "0000" + short
		}
		return fmt.Sprintf(sigBaseUUID, short), nil
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid service UUID %q: %w", s, err)
	}
	return strings.ToLower(parsed.String()), nil
}

// NormalizeServiceUUIDs normalizes a slice of service UUIDs, rejecting the
// whole set on the first invalid entry.
func NormalizeServiceUUIDs(uuids []string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	result := make([]string, 0, len(uuids))
	for _, u := range uuids {
		normalized, err := NormalizeServiceUUID(u)
		if err != nil {
			return nil, err
		}
		result = append(result, normalized)
	}
	return result, nil
}

// normalizeMAC canonicalizes a MAC address to the lowercase colon-separated
// form used as the registry key.
func normalizeMAC(mac string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
}
