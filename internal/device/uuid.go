package device

import "strings"

// NormalizeUUID converts a characteristic UUID to the canonical catalog key:
// lowercase with dashes stripped. Protocol tables use the dashed form while
// BLE stacks report the packed form; both normalize to the same key.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// ShortenUUID returns a truncated UUID for log and diagnostic output.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
