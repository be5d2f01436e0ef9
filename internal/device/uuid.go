package device

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb without dashes, lowercased).
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a service UUID string to a canonical form:
// lowercase, no dashes, no 0x prefix. Full 128-bit UUIDs in the Bluetooth
// SIG base format are reduced to their 16-bit short form so the same
// service compares equal regardless of which representation the platform
// reported.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	s = strings.TrimPrefix(s, "0x")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}
