package vdctl

import "strings"

// DeviceInfo is the parsed form of an unsolicited MUP1 announcement
// "VelocitySP-v<fw>-<model>-<serial> <n1> <n2> <n3>".
type DeviceInfo struct {
	DeviceType      string
	FirmwareVersion string
	SerialNumber    string
}

const announcementVendor = "VelocitySP"

// ParseAnnouncement decodes the ASCII payload of an "A" frame. If the
// prefix does not match the expected grammar, DeviceType is the raw
// first token and the other fields fall back to "Unknown".
func ParseAnnouncement(payload []byte) DeviceInfo {
	fields := strings.Fields(string(payload))
	if len(fields) == 0 {
		return DeviceInfo{DeviceType: "Unknown", FirmwareVersion: "Unknown", SerialNumber: "Unknown"}
	}

	components := strings.Split(fields[0], "-")
	if len(components) >= 4 && components[0] == announcementVendor {
		return DeviceInfo{
			DeviceType:      components[2],
			FirmwareVersion: strings.TrimPrefix(components[1], "v"),
			SerialNumber:    components[3],
		}
	}

	return DeviceInfo{
		DeviceType:      fields[0],
		FirmwareVersion: "Unknown",
		SerialNumber:    "Unknown",
	}
}

// portCountTable maps a case-insensitive substring of DeviceType to
// its port count. Order matters only in that the first
// match wins; the entries here do not overlap.
var portCountTable = []struct {
	substr string
	ports  int
}{
	{"9662", 2},
	{"9668", 8},
	{"9692", 12},
}

const defaultPortCount = 2

// PortCount derives the switch's port count from its device type
// string.
func PortCount(deviceType string) int {
	lower := strings.ToLower(deviceType)
	for _, entry := range portCountTable {
		if strings.Contains(lower, entry.substr) {
			return entry.ports
		}
	}
	return defaultPortCount
}
