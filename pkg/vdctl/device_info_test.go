package vdctl

import "testing"

func TestParseAnnouncementWellFormed(t *testing.T) {
	info := ParseAnnouncement([]byte("VelocitySP-v2025.06-LAN9662-ung8291 326 300 2"))
	want := DeviceInfo{DeviceType: "LAN9662", FirmwareVersion: "2025.06", SerialNumber: "ung8291"}
	if info != want {
		t.Fatalf("got %+v, want %+v", info, want)
	}
}

func TestParseAnnouncementEmptyPayload(t *testing.T) {
	info := ParseAnnouncement(nil)
	want := DeviceInfo{DeviceType: "Unknown", FirmwareVersion: "Unknown", SerialNumber: "Unknown"}
	if info != want {
		t.Fatalf("got %+v, want %+v", info, want)
	}
}

func TestParseAnnouncementUnrecognizedVendor(t *testing.T) {
	info := ParseAnnouncement([]byte("SomeOtherThing-v1-X 1 2 3"))
	if info.DeviceType != "SomeOtherThing-v1-X" {
		t.Fatalf("got DeviceType %q, want raw first token", info.DeviceType)
	}
	if info.FirmwareVersion != "Unknown" || info.SerialNumber != "Unknown" {
		t.Fatalf("got %+v, want Unknown fallbacks", info)
	}
}

func TestPortCount(t *testing.T) {
	cases := map[string]int{
		"LAN9662": 2,
		"lan9668": 8,
		"LAN9692": 12,
		"LAN1234": 2,
	}
	for deviceType, want := range cases {
		if got := PortCount(deviceType); got != want {
			t.Errorf("PortCount(%q) = %d, want %d", deviceType, got, want)
		}
	}
}
