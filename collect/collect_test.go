package collect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeUSBDevice lays out one sysfs-style device directory.
func writeUSBDevice(t *testing.T, root, name string, attrs map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for attr, value := range attrs {
		if err := os.WriteFile(filepath.Join(dir, attr), []byte(value+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanUSB_ReadsDevices(t *testing.T) {
	root := t.TempDir()
	writeUSBDevice(t, root, "1-2", map[string]string{
		"idVendor":     "046d",
		"idProduct":    "c077",
		"serial":       "A1B2C3",
		"manufacturer": "Logitech",
		"product":      "USB Optical Mouse",
	})
	writeUSBDevice(t, root, "1-3", map[string]string{
		"idVendor":  "0781",
		"idProduct": "5583",
		"product":   "Ultra Fit",
	})
	// Interface nodes have no idVendor and must be skipped.
	writeUSBDevice(t, root, "1-2:1.0", map[string]string{
		"bInterfaceClass": "03",
	})

	devices, err := scanUSB(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2: %+v", len(devices), devices)
	}

	mouse := devices[0]
	if mouse.VendorID != "046d" || mouse.ProductID != "c077" || mouse.Serial != "A1B2C3" {
		t.Errorf("mouse = %+v", mouse)
	}
	if mouse.Name != "Logitech USB Optical Mouse" {
		t.Errorf("mouse name = %q", mouse.Name)
	}
	if mouse.ID() != "046d:c077:A1B2C3" {
		t.Errorf("mouse id = %q", mouse.ID())
	}

	stick := devices[1]
	if stick.Name != "Ultra Fit" {
		t.Errorf("serial-less device name = %q", stick.Name)
	}
	if stick.ID() != "0781:5583:" {
		t.Errorf("serial-less device id = %q", stick.ID())
	}
}

func TestScanUSB_MissingRoot(t *testing.T) {
	if _, err := scanUSB(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("missing sysfs root should error")
	}
}

func TestScanUSB_EmptyBus(t *testing.T) {
	devices, err := scanUSB(t.TempDir())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("got %d devices on empty bus", len(devices))
	}
}

func TestSnapshot_USBFailureMarksSectionMissing(t *testing.T) {
	c := New(WithUSBRoot(filepath.Join(t.TempDir(), "nope")))
	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Devices.OK {
		t.Errorf("unreadable usb root should mark the section missing")
	}
	if snap.Taken.IsZero() || snap.Hostname == "" {
		t.Errorf("snapshot metadata incomplete: %+v", snap)
	}
}

func TestSnapshot_USBSuccess(t *testing.T) {
	root := t.TempDir()
	writeUSBDevice(t, root, "2-1", map[string]string{
		"idVendor":  "dead",
		"idProduct": "beef",
	})

	c := New(WithUSBRoot(root))
	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Devices.OK || len(snap.Devices.Items) != 1 {
		t.Errorf("devices = %+v", snap.Devices)
	}
}
