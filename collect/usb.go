package collect

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hazyhaar/hostwatch/snapshot"
)

const sysfsUSBRoot = "/sys/bus/usb/devices"

// scanUSB enumerates attached USB devices from the sysfs device tree.
// Entries without an idVendor file are interfaces or hubs' sub-nodes and
// are skipped. Results are sorted by device identity for stable diffing.
func scanUSB(root string) ([]snapshot.Device, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devices []snapshot.Device
	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())

		vendor, err := readSysfsAttr(dir, "idVendor")
		if err != nil {
			continue
		}
		product, err := readSysfsAttr(dir, "idProduct")
		if err != nil {
			continue
		}

		dev := snapshot.Device{
			VendorID:  vendor,
			ProductID: product,
		}
		// Serial and name are optional; many cheap devices ship without one.
		dev.Serial, _ = readSysfsAttr(dir, "serial")
		dev.Name = usbName(dir)

		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID() < devices[j].ID()
	})
	return devices, nil
}

// usbName builds a display name from the product and manufacturer attrs.
func usbName(dir string) string {
	product, _ := readSysfsAttr(dir, "product")
	manufacturer, _ := readSysfsAttr(dir, "manufacturer")
	switch {
	case product != "" && manufacturer != "":
		return manufacturer + " " + product
	case product != "":
		return product
	case manufacturer != "":
		return manufacturer
	default:
		return "unknown device"
	}
}

func readSysfsAttr(dir, name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
