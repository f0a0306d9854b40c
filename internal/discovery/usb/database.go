// internal/discovery/usb/database.go
package usb

import "strings"

// ParticleVendorID is the USB vendor id of Particle based controllers
const ParticleVendorID = "2B04"

// ProductInfo describes a known controller model
type ProductInfo struct {
	Model    string
	Platform string
}

// DeviceDatabase contains the USB products that run Spark firmware
type DeviceDatabase struct {
	products map[string]ProductInfo
}

// NewDeviceDatabase creates and initializes the device database
func NewDeviceDatabase() *DeviceDatabase {
	return &DeviceDatabase{
		products: map[string]ProductInfo{
			hwid(ParticleVendorID, "C006"): {Model: "Spark 2", Platform: "photon"},
			hwid(ParticleVendorID, "C008"): {Model: "Spark 3", Platform: "p1"},
		},
	}
}

// Lookup returns product information for a vendor/product id pair.
// Ids are hex strings and compared case-insensitively.
func (db *DeviceDatabase) Lookup(vid, pid string) (ProductInfo, bool) {
	info, ok := db.products[hwid(vid, pid)]
	return info, ok
}

// IsKnownVendor reports whether any known product uses vid
func (db *DeviceDatabase) IsKnownVendor(vid string) bool {
	prefix := strings.ToUpper(vid) + ":"
	for key := range db.products {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func hwid(vid, pid string) string {
	return strings.ToUpper(vid) + ":" + strings.ToUpper(pid)
}
