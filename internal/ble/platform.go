package ble

import "tinygo.org/x/bluetooth"

// PlatformGatt is the single shim boundary for behavior that varies by
// OS/stack: requesting connection priority and MTU are both
// "expect/actual" concerns on most platforms. The core never
// conditionally compiles on OS; it depends on this interface and a
// default implementation.
type PlatformGatt interface {
	// RequestHighPriority asks the platform to prioritize this link.
	// A no-op return is always permitted.
	RequestHighPriority(device bluetooth.Device) error

	// RequestMTU asks for the given MTU and returns the negotiated
	// value. Platforms that manage MTU transparently return 0 and the
	// caller keeps the system default.
	RequestMTU(device bluetooth.Device, desired uint16) (uint16, error)
}

// defaultPlatformGatt is the PlatformGatt used when a deployment does
// not supply a platform-specific implementation: the priority request is
// a no-op, and the MTU request is passed to the device, with any error
// reported as MTU 0 (system default kept) rather than returned.
type defaultPlatformGatt struct{}

// NewDefaultPlatformGatt returns the default PlatformGatt.
func NewDefaultPlatformGatt() PlatformGatt { return defaultPlatformGatt{} }

func (defaultPlatformGatt) RequestHighPriority(bluetooth.Device) error { return nil }

func (defaultPlatformGatt) RequestMTU(device bluetooth.Device, desired uint16) (uint16, error) {
	mtu, err := device.RequestMTU(desired)
	if err != nil {
		return 0, nil
	}
	return mtu, nil
}
