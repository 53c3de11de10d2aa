package ble

import "tinygo.org/x/bluetooth"

// Wire-protocol UUIDs. NUS/TX/RX are the standard Nordic UART Service
// (with one exception: RX is present only for discovery, never
// subscribed, because this trainer's firmware notifies over proprietary
// characteristics instead). The MONITOR/REPS/DIAGNOSTIC/HEURISTIC/
// VERSION/MODE UUIDs are proprietary to the trainer; their exact values
// are vendor-specific and not reverse engineered further than the
// protocol already in use, so they are held here as named package-level
// vars a deployment can override at init time if its hardware differs.
var (
	NUSServiceUUID = mustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	TXCharUUID     = mustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	RXCharUUID     = mustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")

	MonitorCharUUID    = mustParse("6e400010-b5a3-f393-e0a9-e50e24dcca9e")
	RepsCharUUID       = mustParse("6e400011-b5a3-f393-e0a9-e50e24dcca9e")
	DiagnosticCharUUID = mustParse("6e400012-b5a3-f393-e0a9-e50e24dcca9e")
	HeuristicCharUUID  = mustParse("6e400013-b5a3-f393-e0a9-e50e24dcca9e")
	VersionCharUUID    = mustParse("6e400014-b5a3-f393-e0a9-e50e24dcca9e")
	ModeCharUUID       = mustParse("6e400015-b5a3-f393-e0a9-e50e24dcca9e")

	// FilterServiceUUID (0000fef3-...) is one of the device-qualification
	// signals used when scanning for a compatible trainer.
	FilterServiceUUID = mustParse("0000fef3-0000-1000-8000-00805f9b34fb")

	// Standard Device Information Service / Firmware Revision String.
	DeviceInfoServiceUUID  = mustParse("0000180a-0000-1000-8000-00805f9b34fb")
	FirmwareRevisionCharUUID = mustParse("00002a26-0000-1000-8000-00805f9b34fb")
)

func mustParse(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic("ble: invalid built-in UUID constant " + s + ": " + err.Error())
	}
	return u
}
