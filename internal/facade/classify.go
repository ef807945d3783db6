package facade

import "strings"

// Device classification predicates. Classification is by name keyword and
// capability set, matching how installations actually label devices.

// IsCamera reports whether the device is a camera.
func IsCamera(d DeviceRef) bool {
	return strings.Contains(strings.ToLower(d.Name()), "camera")
}

// IsMotionSensor reports whether the device exposes a motion alarm.
func IsMotionSensor(d DeviceRef) bool {
	return d.HasCapability(CapAlarmMotion)
}

// IsContactSensor reports whether the device is a door/window sensor.
func IsContactSensor(d DeviceRef) bool {
	return d.HasCapability(CapAlarmContact)
}

// IsLock reports whether the device is a lock. Name matching covers the
// Swedish "lås" used by several lock vendors.
func IsLock(d DeviceRef) bool {
	name := strings.ToLower(d.Name())
	return strings.Contains(name, "lock") || strings.Contains(name, "lås") || d.HasCapability(CapLocked)
}

// IsWaterMeter reports whether the device is a water meter.
func IsWaterMeter(d DeviceRef) bool {
	name := strings.ToLower(d.Name())
	return strings.Contains(name, "water") && strings.Contains(name, "meter")
}

// IsLeakDetector reports whether the device is a leak detector.
func IsLeakDetector(d DeviceRef) bool {
	name := strings.ToLower(d.Name())
	if strings.Contains(name, "leak") {
		return true
	}
	return strings.Contains(name, "water") && strings.Contains(name, "sensor")
}

// IsIrrigation reports whether the device is an irrigation actuator.
func IsIrrigation(d DeviceRef) bool {
	name := strings.ToLower(d.Name())
	return strings.Contains(name, "sprinkler") ||
		strings.Contains(name, "irrigation") ||
		strings.Contains(name, "water valve")
}

// IsSiren reports whether the device is a siren.
func IsSiren(d DeviceRef) bool {
	name := strings.ToLower(d.Name())
	return strings.Contains(name, "siren") || strings.Contains(name, "alarm")
}

// HasBattery reports whether the device exposes a battery level.
func HasBattery(d DeviceRef) bool {
	return d.HasCapability(CapMeasureBattery)
}
