// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

// DeviceInfo field offsets
const (
	offModel        = 6
	offHWVersion    = 22
	offSWVersion    = 30
	offUpTime       = 38
	offPowerOnTimes = 42
	offDeviceName   = 46
	offDevicePass   = 62
	offMfgDate      = 78
	offSerial       = 86
	offPasscode     = 97
	offUserData     = 102
	offSetupPass    = 118
	offUserData2    = 134
)

// DeviceInfo is the static device metadata carried by record type 0x03
type DeviceInfo struct {
	DeviceModel       string `json:"device_model" yaml:"device_model"`
	HardwareVersion   string `json:"hardware_version" yaml:"hardware_version"`
	SoftwareVersion   string `json:"software_version" yaml:"software_version"`
	UpTime            uint32 `json:"up_time" yaml:"up_time"` // seconds since power on
	PowerOnTimes      uint32 `json:"poweron_times" yaml:"poweron_times"`
	DeviceName        string `json:"device_name" yaml:"device_name"`
	DevicePasscode    string `json:"device_passcode" yaml:"device_passcode"`
	ManufacturingDate string `json:"manufacturing_date" yaml:"manufacturing_date"`
	SerialNumber      string `json:"serial_number" yaml:"serial_number"`
	Passcode          string `json:"passcode" yaml:"passcode"`
	UserData          string `json:"userdata" yaml:"userdata"`
	SetupPasscode     string `json:"setup_passcode" yaml:"setup_passcode"`
	UserData2         string `json:"userdata2" yaml:"userdata2"`
}

// RecordType implements Record
func (d *DeviceInfo) RecordType() uint8 {
	return RecordTypeDeviceInfo
}

type deviceInfoText struct {
	name   string
	offset int
	width  int
	field  func(d *DeviceInfo) *string
}

var deviceInfoTexts = []deviceInfoText{
	{"device model", offModel, 16, func(d *DeviceInfo) *string { return &d.DeviceModel }},
	{"hardware version", offHWVersion, 8, func(d *DeviceInfo) *string { return &d.HardwareVersion }},
	{"software version", offSWVersion, 8, func(d *DeviceInfo) *string { return &d.SoftwareVersion }},
	{"device name", offDeviceName, 16, func(d *DeviceInfo) *string { return &d.DeviceName }},
	{"device passcode", offDevicePass, 16, func(d *DeviceInfo) *string { return &d.DevicePasscode }},
	{"manufacturing date", offMfgDate, 8, func(d *DeviceInfo) *string { return &d.ManufacturingDate }},
	{"serial number", offSerial, 11, func(d *DeviceInfo) *string { return &d.SerialNumber }},
	{"passcode", offPasscode, 5, func(d *DeviceInfo) *string { return &d.Passcode }},
	{"userdata", offUserData, 16, func(d *DeviceInfo) *string { return &d.UserData }},
	{"setup passcode", offSetupPass, 16, func(d *DeviceInfo) *string { return &d.SetupPasscode }},
	{"userdata2", offUserData2, 16, func(d *DeviceInfo) *string { return &d.UserData2 }},
}

// DecodeDeviceInfo decodes a device info response.
// data is the complete response including header, excluding the trailing
// checksum byte.
func DecodeDeviceInfo(data []byte) (*DeviceInfo, error) {
	if err := checkRecord(data, RecordTypeDeviceInfo); err != nil {
		return nil, err
	}

	info := &DeviceInfo{
		UpTime:       getU32(data, offUpTime),
		PowerOnTimes: getU32(data, offPowerOnTimes),
	}
	for _, f := range deviceInfoTexts {
		s, err := getText(data, f.offset, f.width, f.name)
		if err != nil {
			return nil, err
		}
		*f.field(info) = s
	}
	return info, nil
}

// EncodeDeviceInfo builds a complete signed device info frame
func EncodeDeviceInfo(info *DeviceInfo) ([]byte, error) {
	frame := newFrame(RecordTypeDeviceInfo)
	putU32(frame, offUpTime, info.UpTime)
	putU32(frame, offPowerOnTimes, info.PowerOnTimes)
	for _, f := range deviceInfoTexts {
		if err := putText(frame, f.offset, f.width, f.name, *f.field(info)); err != nil {
			return nil, err
		}
	}
	return signFrame(frame), nil
}
