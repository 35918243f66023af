package api

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// ObjectType is the numeric type tag of a device record.
type ObjectType int

const (
	ObjectBlind         ObjectType = 2
	ObjectLight         ObjectType = 3
	ObjectThermostat    ObjectType = 9
	ObjectOutlet        ObjectType = 10
	ObjectPowerSupplier ObjectType = 11
	ObjectZone          ObjectType = 1001
)

// ObjectSubType refines [ObjectType], e.g. dimmable vs. on/off lights.
type ObjectSubType int

const (
	SubTypeGeneric                     ObjectSubType = 0
	SubTypeDigitalLight                ObjectSubType = 1
	SubTypeRGBLight                    ObjectSubType = 2
	SubTypeTemporizedLight             ObjectSubType = 3
	SubTypeDimmerLight                 ObjectSubType = 4
	SubTypeElectricBlind               ObjectSubType = 7
	SubTypeClimaTerm                   ObjectSubType = 12
	SubTypeGenericZone                 ObjectSubType = 13
	SubTypeConsumption                 ObjectSubType = 15
	SubTypeClimaThermostatDehumidifier ObjectSubType = 16
	SubTypeClimaDehumidifier           ObjectSubType = 17
	SubTypeEnhancedElectricBlind       ObjectSubType = 31
)

// Values of the "status" field shared by most objects.
const (
	StatusOff = "0"
	StatusOn  = "1"
)

// Device is a record from the hub's device tree. Concrete values are one of
// *Light, *Blind, *Thermostat, *Outlet, *Supplier, *Room or *Other.
type Device interface {
	Base() *DeviceBase
}

// DeviceBase contains fields common to every record.
type DeviceBase struct {
	ID          string        `json:"id"`
	Type        ObjectType    `json:"type"`
	SubType     ObjectSubType `json:"sub_type"`
	Description string        `json:"descrizione"`
	Status      string        `json:"status"`
	PlaceOrder  string        `json:"placeOrder,omitempty"`
	IconID      string        `json:"icon_id,omitempty"`
	PowerStatus string        `json:"powerst,omitempty"`
	Protected   string        `json:"isProtected,omitempty"`
	Elements    []Element     `json:"elements,omitempty"`

	// All fields of the record as received, including the ones that are not
	// mapped to struct fields.
	fields map[string]json.RawMessage
}

// Element is an entry of the nested "elements" array of a record.
type Element struct {
	ID   string          `json:"id"`
	Type ObjectType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (d *DeviceBase) Base() *DeviceBase {
	return d
}

// Field returns the raw value of a field, whether or not it is mapped to a
// struct field.
func (d *DeviceBase) Field(name string) (json.RawMessage, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// Fields returns a copy of all raw fields of the record.
func (d *DeviceBase) Fields() map[string]json.RawMessage {
	return maps.Clone(d.fields)
}

// IsOn reports whether the status is "1".
func (d *DeviceBase) IsOn() bool {
	return d.Status == StatusOn
}

type Light struct {
	DeviceBase
	Bright string `json:"bright,omitempty"`
}

// Brightness returns brightness in percent for dimmable lights.
func (l *Light) Brightness() (int, bool) {
	if l.SubType != SubTypeDimmerLight || l.Bright == "" {
		return 0, false
	}

	v, err := strconv.Atoi(l.Bright)
	if err != nil {
		return 0, false
	}

	return v, true
}

// BlindMotion is the motion reported in the status field of a blind.
type BlindMotion string

const (
	BlindStopped BlindMotion = "0"
	BlindOpening BlindMotion = "1"
	BlindClosing BlindMotion = "2"
)

type Blind struct {
	DeviceBase
	Position string `json:"position,omitempty"`
	OpenTime string `json:"open_time,omitempty"`
}

// Motion returns what the blind is currently doing.
func (b *Blind) Motion() BlindMotion {
	return BlindMotion(b.Status)
}

// HasPositionFeedback reports whether the hub reports the position of the
// blind, which only enhanced blinds do. Others need a time based estimate.
func (b *Blind) HasPositionFeedback() bool {
	return b.SubType == SubTypeEnhancedElectricBlind && b.Position != ""
}

// PositionPercent returns the reported position in percent (100 is open).
func (b *Blind) PositionPercent() (int, bool) {
	if !b.HasPositionFeedback() {
		return 0, false
	}

	raw, err := strconv.Atoi(b.Position)
	if err != nil {
		return 0, false
	}

	return ByteAsPosition(raw), true
}

type Thermostat struct {
	DeviceBase
	Temperature       string `json:"temperatura,omitempty"`
	ActiveThreshold   string `json:"soglia_attiva,omitempty"`
	AutoManual        string `json:"auto_man,omitempty"`
	Season            string `json:"est_inv,omitempty"`
	Humidity          string `json:"umidita,omitempty"`
	HumidityThreshold string `json:"soglia_attiva_umi,omitempty"`
}

// CurrentTemperature returns the measured temperature in °C.
func (t *Thermostat) CurrentTemperature() (float64, error) {
	return DecodeTemperature(t.Temperature)
}

// TargetTemperature returns the active set point in °C.
func (t *Thermostat) TargetTemperature() (float64, error) {
	return DecodeTemperature(t.ActiveThreshold)
}

type Outlet struct {
	DeviceBase
	InstantPower string `json:"instant_power,omitempty"`
	OutPower     string `json:"out_power,omitempty"`
}

// Power returns the instant power drawn, in watts.
func (o *Outlet) Power() (float64, bool) {
	return parseFloat(o.InstantPower)
}

// Supplier is a power meter, reporting production or consumption.
type Supplier struct {
	DeviceBase
	InstantPower string `json:"instant_power,omitempty"`
	Label        string `json:"label_value,omitempty"`
}

// Power returns the instant power, in watts.
func (s *Supplier) Power() (float64, bool) {
	return parseFloat(s.InstantPower)
}

type Room struct {
	DeviceBase
}

// Other is any record whose type tag is not mapped to a dedicated type.
type Other struct {
	DeviceBase
}

// decodeDevice decodes a raw record into the variant matching its type tag.
func decodeDevice(fields map[string]json.RawMessage) (Device, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}

	var tag struct {
		Type ObjectType `json:"type"`
	}
	err = json.Unmarshal(data, &tag)
	if err != nil {
		return nil, fmt.Errorf("decode type tag: %w", err)
	}

	var d Device
	switch tag.Type {
	case ObjectLight:
		d = &Light{}
	case ObjectBlind:
		d = &Blind{}
	case ObjectThermostat:
		d = &Thermostat{}
	case ObjectOutlet:
		d = &Outlet{}
	case ObjectPowerSupplier:
		d = &Supplier{}
	case ObjectZone:
		d = &Room{}
	default:
		d = &Other{}
	}

	err = json.Unmarshal(data, d)
	if err != nil {
		return nil, fmt.Errorf("decode object of type %d: %w", tag.Type, err)
	}
	d.Base().fields = fields

	return d, nil
}

// DecodeDevice decodes a single record, e.g. an element of [Response.OutData].
func DecodeDevice(data json.RawMessage) (Device, error) {
	var fields map[string]json.RawMessage
	err := json.Unmarshal(data, &fields)
	if err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}

	return decodeDevice(fields)
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
