package client

import (
	"strings"
	"time"
)

// AreaState is the arm state of an area as reported by the API.
type AreaState string

const (
	AreaStateDisarmed          AreaState = "disarmed"
	AreaStateArmed             AreaState = "armed"
	AreaStateStayArmed         AreaState = "stay_armed"
	AreaStateArmInProgress     AreaState = "arm in progress"
	AreaStateStayArmInProgress AreaState = "stay arm in progress"
	AreaStateTriggered         AreaState = "triggered"
	AreaStatePending           AreaState = "pending"
)

var areaStates = []AreaState{
	AreaStateDisarmed,
	AreaStateArmed,
	AreaStateStayArmed,
	AreaStateArmInProgress,
	AreaStateStayArmInProgress,
	AreaStateTriggered,
	AreaStatePending,
}

// ParseAreaState matches s case-insensitively against the known states.
// Unknown and empty values are reported as disarmed.
func ParseAreaState(s string) AreaState {
	lower := strings.ToLower(s)
	for _, state := range areaStates {
		if string(state) == lower {
			return state
		}
	}

	return AreaStateDisarmed
}

// AreaCommand is a state change accepted by [Client.SetAreaState].
type AreaCommand string

const (
	AreaCommandArm    AreaCommand = "arm"
	AreaCommandStay   AreaCommand = "stay"
	AreaCommandDisarm AreaCommand = "disarm"
)

// Valid reports whether c is one of the known commands.
func (c AreaCommand) Valid() bool {
	switch c {
	case AreaCommandArm, AreaCommandStay, AreaCommandDisarm:
		return true
	default:
		return false
	}
}

var (
	panelNameKeys     = candidates{"name", "panelName"}
	panelModelKeys    = candidates{"model", "panelModel"}
	panelFirmwareKeys = candidates{"firmwareVersion", "firmware_version"}
	panelMACKeys      = candidates{"mac", "macAddress"}

	areaIDKeys    = candidates{"id", "_id.device_id", "area_id"}
	areaNameKeys  = candidates{"name"}
	areaStateKeys = candidates{"state", "status"}

	zoneIDKeys       = candidates{"id", "_id.device_id", "device_id"}
	zoneNameKeys     = candidates{"name"}
	zoneStateKeys    = candidates{"state", "status"}
	zoneTypeKeys     = candidates{"type", "zone_type"}
	zoneBypassedKeys = candidates{"bypassed", "bypass"}
	zoneBatteryKeys  = candidates{"battery", "batteryLevel"}
	zoneSignalKeys   = candidates{"signal", "rssi"}
	zoneTamperKeys   = candidates{"tamper"}

	outputIDKeys    = candidates{"id", "_id.device_id", "output_id"}
	outputNameKeys  = candidates{"name"}
	outputStateKeys = candidates{"state", "status"}
	outputTypeKeys  = candidates{"type", "outputType"}

	measurementIDKeys     = candidates{"id", "_id.device_id", "measurement_id"}
	measurementNameKeys   = candidates{"name"}
	measurementValueKeys  = candidates{"value", "currentValue"}
	measurementUnitKeys   = candidates{"unit"}
	measurementTypeKeys   = candidates{"type"}
	measurementZoneIDKeys = candidates{"zoneId", "zone_id"}

	eventIDKeys          = candidates{"id", "_id"}
	eventTypeKeys        = candidates{"type", "eventType"}
	eventDescriptionKeys = candidates{"description", "message"}
	eventTimestampKeys   = candidates{"timestamp", "time", "date"}
	eventZoneIDKeys      = candidates{"zoneId", "zone_id"}
	eventZoneNameKeys    = candidates{"zoneName", "zone_name"}
	eventUserIDKeys      = candidates{"userId", "user_id", "user"}
)

// Panel is an alarm control unit.
type Panel struct {
	MAC             string         `json:"mac"`
	Name            string         `json:"name"`
	Model           string         `json:"model,omitempty"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	Raw             map[string]any `json:"-"`
}

// PanelFromAPI builds a Panel from an API object. mac must already be
// normalized.
func PanelFromAPI(data map[string]any, mac string) Panel {
	suffix := mac
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}

	return Panel{
		MAC:             mac,
		Name:            panelNameKeys.strOr(data, "Panel "+suffix),
		Model:           panelModelKeys.strOr(data, ""),
		FirmwareVersion: panelFirmwareKeys.strOr(data, ""),
		Raw:             data,
	}
}

// Area is an arm/disarm partition of a panel.
type Area struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	State AreaState      `json:"state"`
	Raw   map[string]any `json:"-"`
}

// AreaFromAPI builds an Area from an API object.
func AreaFromAPI(data map[string]any) Area {
	id := areaIDKeys.strOr(data, "")

	return Area{
		ID:    id,
		Name:  areaNameKeys.strOr(data, "Area "+id),
		State: ParseAreaState(areaStateKeys.strOr(data, string(AreaStateDisarmed))),
		Raw:   data,
	}
}

// IsArmed reports whether the area is armed in any mode.
func (a Area) IsArmed() bool {
	return a.State == AreaStateArmed || a.State == AreaStateStayArmed
}

// IsArming reports whether the area is in the process of arming.
func (a Area) IsArming() bool {
	return a.State == AreaStateArmInProgress || a.State == AreaStateStayArmInProgress
}

// ZoneState is the reported state of a zone. Panels also report states
// outside this list, such as "triggered" or "1"; they are kept verbatim.
type ZoneState string

const (
	ZoneStateOK         ZoneState = "ok"
	ZoneStateOpen       ZoneState = "open"
	ZoneStateTamper     ZoneState = "tamper"
	ZoneStateAlarm      ZoneState = "alarm"
	ZoneStateTrouble    ZoneState = "trouble"
	ZoneStateBypassed   ZoneState = "bypassed"
	ZoneStateLowBattery ZoneState = "low_battery"
)

// Zone is a sensor or contact monitored by a panel.
type Zone struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	State          ZoneState      `json:"state"`
	Type           string         `json:"type"`
	Bypassed       bool           `json:"bypassed"`
	Battery        *int           `json:"battery,omitempty"`
	SignalStrength *int           `json:"signal_strength,omitempty"`
	Tamper         bool           `json:"tamper"`
	Raw            map[string]any `json:"-"`
}

// ZoneFromAPI builds a Zone from an API object.
func ZoneFromAPI(data map[string]any) Zone {
	id := zoneIDKeys.strOr(data, "")

	return Zone{
		ID:             id,
		Name:           zoneNameKeys.strOr(data, "Zone "+id),
		State:          ZoneState(zoneStateKeys.strOr(data, string(ZoneStateOK))),
		Type:           zoneTypeKeys.strOr(data, "generic"),
		Bypassed:       zoneBypassedKeys.boolOr(data, false),
		Battery:        zoneBatteryKeys.intPtr(data),
		SignalStrength: zoneSignalKeys.intPtr(data),
		Tamper:         zoneTamperKeys.boolOr(data, false),
		Raw:            data,
	}
}

// IsOpen reports whether the zone is open or triggered.
func (z Zone) IsOpen() bool {
	switch ZoneState(strings.ToLower(string(z.State))) {
	case ZoneStateOpen, ZoneStateAlarm, "triggered", "violated", "1", "active":
		return true
	default:
		return false
	}
}

// HasLowBattery reports a known battery level below 20.
func (z Zone) HasLowBattery() bool {
	return z.Battery != nil && *z.Battery < 20
}

// Output is a controllable relay exposed by a panel.
type Output struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	State bool           `json:"state"`
	Type  string         `json:"type,omitempty"`
	Raw   map[string]any `json:"-"`
}

// OutputFromAPI builds an Output from an API object.
func OutputFromAPI(data map[string]any) Output {
	id := outputIDKeys.strOr(data, "")

	var state bool
	if v, ok := outputStateKeys.lookup(data); ok {
		switch t := v.(type) {
		case bool:
			state = t
		case float64:
			state = t == 1
		case string:
			switch strings.ToLower(t) {
			case "on", "1", "true", "active", "activated":
				state = true
			}
		}
	}

	return Output{
		ID:    id,
		Name:  outputNameKeys.strOr(data, "Output "+id),
		State: state,
		Type:  outputTypeKeys.strOr(data, ""),
		Raw:   data,
	}
}

// Measurement is a sensor reading such as temperature or humidity. Value is
// set when the reading is numeric; otherwise the reading is kept in Text.
type Measurement struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Value  *float64       `json:"value,omitempty"`
	Text   string         `json:"text,omitempty"`
	Unit   string         `json:"unit,omitempty"`
	Type   string         `json:"type,omitempty"`
	ZoneID string         `json:"zone_id,omitempty"`
	Raw    map[string]any `json:"-"`
}

// MeasurementFromAPI builds a Measurement from an API object.
func MeasurementFromAPI(data map[string]any) Measurement {
	id := measurementIDKeys.strOr(data, "")

	m := Measurement{
		ID:     id,
		Name:   measurementNameKeys.strOr(data, "Measurement "+id),
		Unit:   measurementUnitKeys.strOr(data, ""),
		Type:   measurementTypeKeys.strOr(data, ""),
		ZoneID: measurementZoneIDKeys.strOr(data, ""),
		Raw:    data,
	}

	if v, ok := measurementValueKeys.lookup(data); ok {
		if f, isNum := floatValue(v); isNum {
			m.Value = &f
		} else if s, isStr := stringValue(v); isStr {
			m.Text = s
		}
	}

	return m
}

// Event is an alarm event carried by a stream message.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp,omitzero"`
	ZoneID      string         `json:"zone_id,omitempty"`
	ZoneName    string         `json:"zone_name,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Raw         map[string]any `json:"-"`
}

var eventTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// EventFromAPI builds an Event from an API object.
func EventFromAPI(data map[string]any) Event {
	return Event{
		ID:          eventIDKeys.strOr(data, ""),
		Type:        eventTypeKeys.strOr(data, "unknown"),
		Description: eventDescriptionKeys.strOr(data, ""),
		Timestamp:   parseEventTime(data),
		ZoneID:      eventZoneIDKeys.strOr(data, ""),
		ZoneName:    eventZoneNameKeys.strOr(data, ""),
		UserID:      eventUserIDKeys.strOr(data, ""),
		Raw:         data,
	}
}

// parseEventTime accepts unix seconds or a local timestamp in one of
// eventTimeLayouts. Trailing fractions and zone suffixes are ignored.
func parseEventTime(data map[string]any) time.Time {
	v, ok := eventTimestampKeys.lookup(data)
	if !ok {
		return time.Time{}
	}

	switch t := v.(type) {
	case float64:
		sec := int64(t)
		nsec := int64((t - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec)
	case string:
		for _, layout := range eventTimeLayouts {
			if len(t) < len(layout) {
				continue
			}
			if ts, err := time.ParseInLocation(layout, t[:len(layout)], time.Local); err == nil {
				return ts
			}
		}
	}

	return time.Time{}
}

func objects(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, isObj := item.(map[string]any); isObj {
			out = append(out, obj)
		}
	}

	return out
}
