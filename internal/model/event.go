package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind is the closed enumeration of webhook event categories. The cloud
// delivers events with free-form type/subType strings; they are decoded into
// one of these kinds exactly once, at the webhook boundary.
type EventKind int

const (
	KindOther EventKind = iota
	KindDeviceStatus
	KindZoneStatus
	KindScheduleStatus
	KindRainDelay
	KindDelta
)

func (k EventKind) String() string {
	switch k {
	case KindDeviceStatus:
		return "DEVICE_STATUS"
	case KindZoneStatus:
		return "ZONE_STATUS"
	case KindScheduleStatus:
		return "SCHEDULE_STATUS"
	case KindRainDelay:
		return "RAIN_DELAY"
	case KindDelta:
		return "DELTA"
	default:
		return "OTHER"
	}
}

// WebhookEvent is one inbound push notification, decoded into a tagged union:
// Kind selects which of the category payloads is set. ExternalID is the
// correlation id used to find the owning bridge.
type WebhookEvent struct {
	ExternalID string
	DeviceID   string
	EventID    string
	Timestamp  string
	Summary    string
	SubType    string

	Kind     EventKind
	Zone     *ZoneStatusEvent
	Schedule *ScheduleStatusEvent
	Delay    *RainDelayEvent
}

// ZoneStatusEvent carries the zone-scoped payload of a ZONE_STATUS event.
type ZoneStatusEvent struct {
	ZoneID   string
	Number   int
	Name     string
	RunState string
	Duration int
}

// ScheduleStatusEvent carries the payload of a SCHEDULE_STATUS event.
type ScheduleStatusEvent struct {
	ScheduleID   string
	ScheduleName string
	ScheduleType string
}

// RainDelayEvent carries the payload of a RAIN_DELAY event.
type RainDelayEvent struct {
	Duration int
}

// eventEnvelope is the wire shape of a webhook POST body.
type eventEnvelope struct {
	ExternalID   string `json:"externalId"`
	DeviceID     string `json:"deviceId"`
	ZoneID       string `json:"zoneId"`
	ScheduleID   string `json:"scheduleId"`
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	Summary      string `json:"summary"`
	Type         string `json:"type"`
	SubType      string `json:"subType"`
	EventType    string `json:"eventType"`
	Category     string `json:"category"`
	ZoneNumber   int    `json:"zoneNumber"`
	ZoneName     string `json:"zoneName"`
	ZoneRunState string `json:"zoneRunState"`
	Duration     int    `json:"duration"`
	ScheduleName string `json:"scheduleName"`
	ScheduleType string `json:"scheduleType"`
}

// UnescapeEventJSON repairs the double-encoded payloads the cloud is known to
// deliver (escaped JSON embedded inside JSON). The rule is a workaround
// observed against live payloads, not a documented contract.
func UnescapeEventJSON(data []byte) []byte {
	s := string(data)
	if !strings.Contains(s, `"{`) && !strings.Contains(s, `\"`) {
		return data
	}
	s = strings.ReplaceAll(s, `"{`, `{`)
	s = strings.ReplaceAll(s, `}"`, `}`)
	s = strings.ReplaceAll(s, `\`, ``)
	return []byte(s)
}

// DecodeWebhookEvent parses one raw webhook body into the tagged union.
func DecodeWebhookEvent(data []byte) (*WebhookEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(UnescapeEventJSON(data), &env); err != nil {
		return nil, fmt.Errorf("malformed webhook event: %w", err)
	}

	etype := env.Type
	if etype == "" {
		etype = env.EventType
	}

	ev := &WebhookEvent{
		ExternalID: env.ExternalID,
		DeviceID:   env.DeviceID,
		EventID:    env.ID,
		Timestamp:  env.Timestamp,
		Summary:    env.Summary,
		SubType:    env.SubType,
	}

	switch etype {
	case "DEVICE_STATUS":
		ev.Kind = KindDeviceStatus
	case "ZONE_STATUS":
		ev.Kind = KindZoneStatus
		ev.Zone = &ZoneStatusEvent{
			ZoneID:   env.ZoneID,
			Number:   env.ZoneNumber,
			Name:     env.ZoneName,
			RunState: env.ZoneRunState,
			Duration: env.Duration,
		}
	case "SCHEDULE_STATUS":
		ev.Kind = KindScheduleStatus
		ev.Schedule = &ScheduleStatusEvent{
			ScheduleID:   env.ScheduleID,
			ScheduleName: env.ScheduleName,
			ScheduleType: env.ScheduleType,
		}
	case "RAIN_DELAY":
		ev.Kind = KindRainDelay
		ev.Delay = &RainDelayEvent{Duration: env.Duration}
	case "DELTA", "ZONE_DELTA", "DEVICE_DELTA", "SCHEDULE_DELTA":
		ev.Kind = KindDelta
	default:
		ev.Kind = KindOther
	}
	return ev, nil
}

// ZoneScoped reports whether the event must resolve to a single zone.
func (e *WebhookEvent) ZoneScoped() bool {
	return e.Kind == KindZoneStatus
}

// StateTransition reports whether the event represents a real state change
// that warrants a listener notification, as opposed to informational traffic
// that only updates the last-event summary.
func (e *WebhookEvent) StateTransition() bool {
	switch e.Kind {
	case KindDeviceStatus, KindRainDelay:
		return true
	case KindScheduleStatus:
		switch e.SubType {
		case "SCHEDULE_STARTED", "SCHEDULE_STOPPED", "SCHEDULE_COMPLETED":
			return true
		}
	case KindZoneStatus:
		switch e.SubType {
		case "ZONE_STARTED", "ZONE_STOPPED", "ZONE_COMPLETED":
			return true
		}
	}
	return false
}
