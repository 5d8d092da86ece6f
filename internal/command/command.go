package command

import (
	"fmt"
	"strings"
)

// Kind names a command accepted from a transport.
type Kind string

const (
	Arm              Kind = "arm"
	Disarm           Kind = "disarm"
	FalseAlarm       Kind = "false_alarm"
	StartStream      Kind = "start_stream"
	StopStream       Kind = "stop_stream"
	QueryStatus      Kind = "query_status"
	Panic            Kind = "panic"
	QueryTemperature Kind = "query_temperature"
	ReportBreach     Kind = "report_breach"
)

// ExternalBreachSource is the breach source recorded for report_breach.
const ExternalBreachSource = "external"

var kinds = map[Kind]bool{
	Arm:              false,
	Disarm:           false,
	FalseAlarm:       false,
	StartStream:      true,
	StopStream:       true,
	QueryStatus:      false,
	Panic:            false,
	QueryTemperature: false,
	ReportBreach:     false,
}

// Kinds returns every known command kind.
func Kinds() []Kind {
	return []Kind{Arm, Disarm, FalseAlarm, StartStream, StopStream, QueryStatus, Panic, QueryTemperature, ReportBreach}
}

// NeedsCamera reports whether the kind takes a camera id.
func (k Kind) NeedsCamera() bool {
	return kinds[k]
}

// Command is a validated request for the state machine.
type Command struct {
	Kind     Kind   `json:"command"`
	CameraID string `json:"camera_id,omitempty"`
}

// Parse validates a raw command name and camera id. Stream commands default
// to the given camera when none is supplied.
func Parse(name, cameraID, defaultCamera string) (Command, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	needsCamera, ok := kinds[k]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	cmd := Command{Kind: k}
	if needsCamera {
		cmd.CameraID = strings.TrimSpace(cameraID)
		if cmd.CameraID == "" {
			cmd.CameraID = defaultCamera
		}
		if cmd.CameraID == "" {
			return Command{}, fmt.Errorf("%w: %s requires a camera id", ErrInvalidCommand, k)
		}
	}
	return cmd, nil
}

// Session is the pre-authorized context a transport attaches to a command.
type Session struct {
	DeviceID   string
	Authorized bool
}
