package command

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/metrics"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

// Response codes shared by every transport.
const (
	CodeSuccess = 201
	CodeFailure = 404
)

// Stable error codes returned to clients.
const (
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeUnknownCommand = "unknown_command"
	ErrCodeInvalidCommand = "invalid_command"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeClosed         = "shutting_down"
	ErrCodeInternal       = "internal_error"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCommand = errors.New("invalid command")
	ErrUnauthorized   = errors.New("device not authorized")
)

// Controller is the part of the state machine the dispatcher drives.
type Controller interface {
	Arm() error
	Disarm() error
	FalseAlarm() error
	StartStream(cameraID string) error
	StopStream(cameraID string) error
	Panic() error
	ReportBreach(source string) error
	Status() security.Status
	Temperature() (float64, error)
}

// Response is the transport independent result of a command.
type Response struct {
	Code    int              `json:"code"`
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	Message string           `json:"message,omitempty"`
	Status  *security.Status `json:"status,omitempty"`
	Data    map[string]any   `json:"data,omitempty"`
}

// Dispatcher maps commands onto a Controller. It holds no state.
type Dispatcher struct {
	ctrl   Controller
	logger *zap.Logger
}

func NewDispatcher(ctrl Controller, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{ctrl: ctrl, logger: logger.Named("dispatcher")}
}

// Dispatch runs cmd on behalf of sess and converts the outcome into a
// Response. It never returns a transport error; every failure is encoded
// in the response.
func (d *Dispatcher) Dispatch(ctx context.Context, sess Session, cmd Command) Response {
	resp := d.dispatch(ctx, sess, cmd)
	metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), strconv.Itoa(resp.Code)).Inc()
	if !resp.OK {
		d.logger.Info("Command rejected",
			zap.String("command", string(cmd.Kind)),
			zap.String("device", sess.DeviceID),
			zap.String("error", resp.Error))
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, sess Session, cmd Command) Response {
	if !sess.Authorized {
		return Failure(ErrCodeUnauthorized, ErrUnauthorized.Error())
	}
	if err := ctx.Err(); err != nil {
		return Failure(ErrCodeUnavailable, err.Error())
	}

	var err error
	switch cmd.Kind {
	case Arm:
		err = d.ctrl.Arm()
	case Disarm:
		err = d.ctrl.Disarm()
	case FalseAlarm:
		err = d.ctrl.FalseAlarm()
	case StartStream:
		err = d.ctrl.StartStream(cmd.CameraID)
	case StopStream:
		err = d.ctrl.StopStream(cmd.CameraID)
	case Panic:
		err = d.ctrl.Panic()
	case ReportBreach:
		err = d.ctrl.ReportBreach(ExternalBreachSource)
	case QueryStatus:
	case QueryTemperature:
		temp, err := d.ctrl.Temperature()
		if err != nil {
			return FromError(err)
		}
		resp := d.success()
		resp.Data = map[string]any{"temperature_c": temp}
		return resp
	default:
		return Failure(ErrCodeUnknownCommand, "unknown command "+strconv.Quote(string(cmd.Kind)))
	}
	if err != nil {
		return FromError(err)
	}
	return d.success()
}

func (d *Dispatcher) success() Response {
	st := d.ctrl.Status()
	return Response{Code: CodeSuccess, OK: true, Status: &st}
}

// Failure builds a failed response with a stable code.
func Failure(code, message string) Response {
	return Response{Code: CodeFailure, Error: code, Message: message}
}

// FromError translates a state machine error into a failed response.
func FromError(err error) Response {
	var terr *security.TransitionError
	switch {
	case errors.As(err, &terr):
		return Failure(terr.Code, err.Error())
	case errors.Is(err, ErrUnknownCommand):
		return Failure(ErrCodeUnknownCommand, err.Error())
	case errors.Is(err, ErrInvalidCommand):
		return Failure(ErrCodeInvalidCommand, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return Failure(ErrCodeUnauthorized, err.Error())
	case errors.Is(err, security.ErrHardwareUnavailable):
		return Failure(ErrCodeUnavailable, err.Error())
	case errors.Is(err, security.ErrClosed):
		return Failure(ErrCodeClosed, err.Error())
	default:
		return Failure(ErrCodeInternal, err.Error())
	}
}
