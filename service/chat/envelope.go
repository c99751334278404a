package chat

import (
	"time"

	"github.com/google/uuid"

	"famly/tools/errs"
)

// Envelope is the ack payload of every request-style operation.
type Envelope struct {
	OK            bool   `json:"ok"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Empty is the success data of operations that return nothing.
type Empty struct{}

func Success(data any) Envelope {
	if data == nil {
		data = Empty{}
	}
	return Envelope{OK: true, Data: data}
}

// Failure converts err into a failure envelope. Classified errors keep their
// kind and client message; anything else is reported as INTERNAL with a
// generic message.
func Failure(err error, correlationID string) Envelope {
	env := Envelope{
		OK:            false,
		Error:         errs.KindInternal,
		Message:       errs.ErrInternal.Msg,
		CorrelationID: correlationID,
	}
	if ce, ok := errs.As(err); ok && ce.Kind != "" {
		env.Error = ce.Kind
		env.Message = ce.Msg
	}
	return env
}

func NewCorrelationID() string {
	return uuid.NewString()
}

// isoTime renders timestamps the way clients parse them (UTC, millisecond
// precision, trailing Z).
func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
