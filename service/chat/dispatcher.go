package chat

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"famly/service/metrics"
	"famly/tools/errs"
	"famly/tools/safe"
)

// Dispatcher routes inbound frames of one hub to their handlers and renders
// the ack frame. Domain failures never escape as Go errors: every request
// gets an envelope.
type Dispatcher struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
	signals  map[string]Signal
}

func NewDispatcher(log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		log:      log,
		metrics:  m,
		handlers: make(map[string]Handler),
		signals:  make(map[string]Signal),
	}
}

func (d *Dispatcher) Register(h Handler) {
	safe.MustNotNil(h, "handler")
	d.mu.Lock()
	d.handlers[h.Event()] = h
	d.mu.Unlock()
}

func (d *Dispatcher) RegisterSignal(s Signal) {
	safe.MustNotNil(s, "signal")
	d.mu.Lock()
	d.signals[s.Event()] = s
	d.mu.Unlock()
}

func (d *Dispatcher) GetHandler(event string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[event]
}

func (d *Dispatcher) getSignal(event string) Signal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.signals[event]
}

// Dispatch processes one raw inbound frame for c and returns the ack frame
// to send back, or nil when nothing is owed (signals, frames without ackId).
func (d *Dispatcher) Dispatch(ctx context.Context, c *Conn, raw []byte) []byte {
	f, err := ParseFrame(raw)
	if err != nil {
		d.metrics.Frame("invalid")
		if f.AckID == "" {
			d.log.Debug("drop unparsable frame", zap.String("connId", c.ID), zap.Error(err))
			return nil
		}
		return d.ack(c, f, nil, err)
	}
	d.metrics.Frame(f.Event)

	if s := d.getSignal(f.Event); s != nil {
		safe.Run(d.log, f.Event, func() { s.Notify(ctx, c, f.Payload) })
		return nil
	}

	h := d.GetHandler(f.Event)
	if h == nil {
		if f.AckID == "" {
			d.log.Debug("drop unknown event", zap.String("connId", c.ID), zap.String("event", f.Event))
			return nil
		}
		return d.ack(c, f, nil, errs.ErrValidation.WrapMsg("unknown event", "event", f.Event))
	}

	data, err := d.invoke(ctx, h, c, f.Payload)
	if f.AckID == "" {
		if err != nil {
			d.logFailure(c, f.Event, "", err)
		}
		return nil
	}
	return d.ack(c, f, data, err)
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, c *Conn, payload json.RawMessage) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", zap.String("event", h.Event()), zap.Any("panic", r), zap.Stack("stack"))
			data, err = nil, errs.ErrPanic(r)
		}
	}()
	return h.Handle(ctx, c, payload)
}

func (d *Dispatcher) ack(c *Conn, f Frame, data any, err error) []byte {
	var env Envelope
	if err != nil {
		env = Failure(err, NewCorrelationID())
		d.logFailure(c, f.Event, env.CorrelationID, err)
	} else {
		env = Success(data)
	}
	out, encErr := EncodeAck(f, env)
	if encErr != nil {
		d.log.Error("encode ack", zap.String("event", f.Event), zap.Error(encErr))
		env = Failure(encErr, NewCorrelationID())
		out, _ = EncodeAck(f, env)
	}
	return out
}

func (d *Dispatcher) logFailure(c *Conn, event, correlationID string, err error) {
	kind := errs.KindOf(err)
	d.metrics.Failure(kind)
	fields := []zap.Field{
		zap.String("event", event),
		zap.String("kind", kind),
		zap.String("connId", c.ID),
		zap.String("userId", c.UserID),
		zap.String("correlationId", correlationID),
		zap.Error(err),
	}
	if kind == errs.KindInternal {
		d.log.Error("request failed", fields...)
		return
	}
	d.log.Info("request rejected", fields...)
}
