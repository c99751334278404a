package errs

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Error kinds carried on the wire in failure envelopes.
const (
	KindValidation  = "VALIDATION_ERROR"
	KindForbidden   = "FORBIDDEN"
	KindNotFound    = "NOT_FOUND"
	KindRateLimited = "RATE_LIMITED"
	KindInternal    = "INTERNAL"
)

const (
	ValidationError  = 400
	ForbiddenError   = 403
	NotFoundError    = 404
	RateLimitedError = 429

	ServerInternalError = 500
)

var (
	ErrValidation  = NewCodeError(ValidationError, KindValidation, "invalid request")
	ErrForbidden   = NewCodeError(ForbiddenError, KindForbidden, "forbidden")
	ErrNotFound    = NewCodeError(NotFoundError, KindNotFound, "not found")
	ErrRateLimited = NewCodeError(RateLimitedError, KindRateLimited, "rate limit exceeded")
	ErrInternal    = NewCodeError(ServerInternalError, KindInternal, "internal error")
)

// CodeErrorI is implemented by *CodeError.
type CodeErrorI interface {
	ECode() int
	EKind() string
	EMsg() string
	DDetail() string
	WithDetail(detail string) CodeError
	error
}

func NewCodeError(code int, kind, msg string) CodeError {
	return CodeError{
		Code: code,
		Kind: kind,
		Msg:  msg,
	}
}

// CodeError is a classified failure. Msg is safe to show to a client; Detail
// carries diagnostic key/values and is only logged.
type CodeError struct {
	Code   int    `json:"code"`
	Kind   string `json:"kind"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) ECode() int      { return e.Code }
func (e *CodeError) EKind() string   { return e.Kind }
func (e *CodeError) EMsg() string    { return e.Msg }
func (e *CodeError) DDetail() string { return e.Detail }

func (e *CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Kind:   e.Kind,
		Msg:    e.Msg,
		Detail: d,
	}
}

// WithMsg returns a copy with a client-facing message replacing the default.
func (e *CodeError) WithMsg(msg string) *CodeError {
	c := e.clone()
	c.Msg = msg
	return c
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Kind:   e.Kind,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

// Wrap attaches a stack trace to a copy of e.
func (e *CodeError) Wrap() error {
	return errors.WithStack(e.clone())
}

// WrapMsg copies e, replaces its client message with msg when msg is not
// empty, records kv as detail and attaches a stack trace.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" {
		retErr.Msg = msg
	}
	if len(kv) > 0 {
		detail := toString("", kv)
		if retErr.Detail == "" {
			retErr.Detail = detail
		} else {
			retErr.Detail += ", " + detail
		}
	}
	return errors.WithStack(retErr)
}

// Is matches any CodeError of the same code, so errors.Is(err, &ErrForbidden)
// holds for every forbidden error regardless of message.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !stderrors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// New builds an unclassified error with key/value context and a stack trace.
func New(msg string, kv ...any) error {
	return errors.New(toString(msg, kv))
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
}

// As returns the CodeError carried anywhere in err's chain.
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf reports the wire kind of err; unclassified errors are INTERNAL.
func KindOf(err error) string {
	if ce, ok := As(err); ok && ce.Kind != "" {
		return ce.Kind
	}
	return KindInternal
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
