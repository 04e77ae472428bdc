package xerr

import (
	"errors"
	"fmt"
)

// 错误分类：数据链路里所有"可恢复"的错误都落到这几类
const (
	OK                  = 0
	UpstreamUnavailable = 1001 // dial / handshake / read on an exchange feed
	MalformedPayload    = 1002 // one upstream message could not be translated
	SubscriberLagged    = 2001 // cursor fell behind the hub ring
	TransportClosed     = 2002 // subscriber socket closed or write failed
	MalformedControl    = 2003 // inbound control frame ignored
	ServerCommonError   = 5000
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Err  error  `json:"-"`
}

func (e *CodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.Err }

// Is matches any *CodeError carrying the same code, so callers can write
// errors.Is(err, xerr.New(xerr.SubscriberLagged, "")).
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, Err: err}
}

// CodeOf returns the first code found in the chain, ServerCommonError otherwise.
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

// Label is the metric label for err.
func Label(err error) string {
	switch CodeOf(err) {
	case OK:
		return "ok"
	case UpstreamUnavailable:
		return "upstream_unavailable"
	case MalformedPayload:
		return "malformed_payload"
	case SubscriberLagged:
		return "lagged"
	case TransportClosed:
		return "transport_closed"
	case MalformedControl:
		return "malformed_control"
	default:
		return "internal"
	}
}

func MapErrMsg(code int) string {
	switch code {
	case UpstreamUnavailable:
		return "upstream unavailable"
	case MalformedPayload:
		return "malformed payload"
	case SubscriberLagged:
		return "subscriber lagged"
	case TransportClosed:
		return "transport closed"
	case MalformedControl:
		return "malformed control frame"
	default:
		return "internal error"
	}
}
