package t38

import (
	"errors"
	"fmt"
)

// GatewayErrorCode типизированный код ошибки шлюза T.38
type GatewayErrorCode int

const (
	// Ошибки кодека пакетов
	ErrorCodeBadPacket GatewayErrorCode = iota + 4000
	ErrorCodeBadDatagram
	ErrorCodeOversizedPayload

	// Транспортные ошибки
	ErrorCodeTransportClosed
	ErrorCodeTransportSend
	ErrorCodeNoRemoteAddr
	ErrorCodeHandshakeFailed

	// Ошибки согласования SDP
	ErrorCodeNoImageMedia
	ErrorCodeBadSDPAttribute
)

// String возвращает строковое представление кода
func (code GatewayErrorCode) String() string {
	switch code {
	case ErrorCodeBadPacket:
		return "BadPacket"
	case ErrorCodeBadDatagram:
		return "BadDatagram"
	case ErrorCodeOversizedPayload:
		return "OversizedPayload"
	case ErrorCodeTransportClosed:
		return "TransportClosed"
	case ErrorCodeTransportSend:
		return "TransportSend"
	case ErrorCodeNoRemoteAddr:
		return "NoRemoteAddr"
	case ErrorCodeHandshakeFailed:
		return "HandshakeFailed"
	case ErrorCodeNoImageMedia:
		return "NoImageMedia"
	case ErrorCodeBadSDPAttribute:
		return "BadSDPAttribute"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// GatewayError ошибка шлюза с типизированным кодом и причиной
type GatewayError struct {
	Code    GatewayErrorCode
	Message string
	Wrapped error
}

// Error реализует интерфейс error
func (e *GatewayError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("t38: [%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("t38: [%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку
func (e *GatewayError) Unwrap() error { return e.Wrapped }

// newGatewayError создает ошибку шлюза
func newGatewayError(code GatewayErrorCode, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// wrapGatewayError создает ошибку шлюза с причиной
func wrapGatewayError(code GatewayErrorCode, err error, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Code: code, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// IsGatewayError сообщает, является ли ошибка ошибкой шлюза с кодом code
func IsGatewayError(err error, code GatewayErrorCode) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}
