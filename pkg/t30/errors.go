package t30

import (
	"errors"
	"fmt"
)

// SessionErrorCode типизированные коды ошибок факсимильной сессии.
// Классификация повторяет коды завершения T.30 и позволяет обрабатывать
// ошибки по категориям: фатальные завершают сессию, восстановимые
// отрабатываются ограниченными повторами.
type SessionErrorCode int

const (
	// Ошибки согласования (фатальные)
	ErrorCodeIncompatible SessionErrorCode = iota + 3000
	ErrorCodeRxIncapable
	ErrorCodeTxIncapable
	ErrorCodeNoResolutionSupport
	ErrorCodeNoSizeSupport

	// Ошибки тренировки и несущей
	ErrorCodeCannotTrain
	ErrorCodeNoCarrier

	// Таймауты
	ErrorCodeT0Expired
	ErrorCodeT1Expired
	ErrorCodeT2Expired
	ErrorCodeT3Expired
	ErrorCodeT4Expired
	ErrorCodeT5Expired

	// Протокольные нарушения
	ErrorCodeUnexpectedFrame
	ErrorCodeInvalidResponse
	ErrorCodeGotDCN

	// Передача страниц
	ErrorCodeBadPage
	ErrorCodeECMExhausted

	// Прочее
	ErrorCodeCallDropped
	ErrorCodeAborted
)

// String возвращает строковое представление кода ошибки
func (code SessionErrorCode) String() string {
	switch code {
	case ErrorCodeIncompatible:
		return "Incompatible"
	case ErrorCodeRxIncapable:
		return "RxIncapable"
	case ErrorCodeTxIncapable:
		return "TxIncapable"
	case ErrorCodeNoResolutionSupport:
		return "NoResolutionSupport"
	case ErrorCodeNoSizeSupport:
		return "NoSizeSupport"
	case ErrorCodeCannotTrain:
		return "CannotTrain"
	case ErrorCodeNoCarrier:
		return "NoCarrier"
	case ErrorCodeT0Expired:
		return "T0Expired"
	case ErrorCodeT1Expired:
		return "T1Expired"
	case ErrorCodeT2Expired:
		return "T2Expired"
	case ErrorCodeT3Expired:
		return "T3Expired"
	case ErrorCodeT4Expired:
		return "T4Expired"
	case ErrorCodeT5Expired:
		return "T5Expired"
	case ErrorCodeUnexpectedFrame:
		return "UnexpectedFrame"
	case ErrorCodeInvalidResponse:
		return "InvalidResponse"
	case ErrorCodeGotDCN:
		return "GotDCN"
	case ErrorCodeBadPage:
		return "BadPage"
	case ErrorCodeECMExhausted:
		return "ECMExhausted"
	case ErrorCodeCallDropped:
		return "CallDropped"
	case ErrorCodeAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// SessionError ошибка факсимильной сессии с контекстом:
// типизированный код, идентификатор сессии для сопоставления с логами,
// фаза на момент ошибки и обернутая причина.
type SessionError struct {
	Code      SessionErrorCode
	Message   string
	SessionID string
	Phase     Phase
	Wrapped   error
}

// Error реализует интерфейс error
func (e *SessionError) Error() string {
	msg := fmt.Sprintf("t30 [%s]: %s", e.Code, e.Message)
	if e.SessionID != "" {
		msg += fmt.Sprintf(" (session: %s, phase: %s)", e.SessionID, e.Phase)
	}
	if e.Wrapped != nil {
		msg += fmt.Sprintf(": %v", e.Wrapped)
	}
	return msg
}

// Unwrap возвращает обернутую ошибку для errors.Is/As
func (e *SessionError) Unwrap() error { return e.Wrapped }

// newSessionError создает ошибку сессии
func newSessionError(code SessionErrorCode, sessionID string, phase Phase, format string, args ...interface{}) *SessionError {
	return &SessionError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		SessionID: sessionID,
		Phase:     phase,
	}
}

// IsSessionError проверяет, что ошибка несет указанный код
func IsSessionError(err error, code SessionErrorCode) bool {
	var se *SessionError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == code
}

// ErrNegotiationFailed отсутствие общего набора возможностей:
// стороны не разделяют ни одного семейства модуляции
var ErrNegotiationFailed = errors.New("t30: согласование не удалось — нет общей модуляции")
