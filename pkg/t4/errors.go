package t4

import (
	"errors"
	"fmt"
)

// ErrUnsupportedScheme схема кодирования не поддерживается
var ErrUnsupportedScheme = errors.New("t4: неподдерживаемая схема кодирования")

// DecodeError ошибка декодирования битового потока страницы.
// Row — индекс первой строки с нарушением кодовой таблицы. Под ECM это
// сигнал к выборочной повторной передаче; без ECM вызывающая сторона
// получает частично восстановленную страницу вместе с этой ошибкой.
type DecodeError struct {
	Row     int
	Reason  string
	Wrapped error

	// BadRows общее количество строк, замененных пустыми при
	// пересинхронизации (MH/MR); для MMR всегда 1
	BadRows int
}

// newCorruptRow создает ошибку испорченной строки
func newCorruptRow(row int, reason string) *DecodeError {
	return &DecodeError{Row: row, Reason: reason, BadRows: 1}
}

// Error реализует интерфейс error
func (e *DecodeError) Error() string {
	return fmt.Sprintf("t4: испорченная строка %d: %s", e.Row, e.Reason)
}

// Unwrap возвращает обернутую ошибку
func (e *DecodeError) Unwrap() error { return e.Wrapped }

// IsCorruptRow сообщает, является ли ошибка нарушением кодирования строки,
// и возвращает ее индекс
func IsCorruptRow(err error) (int, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Row, true
	}
	return 0, false
}
