package t30

import "time"

// PageResult содержит итог передачи одной страницы.
//
// Для принимающей стороны BadRows и Degraded описывают качество
// восстановленного изображения: страница с поврежденными строками
// сохраняется (поврежденные строки заменяются пустыми), но помечается
// как деградированная. ECMRetransmits учитывает количество строк,
// переданных повторно в рамках циклов PPS/PPR.
type PageResult struct {
	// Index порядковый номер страницы (с нуля)
	Index int

	// Rows количество строк на странице
	Rows int

	// BadRows количество строк, которые не удалось восстановить
	BadRows int

	// Degraded страница принята с потерями (только вне ECM)
	Degraded bool

	// ECMRetransmits количество повторно переданных строк ECM
	ECMRetransmits int
}

// TransferStatistics агрегированная статистика сессии.
type TransferStatistics struct {
	// BitRate итоговая скорость передачи, бит/с
	BitRate int

	// Pages количество подтвержденных страниц
	Pages int

	// RowsTransferred общее количество переданных строк
	RowsTransferred int

	// BadRows общее количество поврежденных строк
	BadRows int

	// Retrains количество повторных тренировок (FTT, CTC)
	Retrains int

	// ECMRetransmits общее количество повторно переданных строк ECM
	ECMRetransmits int

	// Duration длительность сессии от старта до завершения
	Duration time.Duration
}

// SessionResult итог факсимильной сессии.
//
// Err == nil означает успешное завершение: все страницы подтверждены
// и соединение разорвано штатным DCN. При ошибке поля заполняются
// настолько, насколько сессия успела продвинуться.
type SessionResult struct {
	// SessionID идентификатор сессии
	SessionID string

	// Negotiated согласованные параметры сеанса (nil если фаза B не завершилась)
	Negotiated *Capabilities

	// RemoteIdent идентификатор удаленной станции (CSI/TSI)
	RemoteIdent string

	// Pages результаты по страницам
	Pages []PageResult

	// PagesConfirmed количество подтвержденных страниц
	PagesConfirmed int

	// Stats статистика передачи
	Stats TransferStatistics

	// Err причина неуспеха, nil при успехе
	Err *SessionError
}

// OK сообщает, завершилась ли сессия успешно.
func (r *SessionResult) OK() bool {
	return r.Err == nil
}
