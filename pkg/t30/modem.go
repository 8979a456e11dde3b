package t30

import (
	"sync"
	"time"
)

// ToneKind вид тонального сигнала вызова
type ToneKind int

const (
	// ToneCNG тон вызывающего факса (1100 Гц)
	ToneCNG ToneKind = iota
	// ToneCED тон ответившего факса (2100 Гц)
	ToneCED
)

func (t ToneKind) String() string {
	switch t {
	case ToneCNG:
		return "CNG"
	case ToneCED:
		return "CED"
	default:
		return "unknown"
	}
}

// ModemHandler события модемной абстракции. Реализуется сессией:
// каждый вызов превращается во входное событие машины состояний и
// обрабатывается строго в порядке доставки.
type ModemHandler interface {
	// OnHDLC принят фрагмент битового потока V.21 (кадры управления
	// или кадры данных ECM)
	OnHDLC(data []byte)
	// OnImage принят фрагмент высокоскоростного потока страницы (не ECM)
	OnImage(data []byte)
	// OnImageEnd пропадание высокоскоростной несущей — конец страницы
	OnImageEnd()
	// OnToneDetected обнаружен тональный сигнал
	OnToneDetected(kind ToneKind)
	// OnTrainingResult завершение тренировки, запрошенной StartTraining,
	// либо результат приема тренировочной последовательности
	OnTrainingResult(ok bool)
	// OnCarrierLost потеря несущей вне передачи страницы
	OnCarrierLost()
}

// Modem сессионный контракт модемной абстракции. Физическая генерация
// сигналов (V.17/V.27ter/V.29) остается за реализацией: машине состояний
// нужны только тренировка на согласованной скорости, передача битовых
// потоков и тональные сигналы. Все методы неблокирующие, завершения
// приходят через ModemHandler.
type Modem interface {
	// SetHandler привязывает получателя событий; вызывается сессией
	// до любых других методов
	SetHandler(h ModemHandler)
	// StartTraining начинает тренировку на скорости rate бит/с
	StartTraining(rate int) error
	// SendHDLC передает битовый поток V.21 (уже упакованный фреймером)
	SendHDLC(data []byte) error
	// SendImage передает высокоскоростной поток страницы
	SendImage(data []byte) error
	// EndImage сбрасывает высокоскоростную несущую
	EndImage() error
	// SendTone передает тональный сигнал
	SendTone(kind ToneKind) error
	// Hangup разрывает соединение
	Hangup() error
}

// LoopbackModem модем виртуальной линии: пара связанных модемов
// доставляет передаваемое одним концом в обработчик другого.
// Используется тестами и локальными прогонами; тренировка завершается
// успехом после настраиваемой задержки, первые FailTrainings попыток
// можно сделать неудачными для проверки отката скорости.
type LoopbackModem struct {
	mu      sync.Mutex
	peer    *LoopbackModem
	handler ModemHandler

	// TrainingDelay задержка до результата тренировки
	TrainingDelay time.Duration
	// FailTrainings количество первых тренировок, завершаемых неудачей
	FailTrainings int

	trained int

	// Corrupt при ненулевом значении искажает каждый n-й передаваемый
	// HDLC фрагмент (инверсия одного октета) для тестов повторов
	Corrupt   int
	sent      int
	hungup    bool
}

// NewLoopbackPair создает связанную пару виртуальных модемов
func NewLoopbackPair() (*LoopbackModem, *LoopbackModem) {
	a := &LoopbackModem{TrainingDelay: time.Millisecond}
	b := &LoopbackModem{TrainingDelay: time.Millisecond}
	a.peer = b
	b.peer = a
	return a, b
}

// SetHandler привязывает получателя событий
func (m *LoopbackModem) SetHandler(h ModemHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *LoopbackModem) peerHandler() ModemHandler {
	m.peer.mu.Lock()
	defer m.peer.mu.Unlock()
	return m.peer.handler
}

// StartTraining имитирует тренировку: результат получают оба конца
func (m *LoopbackModem) StartTraining(rate int) error {
	m.mu.Lock()
	fail := m.trained < m.FailTrainings
	m.trained++
	delay := m.TrainingDelay
	m.mu.Unlock()

	time.AfterFunc(delay, func() {
		m.mu.Lock()
		h := m.handler
		hungup := m.hungup
		m.mu.Unlock()
		if hungup {
			return
		}
		if h != nil {
			h.OnTrainingResult(!fail)
		}
		if ph := m.peerHandler(); ph != nil {
			ph.OnTrainingResult(!fail)
		}
	})
	return nil
}

// SendHDLC доставляет битовый поток обработчику партнера
func (m *LoopbackModem) SendHDLC(data []byte) error {
	m.mu.Lock()
	m.sent++
	if m.Corrupt > 0 && m.sent%m.Corrupt == 0 && len(data) > 8 {
		data = append([]byte(nil), data...)
		data[len(data)/2] ^= 0xA5
	}
	m.mu.Unlock()
	if h := m.peerHandler(); h != nil {
		h.OnHDLC(data)
	}
	return nil
}

// SendImage доставляет поток страницы обработчику партнера
func (m *LoopbackModem) SendImage(data []byte) error {
	if h := m.peerHandler(); h != nil {
		h.OnImage(data)
	}
	return nil
}

// EndImage сигнализирует партнеру конец страницы
func (m *LoopbackModem) EndImage() error {
	if h := m.peerHandler(); h != nil {
		h.OnImageEnd()
	}
	return nil
}

// SendTone доставляет тон обработчику партнера
func (m *LoopbackModem) SendTone(kind ToneKind) error {
	if h := m.peerHandler(); h != nil {
		h.OnToneDetected(kind)
	}
	return nil
}

// Hangup разрывает виртуальную линию
func (m *LoopbackModem) Hangup() error {
	m.mu.Lock()
	m.hungup = true
	m.mu.Unlock()
	return nil
}
