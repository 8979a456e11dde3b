package t30

import (
	"github.com/arzzra/soft_fax/pkg/timing"
)

// eventKind тип внутреннего события сессии.
type eventKind int

const (
	evStart eventKind = iota
	evTone
	evFrame
	evBadFrame
	evImage
	evImageEnd
	evTraining
	evTimer
	evCarrierLost
	evAbort
)

func (k eventKind) String() string {
	switch k {
	case evStart:
		return "start"
	case evTone:
		return "tone"
	case evFrame:
		return "frame"
	case evBadFrame:
		return "bad_frame"
	case evImage:
		return "image"
	case evImageEnd:
		return "image_end"
	case evTraining:
		return "training"
	case evTimer:
		return "timer"
	case evCarrierLost:
		return "carrier_lost"
	case evAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// event единица работы цикла обработки сессии.
//
// Все внешние воздействия (кадры от модема, срабатывания таймеров,
// запрос на прерывание) сериализуются через канал событий, поэтому
// обработчик не нуждается в блокировках.
type event struct {
	kind  eventKind
	tone  ToneKind
	frame ControlFrame
	data  []byte
	ok    bool

	// timerClass и timerHandle идентифицируют сработавший таймер;
	// событие от перевзведенного таймера отбрасывается по handle
	timerClass  timing.Class
	timerHandle *timing.Handle
}

// modemEvents транслирует обратные вызовы модема в события сессии.
//
// Сборка HDLC кадров происходит здесь же: модем отдает сырые биты,
// дефреймер выделяет кадры, и только целые кадры попадают в цикл.
type modemEvents struct {
	session *FaxSession
}

func (m *modemEvents) OnHDLC(bits []byte) {
	m.session.feedHDLC(bits)
}

func (m *modemEvents) OnImage(data []byte) {
	m.session.post(event{kind: evImage, data: data})
}

func (m *modemEvents) OnImageEnd() {
	m.session.post(event{kind: evImageEnd})
}

func (m *modemEvents) OnToneDetected(tone ToneKind) {
	m.session.post(event{kind: evTone, tone: tone})
}

func (m *modemEvents) OnTrainingResult(ok bool) {
	m.session.post(event{kind: evTraining, ok: ok})
}

func (m *modemEvents) OnCarrierLost() {
	m.session.post(event{kind: evCarrierLost})
}
