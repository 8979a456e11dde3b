package t38

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/soft_fax/pkg/t30"
	"github.com/arzzra/soft_fax/pkg/timing"
)

// DefaultReorderWindow предел пакетов, удерживаемых в ожидании
// заполнения пропуска в нумерации
const DefaultReorderWindow = 8

// DefaultGapTimeout предел ожидания отставшего пакета
const DefaultGapTimeout = 20 * time.Millisecond

// DefaultTrainingDelay имитация длительности тренировки: по IP тракту
// тренировки как таковой нет, результат всегда успешен
const DefaultTrainingDelay = 2 * time.Millisecond

// DefaultMinFrameGap минимальный интервал между исходящими пакетами
// IFP: удаленному шлюзу нужно время на переизлучение в аналоговую линию
const DefaultMinFrameGap = time.Millisecond

// classReorderGap класс таймера ожидания пропуска
const classReorderGap = timing.Class("T38-REORDER")

// GatewayConfig конфигурация шлюза
type GatewayConfig struct {
	// Transport датаграммный тракт до удаленного шлюза
	Transport Transport

	// Redundancy количество избыточных копий UDPTL
	Redundancy int

	// ReorderWindow размер окна восстановления порядка
	ReorderWindow int

	// GapTimeout предел ожидания пакета, закрывающего пропуск
	GapTimeout time.Duration

	// TrainingDelay задержка до доставки результата тренировки
	TrainingDelay time.Duration

	// MinFrameGap минимальный интервал между исходящими пакетами
	MinFrameGap time.Duration

	// NoPacing отключает разрежение исходящего потока; уместно, когда
	// по ту сторону тракта второй такой же шлюз, а не аналоговая линия
	NoPacing bool

	// Logger структурированный логгер; nil — лог в stderr
	Logger t30.StructuredLogger
}

// DefaultGatewayConfig возвращает конфигурацию шлюза по умолчанию
func DefaultGatewayConfig(transport Transport) GatewayConfig {
	return GatewayConfig{
		Transport:     transport,
		Redundancy:    DefaultRedundancy,
		ReorderWindow: DefaultReorderWindow,
		GapTimeout:    DefaultGapTimeout,
		TrainingDelay: DefaultTrainingDelay,
		MinFrameGap:   DefaultMinFrameGap,
	}
}

// GatewayStats счетчики шлюза
type GatewayStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	Duplicates      uint64
	OutOfOrder      uint64
	Lost            uint64
	Recovered       uint64
}

// Gateway переносит факсимильную сессию по IP: для машины состояний
// T.30 он неотличим от модема, по ту сторону тракта стоит либо второй
// такой же шлюз, либо операторский шлюз T.38.
//
// Номера пакетов IFP растут монотонно с переполнением uint16.
// Приемная сторона отбрасывает дубликаты, выправляет перестановки
// окном ReorderWindow и восполняет одиночные потери избыточными
// копиями UDPTL.
type Gateway struct {
	transport Transport
	config    GatewayConfig
	log       t30.StructuredLogger
	clock     *timing.Controller

	mutex   sync.Mutex
	handler t30.ModemHandler
	encoder *udptlEncoder
	txSeq   uint16
	rate    int
	closed  bool

	paceMutex sync.Mutex
	lastSend  time.Time

	rxMutex   sync.Mutex
	rxStarted bool
	nextSeq   uint16
	pending   map[uint16]*Packet
	gapTimer  *timing.Handle

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	duplicates      atomic.Uint64
	outOfOrder      atomic.Uint64
	lost            atomic.Uint64
	recovered       atomic.Uint64
}

// NewGateway создает шлюз поверх тракта
func NewGateway(config GatewayConfig) (*Gateway, error) {
	if config.Transport == nil {
		return nil, newGatewayError(ErrorCodeTransportClosed, "тракт обязателен")
	}
	if config.Redundancy == 0 {
		config.Redundancy = DefaultRedundancy
	}
	if config.ReorderWindow == 0 {
		config.ReorderWindow = DefaultReorderWindow
	}
	if config.GapTimeout == 0 {
		config.GapTimeout = DefaultGapTimeout
	}
	if config.TrainingDelay == 0 {
		config.TrainingDelay = DefaultTrainingDelay
	}
	if config.MinFrameGap == 0 {
		config.MinFrameGap = DefaultMinFrameGap
	}
	logger := config.Logger
	if logger == nil {
		logger = t30.NewDefaultLogger(os.Stderr, t30.LogLevelInfo)
	}

	return &Gateway{
		transport: config.Transport,
		config:    config,
		log:       logger.WithFields(t30.String("component", "t38-gateway")),
		clock:     timing.NewController(nil),
		encoder:   newUDPTLEncoder(config.Redundancy),
		rate:      14400,
		pending:   make(map[uint16]*Packet),
	}, nil
}

// Stats возвращает снимок счетчиков
func (g *Gateway) Stats() GatewayStats {
	return GatewayStats{
		PacketsSent:     g.packetsSent.Load(),
		PacketsReceived: g.packetsReceived.Load(),
		Duplicates:      g.duplicates.Load(),
		OutOfOrder:      g.outOfOrder.Load(),
		Lost:            g.lost.Load(),
		Recovered:       g.recovered.Load(),
	}
}

// --- контракт t30.Modem ---

// SetHandler привязывает получателя событий и запускает прием
func (g *Gateway) SetHandler(h t30.ModemHandler) {
	g.mutex.Lock()
	first := g.handler == nil
	g.handler = h
	g.mutex.Unlock()
	if first {
		g.transport.SetReceiver(g.onDatagram)
	}
}

// StartTraining объявляет смену несущей индикатором тренировки.
// По IP тракту тренировка всегда успешна, результат доставляется
// после TrainingDelay, имитируя временной ход аналоговой линии.
func (g *Gateway) StartTraining(rate int) error {
	g.mutex.Lock()
	g.rate = rate
	g.mutex.Unlock()

	if err := g.sendIndicator(TrainingIndicator(rate)); err != nil {
		return err
	}
	time.AfterFunc(g.config.TrainingDelay, func() {
		if h := g.currentHandler(); h != nil {
			h.OnTrainingResult(true)
		}
	})
	return nil
}

// SendHDLC переносит битовый поток V.21 полями HDLC-DATA
func (g *Gateway) SendHDLC(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > MaxFieldLen {
			n = MaxFieldLen
		}
		if err := g.sendData(DataV21, Field{Type: FieldHDLCData, Data: data[:n]}); err != nil {
			return err
		}
		data = data[n:]
	}
	return g.sendData(DataV21, Field{Type: FieldHDLCSigEnd})
}

// SendImage переносит высокоскоростной поток страницы
func (g *Gateway) SendImage(data []byte) error {
	dt := DataTypeForRate(g.currentRate())
	for len(data) > 0 {
		n := len(data)
		if n > MaxFieldLen {
			n = MaxFieldLen
		}
		if err := g.sendData(dt, Field{Type: FieldT4NonECMData, Data: data[:n]}); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// EndImage объявляет конец потока страницы
func (g *Gateway) EndImage() error {
	return g.sendData(DataTypeForRate(g.currentRate()), Field{Type: FieldT4NonECMSigEnd})
}

// SendTone переносит тональный сигнал индикатором
func (g *Gateway) SendTone(kind t30.ToneKind) error {
	if kind == t30.ToneCNG {
		return g.sendIndicator(IndicatorCNG)
	}
	return g.sendIndicator(IndicatorCED)
}

// Hangup объявляет пропадание сигнала и закрывает тракт
func (g *Gateway) Hangup() error {
	g.mutex.Lock()
	if g.closed {
		g.mutex.Unlock()
		return nil
	}
	g.closed = true
	g.mutex.Unlock()

	g.sendIndicatorPacket(IndicatorNoSignal)
	g.rxMutex.Lock()
	if g.gapTimer != nil {
		g.gapTimer.Cancel()
		g.gapTimer = nil
	}
	g.rxMutex.Unlock()
	return g.transport.Close()
}

// --- передача ---

func (g *Gateway) currentHandler() t30.ModemHandler {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.handler
}

func (g *Gateway) currentRate() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.rate
}

func (g *Gateway) sendIndicator(ind IndicatorType) error {
	g.mutex.Lock()
	if g.closed {
		g.mutex.Unlock()
		return newGatewayError(ErrorCodeTransportClosed, "шлюз закрыт")
	}
	g.mutex.Unlock()
	return g.sendIndicatorPacket(ind)
}

func (g *Gateway) sendIndicatorPacket(ind IndicatorType) error {
	g.mutex.Lock()
	packet := NewIndicatorPacket(g.txSeq, ind)
	g.txSeq++
	raw, err := packet.Marshal()
	if err != nil {
		g.mutex.Unlock()
		return err
	}
	datagram := g.encoder.encode(raw)
	g.mutex.Unlock()

	g.pace()
	g.packetsSent.Add(1)
	return g.transport.Send(datagram)
}

// pace выдерживает MinFrameGap между исходящими пакетами: операторский
// шлюз на том конце переизлучает их в аналоговую линию в реальном
// времени и захлебывается при отправке вплотную
func (g *Gateway) pace() {
	if g.config.NoPacing {
		return
	}
	g.paceMutex.Lock()
	defer g.paceMutex.Unlock()
	if wait := g.config.MinFrameGap - time.Since(g.lastSend); wait > 0 {
		time.Sleep(wait)
	}
	g.lastSend = time.Now()
}

func (g *Gateway) sendData(dt DataType, fields ...Field) error {
	g.mutex.Lock()
	if g.closed {
		g.mutex.Unlock()
		return newGatewayError(ErrorCodeTransportClosed, "шлюз закрыт")
	}
	packet := NewDataPacket(g.txSeq, dt, fields...)
	g.txSeq++
	raw, err := packet.Marshal()
	if err != nil {
		g.mutex.Unlock()
		return err
	}
	datagram := g.encoder.encode(raw)
	g.mutex.Unlock()

	g.pace()
	g.packetsSent.Add(1)
	return g.transport.Send(datagram)
}

// --- прием ---

// onDatagram разбирает датаграмму и проводит пакеты через окно
// восстановления порядка
func (g *Gateway) onDatagram(datagram []byte) {
	primary, redundant, err := decodeUDPTL(datagram)
	if err != nil {
		g.log.Warn("битая датаграмма", t30.Err(err))
		return
	}

	packets := make([]*Packet, 0, 1+len(redundant))
	if p, err := UnmarshalPacket(primary); err == nil {
		packets = append(packets, p)
	} else {
		g.log.Warn("битый первичный пакет", t30.Err(err))
	}
	for _, raw := range redundant {
		if p, err := UnmarshalPacket(raw); err == nil {
			packets = append(packets, p)
		}
	}
	if len(packets) == 0 {
		return
	}
	g.packetsReceived.Add(uint64(len(packets)))

	g.rxMutex.Lock()
	if !g.rxStarted {
		// отсчет от самого раннего номера первой датаграммы: копии
		// в ней старше первичного пакета
		g.rxStarted = true
		g.nextSeq = packets[0].Seq
		for _, p := range packets[1:] {
			if int16(p.Seq-g.nextSeq) < 0 {
				g.nextSeq = p.Seq
			}
		}
	}
	for i, p := range packets {
		g.acceptLocked(p, i > 0)
	}
	ready := g.drainLocked()
	g.rxMutex.Unlock()

	for _, p := range ready {
		g.dispatch(p)
	}
}

// acceptLocked помещает пакет в окно; вызывается под rxMutex
func (g *Gateway) acceptLocked(p *Packet, fromRedundancy bool) {
	diff := int16(p.Seq - g.nextSeq)
	if diff < 0 {
		g.duplicates.Add(1)
		return
	}
	if _, dup := g.pending[p.Seq]; dup {
		g.duplicates.Add(1)
		return
	}
	g.pending[p.Seq] = p
	if fromRedundancy {
		g.recovered.Add(1)
	}
	if diff > 0 {
		g.outOfOrder.Add(1)
	}
}

// drainLocked выдает пакеты, готовые к доставке по порядку, и
// управляет таймером пропуска; вызывается под rxMutex
func (g *Gateway) drainLocked() []*Packet {
	var ready []*Packet
	for {
		p, ok := g.pending[g.nextSeq]
		if !ok {
			break
		}
		delete(g.pending, g.nextSeq)
		g.nextSeq++
		ready = append(ready, p)
	}

	if len(g.pending) == 0 {
		if g.gapTimer != nil {
			g.gapTimer.Cancel()
			g.gapTimer = nil
		}
		return ready
	}

	// пропуск в нумерации: окно переполнено — пропуск признается
	// потерей сразу, иначе ждем отставший пакет ограниченное время
	if len(g.pending) >= g.config.ReorderWindow {
		ready = append(ready, g.skipGapLocked()...)
		return ready
	}
	if g.gapTimer == nil || !g.gapTimer.Active() {
		g.gapTimer = g.clock.ArmWithDuration(classReorderGap, g.config.GapTimeout, func(*timing.Handle) {
			g.flushGap()
		})
	}
	return ready
}

// skipGapLocked признает недостающие пакеты потерянными и продвигает
// окно до ближайшего имеющегося номера
func (g *Gateway) skipGapLocked() []*Packet {
	oldest := g.oldestPendingLocked()
	skipped := int16(oldest - g.nextSeq)
	if skipped > 0 {
		g.lost.Add(uint64(skipped))
		g.log.Warn("пропуск признан потерей", t30.Int("packets", int(skipped)))
	}
	g.nextSeq = oldest
	return g.drainLocked()
}

func (g *Gateway) oldestPendingLocked() uint16 {
	var oldest uint16
	first := true
	for seq := range g.pending {
		if first || int16(seq-oldest) < 0 {
			oldest = seq
			first = false
		}
	}
	return oldest
}

// flushGap срабатывание таймера пропуска
func (g *Gateway) flushGap() {
	g.rxMutex.Lock()
	var ready []*Packet
	if len(g.pending) > 0 {
		ready = g.skipGapLocked()
	}
	g.rxMutex.Unlock()

	for _, p := range ready {
		g.dispatch(p)
	}
}

// dispatch доставляет пакет обработчику модемных событий
func (g *Gateway) dispatch(p *Packet) {
	h := g.currentHandler()
	if h == nil {
		return
	}

	if !p.IsData() {
		switch p.Indicator {
		case IndicatorCNG:
			h.OnToneDetected(t30.ToneCNG)
		case IndicatorCED:
			h.OnToneDetected(t30.ToneCED)
		case IndicatorNoSignal:
			h.OnCarrierLost()
		case IndicatorV21Preamble:
			// преамбула предшествует кадрам, реакция не требуется
		default:
			if _, ok := TrainingRate(p.Indicator); ok {
				h.OnTrainingResult(true)
			}
		}
		return
	}

	for _, f := range p.Fields {
		switch f.Type {
		case FieldHDLCData:
			h.OnHDLC(f.Data)
		case FieldT4NonECMData:
			h.OnImage(f.Data)
		case FieldT4NonECMSigEnd:
			h.OnImageEnd()
		case FieldHDLCSigEnd, FieldHDLCFCSOK, FieldHDLCFCSBad,
			FieldHDLCFCSOKSigEnd, FieldHDLCFCSBadSigEnd:
			// границы кадров и FCS живут в самом битовом потоке
		}
	}
}
