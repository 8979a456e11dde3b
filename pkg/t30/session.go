package t30

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/soft_fax/pkg/hdlc"
	"github.com/arzzra/soft_fax/pkg/t4"
	"github.com/arzzra/soft_fax/pkg/timing"
)

// Role роль станции в сеансе.
type Role int

const (
	// RoleCaller вызывающая станция (передатчик документа)
	RoleCaller Role = iota
	// RoleAnswerer отвечающая станция (приемник документа)
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleCaller {
		return "caller"
	}
	return "answerer"
}

// Config конфигурация факсимильной сессии.
type Config struct {
	// Role роль станции
	Role Role

	// LocalIdent идентификатор локальной станции для CSI/TSI
	LocalIdent string

	// Capabilities локальный набор возможностей
	Capabilities Capabilities

	// Document страницы для передачи (только для вызывающей стороны)
	Document []*t4.Page

	// Logger структурированный логгер; nil — лог в stderr
	Logger StructuredLogger

	// Timing таблица таймеров; nil — значения по умолчанию T.30
	Timing timing.PolicyTable

	// Metrics необязательные Prometheus метрики
	Metrics *Metrics
}

// DefaultConfig возвращает конфигурацию по умолчанию для роли.
func DefaultConfig(role Role) *Config {
	return &Config{
		Role:         role,
		Capabilities: DefaultCapabilities(),
		Timing:       timing.DefaultPolicyTable(),
	}
}

// commandRetryLimit количество повторов команды по истечении T4
const commandRetryLimit = 3

// crpLimit количество ответов CRP на один ожидаемый ответ
const crpLimit = 1

// trainState результат тренировки на приемной стороне.
type trainState int

const (
	trainPending trainState = iota
	trainOK
	trainFail
)

// FaxSession факсимильная сессия T.30 поверх модемной абстракции.
//
// Все события (кадры, таймеры, прерывание) сериализуются через один
// канал и обрабатываются единственной горутиной, поэтому внутреннее
// состояние не требует блокировок. Жизненный цикл:
//
//	session := NewSession(modem, config)
//	session.Start()
//	result := session.Wait(ctx)
type FaxSession struct {
	id      string
	role    Role
	modem   Modem
	log     StructuredLogger
	clock   *timing.Controller
	metrics *Metrics
	machine *fsm.FSM

	framer    *hdlc.Framer
	deframeMu sync.Mutex
	deframer  *hdlc.Deframer

	events  chan event
	done    chan struct{}
	started atomic.Bool
	aborted atomic.Bool

	local      Capabilities
	localIdent string

	remote      Capabilities
	remoteIdent string
	negotiated  *Capabilities

	// Передающая сторона
	document []*t4.Page
	txIndex  int
	ecmTx    *ecmTransmitter
	ctcRows  []int

	// Принимающая сторона
	rxImage  []byte
	rxPages  []*t4.Page
	ecmRx    *ecmReceiver
	dcsSeen  bool
	training trainState
	eopSeen  bool

	// Последняя переданная команда для повторов по T4 и CRP
	lastBurst  [][]byte
	cmdRetries *timing.RetryBudget
	t2Retries  *timing.RetryBudget
	crpBudget  *timing.RetryBudget

	timers map[timing.Class]*timing.Handle

	pages      []PageResult
	confirmed  int
	stats      TransferStatistics
	startedAt  time.Time
	resultErr  *SessionError
	terminated bool

	resultMu sync.Mutex
	result   *SessionResult
}

// NewSession создает сессию поверх модема. Сессия не активна до Start.
func NewSession(modem Modem, config *Config) *FaxSession {
	if config == nil {
		config = DefaultConfig(RoleCaller)
	}
	logger := config.Logger
	if logger == nil {
		logger = NewDefaultLogger(os.Stderr, LogLevelInfo)
	}
	policy := config.Timing
	if policy == nil {
		policy = timing.DefaultPolicyTable()
	}

	s := &FaxSession{
		id:         uuid.NewString(),
		role:       config.Role,
		modem:      modem,
		clock:      timing.NewController(policy),
		metrics:    config.Metrics,
		framer:     hdlc.NewFramer(),
		events:     make(chan event, 512),
		done:       make(chan struct{}),
		local:      config.Capabilities,
		localIdent: config.LocalIdent,
		document:   config.Document,
		cmdRetries: timing.NewRetryBudget(commandRetryLimit),
		t2Retries:  timing.NewRetryBudget(commandRetryLimit),
		crpBudget:  timing.NewRetryBudget(crpLimit),
		timers:     make(map[timing.Class]*timing.Handle),
	}
	s.log = logger.WithFields(String("session_id", s.id), String("role", s.role.String()))
	s.machine = newPhaseMachine(func(from, to Phase) {
		s.log.Debug("смена фазы", String("from", from.String()), String("to", to.String()))
	})
	s.deframer = hdlc.NewDeframer(s.onDeframed)
	return s
}

// ID возвращает идентификатор сессии.
func (s *FaxSession) ID() string { return s.id }

// Phase возвращает текущую фазу. Значение мгновенное: после возврата
// фаза может смениться.
func (s *FaxSession) Phase() Phase {
	return phaseFromString(s.machine.Current())
}

// Start запускает сессию. Повторный вызов игнорируется.
func (s *FaxSession) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.startedAt = time.Now()
	s.metrics.observeStart()
	s.modem.SetHandler(&modemEvents{session: s})
	go s.run()
	s.post(event{kind: evStart})
}

// Abort прерывает сессию. Таймеры снимаются синхронно, событие
// прерывания обрабатывается до любых последующих событий модема.
func (s *FaxSession) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		s.post(event{kind: evAbort})
	}
}

// Done закрывается по завершении сессии.
func (s *FaxSession) Done() <-chan struct{} { return s.done }

// Wait блокируется до завершения сессии или отмены контекста.
func (s *FaxSession) Wait(ctx context.Context) (*SessionResult, error) {
	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result возвращает итог сессии, nil если сессия не завершена.
func (s *FaxSession) Result() *SessionResult {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	return s.result
}

// post ставит событие в очередь. Очередь рассчитана с запасом;
// переполнение означает зависший цикл, событие отбрасывается с логом.
func (s *FaxSession) post(ev event) {
	select {
	case s.events <- ev:
	default:
		s.log.Error("очередь событий переполнена", String("event", ev.kind.String()))
	}
}

// feedHDLC передает принятые биты V.21 дефреймеру.
func (s *FaxSession) feedHDLC(data []byte) {
	s.deframeMu.Lock()
	defer s.deframeMu.Unlock()
	s.deframer.Feed(data)
}

// onDeframed вызывается дефреймером на каждый выделенный кадр.
func (s *FaxSession) onDeframed(f hdlc.Frame) {
	if f.Aborted || !f.FCSOK {
		s.post(event{kind: evBadFrame})
		return
	}
	cf, ok := parseFrame(f.Payload)
	if !ok {
		s.post(event{kind: evBadFrame})
		return
	}
	s.post(event{kind: evFrame, frame: cf})
}

// run главный цикл сессии.
func (s *FaxSession) run() {
	for ev := range s.events {
		s.handle(ev)
		if s.terminated {
			break
		}
	}
	s.finalize()
}

func (s *FaxSession) handle(ev event) {
	switch ev.kind {
	case evStart:
		s.onStart()
	case evAbort:
		s.cancelAllTimers()
		s.sendDCN()
		s.fail(ErrorCodeAborted, "сессия прервана локально")
	case evTimer:
		if s.timers[ev.timerClass] != ev.timerHandle {
			return // перевзведенный или снятый таймер
		}
		delete(s.timers, ev.timerClass)
		s.onTimer(ev.timerClass)
	case evFrame:
		s.onFrame(ev.frame)
	case evBadFrame:
		s.onBadFrame()
	case evTone:
		s.log.Debug("тональный сигнал", String("tone", ev.tone.String()))
	case evTraining:
		s.onTraining(ev.ok)
	case evImage:
		s.onImageData(ev.data)
	case evImageEnd:
		s.onImageEnd()
	case evCarrierLost:
		s.onCarrierLost()
	}
}

// --- запуск ---

func (s *FaxSession) onStart() {
	s.transition(phaseEventStart)
	if s.role == RoleCaller {
		s.modem.SendTone(ToneCNG)
		s.armTimer(timing.ClassT1)
		return
	}
	// Отвечающая сторона сразу заявляет возможности
	s.modem.SendTone(ToneCED)
	s.sendBurst(
		buildFrame(FrameCSI, false, encodeIdent(s.localIdent)),
		buildFrame(FrameDIS, true, EncodeDIS(s.local)),
	)
	s.transition(phaseEventNegotiate)
	s.armTimer(timing.ClassT1)
}

// --- кадры ---

func (s *FaxSession) onFrame(f ControlFrame) {
	s.log.Debug("принят кадр", String("frame", f.Type.String()), Bool("final", f.Final))

	// DCN завершает сеанс из любой фазы
	if f.Type == FrameDCN {
		s.onDCN()
		return
	}
	if f.Type == FrameCRP {
		// партнер не разобрал команду, повторяем последнюю посылку
		s.resendBurst()
		return
	}

	handled := false
	if s.role == RoleCaller {
		handled = s.callerFrame(f)
	} else {
		handled = s.answererFrame(f)
	}
	if handled {
		s.crpBudget.Reset()
		return
	}
	s.onUnexpectedFrame(f)
}

func (s *FaxSession) callerFrame(f ControlFrame) bool {
	switch f.Type {
	case FrameCSI:
		s.remoteIdent = decodeIdent(f.FIF)
		return true

	case FrameNSF:
		return true // нестандартные возможности не используем

	case FrameDIS:
		if s.Phase() != PhaseA {
			return false
		}
		s.cancelTimer(timing.ClassT1)
		s.transition(phaseEventNegotiate)
		s.remote = DecodeDIS(f.FIF)
		negotiated, err := Negotiate(s.local, s.remote)
		if err != nil {
			s.sendDCN()
			s.fail(ErrorCodeIncompatible, "согласование: %v", err)
			return true
		}
		s.negotiated = &negotiated
		s.log.Info("параметры согласованы", String("caps", negotiated.String()))
		s.sendDCSAndTrain()
		return true

	case FrameCFR:
		if s.Phase() != PhaseB {
			return false
		}
		s.cancelTimer(timing.ClassT4)
		s.cmdRetries.Reset()
		s.transition(phaseEventTrain)
		s.startPage()
		return true

	case FrameFTT:
		if s.Phase() != PhaseB {
			return false
		}
		s.cancelTimer(timing.ClassT4)
		s.stats.Retrains++
		if !s.fallbackRate() {
			s.sendDCN()
			s.fail(ErrorCodeCannotTrain, "тренировка не удалась на минимальной скорости")
			return true
		}
		s.sendDCSAndTrain()
		return true

	case FrameMCF:
		return s.onConfirmed(false)

	case FrameRTP:
		return s.onConfirmed(true)

	case FrameRTN:
		// страница отвергнута: повторяем ее после перетренировки
		if s.Phase() != PhaseD {
			return false
		}
		s.cancelTimer(timing.ClassT4)
		s.stats.Retrains++
		if !s.fallbackRate() {
			s.sendDCN()
			s.fail(ErrorCodeBadPage, "страница отвергнута, скорость исчерпана")
			return true
		}
		s.transition(phaseEventRenegotiate)
		s.sendDCSAndTrain()
		return true

	case FramePPR:
		return s.onPPR(f.FIF)

	case FrameCTR:
		if len(s.ctcRows) == 0 {
			return false
		}
		s.cancelTimer(timing.ClassT4)
		rows := s.ctcRows
		s.ctcRows = nil
		s.modem.StartTraining(s.negotiated.BitRate)
		s.sendECMRows(rows)
		return true
	}
	return false
}

func (s *FaxSession) answererFrame(f ControlFrame) bool {
	switch f.Type {
	case FrameTSI:
		s.remoteIdent = decodeIdent(f.FIF)
		return true

	case FrameNSS:
		return true

	case FrameDCS:
		if phase := s.Phase(); phase != PhaseB && phase != PhaseC && phase != PhaseD {
			return false
		}
		s.cancelTimer(timing.ClassT1)
		caps := DecodeDCS(f.FIF)
		s.negotiated = &caps
		s.dcsSeen = true
		s.log.Info("приняты параметры сеанса", String("caps", caps.String()))
		s.maybeAnswerTraining()
		return true

	case FrameFCD:
		if s.Phase() != PhaseC || s.negotiated == nil || !s.negotiated.ECM {
			return false
		}
		s.cancelTimer(timing.ClassT2)
		row, code, err := parseFCDFIF(f.FIF)
		if err != nil {
			s.log.Warn("некорректный FCD", Err(err))
			return true
		}
		s.ensureECMReceiver()
		s.ecmRx.acceptRow(row, code)
		s.armTimer(timing.ClassT5)
		return true

	case FrameRCP:
		// маркер конца блока, границу определяет PPS
		return s.Phase() == PhaseC

	case FramePPS:
		return s.onPPS(f.FIF)

	case FrameMPS:
		if s.Phase() != PhaseD {
			return false
		}
		s.cancelTimer(timing.ClassT2)
		s.respond(FrameMCF)
		s.transition(phaseEventNextPage)
		s.prepareReceive()
		s.armTimer(timing.ClassT2)
		return true

	case FrameCTC:
		// передатчик продолжает ECM на пониженной скорости
		if s.Phase() != PhaseC || s.negotiated == nil || !s.negotiated.ECM {
			return false
		}
		s.respond(FrameCTR)
		s.armTimer(timing.ClassT5)
		return true

	case FrameEOM:
		// возврат в фазу B: партнер хочет пересогласовать параметры
		if s.Phase() != PhaseD {
			return false
		}
		s.cancelTimer(timing.ClassT2)
		s.respond(FrameMCF)
		s.transition(phaseEventRenegotiate)
		s.dcsSeen = false
		s.training = trainPending
		s.armTimer(timing.ClassT1)
		return true

	case FrameEOP:
		if s.Phase() != PhaseD {
			return false
		}
		s.cancelTimer(timing.ClassT2)
		s.eopSeen = true
		s.respond(FrameMCF)
		s.transition(phaseEventDisconnect)
		s.armTimer(timing.ClassT2)
		return true
	}
	return false
}

// onConfirmed обрабатывает подтверждение страницы (MCF либо RTP).
func (s *FaxSession) onConfirmed(retrain bool) bool {
	phase := s.Phase()
	if phase != PhaseC && phase != PhaseD {
		return false
	}
	s.cancelTimer(timing.ClassT4)
	s.cmdRetries.Reset()

	page := s.document[s.txIndex]
	result := PageResult{Index: s.txIndex, Rows: len(page.Rows)}
	if s.ecmTx != nil {
		result.ECMRetransmits = s.ecmTx.retransmits
		s.ecmTx = nil
	}
	s.pages = append(s.pages, result)
	s.confirmed++
	s.log.Info("страница подтверждена", Int("page", s.txIndex))

	if phase == PhaseC {
		s.transition(phaseEventPageDone)
	}

	if s.txIndex == len(s.document)-1 {
		s.sendDCN()
		s.transition(phaseEventDisconnect)
		s.succeed()
		return true
	}

	s.txIndex++
	if retrain {
		s.stats.Retrains++
		s.transition(phaseEventRenegotiate)
		s.sendDCSAndTrain()
		return true
	}
	s.transition(phaseEventNextPage)
	s.startPage()
	return true
}

// onPPR обрабатывает запрос повторной передачи строк ECM.
func (s *FaxSession) onPPR(bitmap []byte) bool {
	if s.Phase() != PhaseC || s.ecmTx == nil {
		return false
	}
	s.cancelTimer(timing.ClassT4)
	s.ecmTx.pprCycles++
	rows := s.ecmTx.rowsFromPPR(bitmap)
	if len(rows) == 0 {
		// пустая карта противоречит самому PPR
		s.sendDCN()
		s.fail(ErrorCodeInvalidResponse, "PPR без запрошенных строк")
		return true
	}

	if s.ecmTx.pprCycles > ecmPPRLimit {
		// лимит циклов исчерпан: пробуем продолжить на меньшей скорости
		if !s.fallbackRate() {
			s.sendDCN()
			s.fail(ErrorCodeECMExhausted, "повторы ECM исчерпаны")
			return true
		}
		s.stats.Retrains++
		s.ecmTx.pprCycles = 0
		s.ctcRows = rows
		s.sendBurst(buildFrame(FrameCTC, true, []byte{rateToDCS[s.negotiated.BitRate], 0}))
		s.armTimer(timing.ClassT4)
		return true
	}

	s.ecmTx.retransmits += len(rows)
	s.stats.ECMRetransmits += len(rows)
	s.log.Debug("повторная передача строк ECM", Int("rows", len(rows)), Int("cycle", s.ecmTx.pprCycles))
	s.sendECMRows(rows)
	return true
}

// onPPS обрабатывает конец блока ECM на приемной стороне.
func (s *FaxSession) onPPS(fif []byte) bool {
	if s.Phase() != PhaseC || s.negotiated == nil || !s.negotiated.ECM {
		return false
	}
	cmd, pageIndex, rows, err := parsePPSFIF(fif)
	if err != nil {
		s.log.Warn("некорректный PPS", Err(err))
		return true
	}
	s.cancelTimer(timing.ClassT2)
	s.cancelTimer(timing.ClassT5)
	s.ensureECMReceiver()

	bitmap, complete := s.ecmRx.buildPPR(rows)
	if !complete {
		s.sendBurst(buildFrame(FramePPR, true, bitmap))
		s.armTimer(timing.ClassT5)
		return true
	}

	page, err := s.ecmRx.assemblePage(rows)
	if err != nil {
		// полнота уже проверена, сюда попадать не должны
		s.log.Error("сборка блока ECM", Err(err))
		s.sendBurst(buildFrame(FramePPR, true, make([]byte, (rows+7)/8)))
		return true
	}
	s.storePage(page, PageResult{
		Index:          pageIndex,
		Rows:           rows,
		ECMRetransmits: s.ecmRx.retransmits,
	})
	s.ecmRx = nil
	s.respond(FrameMCF)

	switch cmd {
	case FrameEOP:
		s.eopSeen = true
		s.transition(phaseEventPageDone)
		s.transition(phaseEventDisconnect)
		s.armTimer(timing.ClassT2)
	case FrameEOM:
		s.transition(phaseEventPageDone)
		s.transition(phaseEventRenegotiate)
		s.dcsSeen = false
		s.training = trainPending
		s.armTimer(timing.ClassT1)
	default: // MPS
		s.prepareReceive()
		s.armTimer(timing.ClassT2)
	}
	return true
}

// onDCN обрабатывает разрыв соединения.
func (s *FaxSession) onDCN() {
	s.cancelAllTimers()
	if s.role == RoleAnswerer && s.eopSeen {
		s.succeed()
		return
	}
	s.fail(ErrorCodeGotDCN, "партнер разорвал соединение в фазе %s", s.Phase())
}

// onUnexpectedFrame реализует процедуру CRP: один запрос повтора,
// повторное нарушение фатально.
func (s *FaxSession) onUnexpectedFrame(f ControlFrame) {
	if s.crpBudget.Next() {
		s.log.Warn("неожиданный кадр, запрашиваем повтор",
			String("frame", f.Type.String()), String("phase", s.Phase().String()))
		s.modem.SendHDLC(s.framer.Frame(buildFrame(FrameCRP, true, nil)))
		return
	}
	s.sendDCN()
	s.fail(ErrorCodeUnexpectedFrame, "кадр %s в фазе %s", f.Type, s.Phase())
}

// onBadFrame обрабатывает кадр с неверной FCS либо оборванный кадр.
func (s *FaxSession) onBadFrame() {
	// Поврежденные кадры данных ECM восполнит цикл PPS/PPR
	if s.role == RoleAnswerer && s.Phase() == PhaseC && s.negotiated != nil && s.negotiated.ECM {
		return
	}
	if s.crpBudget.Next() {
		s.modem.SendHDLC(s.framer.Frame(buildFrame(FrameCRP, true, nil)))
	}
}

// --- тренировка ---

func (s *FaxSession) onTraining(ok bool) {
	if s.role == RoleCaller {
		return // результат подтверждается кадром CFR/FTT
	}
	if ok {
		s.training = trainOK
	} else {
		s.training = trainFail
	}
	s.maybeAnswerTraining()
}

// maybeAnswerTraining отвечает CFR/FTT когда есть и DCS, и результат
// тренировки: порядок их прихода не гарантирован.
func (s *FaxSession) maybeAnswerTraining() {
	if !s.dcsSeen || s.training == trainPending {
		return
	}
	if s.training == trainFail {
		s.training = trainPending
		s.dcsSeen = false
		s.respond(FrameFTT)
		s.armTimer(timing.ClassT1)
		return
	}
	s.training = trainPending
	s.respond(FrameCFR)
	if s.Phase() == PhaseB {
		s.transition(phaseEventTrain)
	}
	s.prepareReceive()
	s.armTimer(timing.ClassT2)
}

// --- прием изображения вне ECM ---

func (s *FaxSession) onImageData(data []byte) {
	if s.Phase() != PhaseC {
		return
	}
	s.cancelTimer(timing.ClassT2)
	s.rxImage = append(s.rxImage, data...)
}

func (s *FaxSession) onImageEnd() {
	if s.Phase() != PhaseC || s.negotiated == nil || len(s.rxImage) == 0 {
		return
	}
	width := s.negotiated.Width.Pixels()
	page, err := t4.Decode(s.rxImage, width, s.negotiated.Scheme)
	s.rxImage = nil

	result := PageResult{Index: len(s.pages)}
	if page != nil {
		result.Rows = page.Height()
	}
	if err != nil {
		// поврежденные строки заменены пустыми, страницу сохраняем
		result.Degraded = true
		result.BadRows = countBadRows(err)
		s.log.Warn("страница принята с потерями", Err(err))
	}
	if page == nil {
		page = t4.NewPage(width, 0)
	}
	s.storePage(page, result)
	s.transition(phaseEventPageDone)
	s.armTimer(timing.ClassT2)
}

// countBadRows извлекает количество поврежденных строк из ошибки декодера.
func countBadRows(err error) int {
	var de *t4.DecodeError
	if errors.As(err, &de) && de.BadRows > 0 {
		return de.BadRows
	}
	return 1
}

func (s *FaxSession) onCarrierLost() {
	switch s.Phase() {
	case PhaseE, PhaseTerminated, PhaseIdle:
		return
	}
	s.cancelAllTimers()
	s.fail(ErrorCodeNoCarrier, "потеря несущей в фазе %s", s.Phase())
}

// --- таймеры ---

func (s *FaxSession) onTimer(class timing.Class) {
	s.log.Warn("истек таймер", String("timer", string(class)), String("phase", s.Phase().String()))
	switch class {
	case timing.ClassT1:
		s.sendDCN()
		s.fail(ErrorCodeT1Expired, "партнер не отвечает в фазе %s", s.Phase())

	case timing.ClassT2:
		if s.role == RoleAnswerer && s.Phase() == PhaseE {
			// DCN не дождались, но обмен завершен штатно
			s.transition(phaseEventTerminate)
			s.succeed()
			return
		}
		if s.t2Retries.Next() {
			// приемник повторяет последний ответ: команда партнера могла
			// потеряться вместе с нашим подтверждением
			s.resendBurst()
			s.armTimer(timing.ClassT2)
			return
		}
		s.sendDCN()
		s.fail(ErrorCodeT2Expired, "команда не принята в фазе %s", s.Phase())

	case timing.ClassT4:
		if s.cmdRetries.Next() {
			s.log.Debug("повтор команды", Int("attempt", s.cmdRetries.Used()))
			s.resendBurst()
			s.armTimer(timing.ClassT4)
			return
		}
		s.sendDCN()
		s.fail(ErrorCodeT4Expired, "нет ответа на команду в фазе %s", s.Phase())

	case timing.ClassT5:
		s.sendDCN()
		s.fail(ErrorCodeT5Expired, "блок ECM не завершен")

	case timing.ClassT0:
		s.fail(ErrorCodeT0Expired, "вызов не отвечен")

	case timing.ClassT3:
		s.fail(ErrorCodeT3Expired, "нет реакции оператора")
	}
}

func (s *FaxSession) armTimer(class timing.Class) {
	if old, ok := s.timers[class]; ok {
		old.Cancel()
	}
	// handle приходит в колбэк от контроллера: замыкание не читает
	// значение, присваиваемое после Arm, и гонки с горутиной таймера нет
	s.timers[class] = s.clock.Arm(class, func(h *timing.Handle) {
		s.post(event{kind: evTimer, timerClass: h.Class(), timerHandle: h})
	})
}

func (s *FaxSession) cancelTimer(class timing.Class) {
	if h, ok := s.timers[class]; ok {
		h.Cancel()
		delete(s.timers, class)
	}
}

func (s *FaxSession) cancelAllTimers() {
	for class, h := range s.timers {
		h.Cancel()
		delete(s.timers, class)
	}
}

// --- передача ---

// sendDCSAndTrain передает TSI+DCS и запускает тренировку.
func (s *FaxSession) sendDCSAndTrain() {
	s.sendBurst(
		buildFrame(FrameTSI, false, encodeIdent(s.localIdent)),
		buildFrame(FrameDCS, true, EncodeDCS(*s.negotiated)),
	)
	s.modem.StartTraining(s.negotiated.BitRate)
	s.armTimer(timing.ClassT4)
}

// startPage начинает передачу очередной страницы.
func (s *FaxSession) startPage() {
	if s.txIndex >= len(s.document) {
		s.sendDCN()
		s.fail(ErrorCodeBadPage, "нет страниц для передачи")
		return
	}
	page := s.document[s.txIndex]
	s.stats.RowsTransferred += len(page.Rows)

	if s.negotiated.ECM {
		s.ecmTx = newECMTransmitter(page, s.txIndex, s.postPageCommand())
		s.sendECMRows(s.ecmTx.allRows())
		return
	}

	data, err := t4.Encode(page, s.negotiated.Scheme)
	if err != nil {
		s.sendDCN()
		s.fail(ErrorCodeBadPage, "кодирование страницы %d: %v", s.txIndex, err)
		return
	}
	s.modem.SendImage(data)
	s.modem.EndImage()
	s.transition(phaseEventPageDone)
	s.sendBurst(buildFrame(s.postPageCommand(), true, nil))
	s.armTimer(timing.ClassT4)
}

// sendECMRows передает строки блоком FCD и закрывает блок RCP+PPS.
func (s *FaxSession) sendECMRows(rows []int) {
	burst := make([][]byte, 0, len(rows)+2)
	for _, row := range rows {
		burst = append(burst, buildFrame(FrameFCD, false, buildFCDFIF(row, s.ecmTx.rows[row])))
	}
	burst = append(burst,
		buildFrame(FrameRCP, false, nil),
		buildFrame(FramePPS, true, buildPPSFIF(s.ecmTx.postCmd, s.ecmTx.page, s.ecmTx.rowCount())),
	)
	s.sendBurst(burst...)
	s.armTimer(timing.ClassT4)
}

// postPageCommand выбирает команду после текущей страницы.
func (s *FaxSession) postPageCommand() FrameType {
	if s.txIndex == len(s.document)-1 {
		return FrameEOP
	}
	return FrameMPS
}

// sendBurst передает посылку кадров и запоминает ее для повторов.
func (s *FaxSession) sendBurst(payloads ...[]byte) {
	s.lastBurst = payloads
	for _, p := range payloads {
		s.modem.SendHDLC(s.framer.Frame(p))
	}
}

// resendBurst повторяет последнюю посылку.
func (s *FaxSession) resendBurst() {
	for _, p := range s.lastBurst {
		s.modem.SendHDLC(s.framer.Frame(p))
	}
}

// respond отправляет ответ приемной стороны без FIF. Ответы не
// повторяются по T4 (таймер команд у передатчика), но запоминаются
// для CRP.
func (s *FaxSession) respond(t FrameType) {
	s.sendBurst(buildFrame(t, true, nil))
}

// sendDCN передает разрыв соединения.
func (s *FaxSession) sendDCN() {
	s.modem.SendHDLC(s.framer.Frame(buildFrame(FrameDCN, true, nil)))
}

// fallbackRate понижает согласованную скорость на одну ступень.
func (s *FaxSession) fallbackRate() bool {
	next := s.negotiated.Modems.FallbackRate(s.negotiated.BitRate)
	if next == 0 {
		return false
	}
	lowered := s.negotiated.WithBitRate(next)
	s.negotiated = &lowered
	s.log.Info("откат скорости", Int("rate", next))
	return true
}

// --- завершение ---

// prepareReceive готовит приемник к очередной странице.
func (s *FaxSession) prepareReceive() {
	s.rxImage = nil
	if s.negotiated != nil && s.negotiated.ECM {
		s.ensureECMReceiver()
		s.ecmRx.reset()
	}
}

func (s *FaxSession) ensureECMReceiver() {
	if s.ecmRx == nil {
		s.ecmRx = newECMReceiver(s.negotiated.Width.Pixels())
	}
}

// storePage сохраняет принятую страницу.
func (s *FaxSession) storePage(page *t4.Page, result PageResult) {
	s.rxPages = append(s.rxPages, page)
	s.pages = append(s.pages, result)
	s.confirmed++
	s.stats.RowsTransferred += result.Rows
	s.stats.BadRows += result.BadRows
	s.log.Info("страница принята",
		Int("page", result.Index), Int("rows", result.Rows), Bool("degraded", result.Degraded))
}

// succeed завершает сессию успехом.
func (s *FaxSession) succeed() {
	s.cancelAllTimers()
	s.modem.Hangup()
	s.terminated = true
	s.transition(phaseEventTerminate)
}

// fail завершает сессию ошибкой. Первая ошибка сохраняется.
func (s *FaxSession) fail(code SessionErrorCode, format string, args ...interface{}) {
	if s.resultErr == nil {
		s.resultErr = newSessionError(code, s.id, s.Phase(), format, args...)
		s.log.Error("сессия завершена с ошибкой", Err(s.resultErr))
	}
	s.cancelAllTimers()
	s.modem.Hangup()
	s.terminated = true
	s.transition(phaseEventTerminate)
}

// finalize собирает итог и закрывает сессию.
func (s *FaxSession) finalize() {
	s.cancelAllTimers()
	s.stats.Pages = s.confirmed
	s.stats.Duration = time.Since(s.startedAt)
	if s.negotiated != nil {
		s.stats.BitRate = s.negotiated.BitRate
	}

	result := &SessionResult{
		SessionID:      s.id,
		Negotiated:     s.negotiated,
		RemoteIdent:    s.remoteIdent,
		Pages:          s.pages,
		PagesConfirmed: s.confirmed,
		Stats:          s.stats,
		Err:            s.resultErr,
	}

	s.resultMu.Lock()
	s.result = result
	s.resultMu.Unlock()

	s.metrics.observeResult(result)
	close(s.done)
}

// ReceivedPages возвращает принятые страницы (для принимающей стороны).
// Вызывать после завершения сессии.
func (s *FaxSession) ReceivedPages() []*t4.Page {
	select {
	case <-s.done:
		return s.rxPages
	default:
		return nil
	}
}

// transition выполняет переход фазового автомата; запрещенный переход
// означает ошибку в логике сессии и только логируется.
func (s *FaxSession) transition(name string) {
	if err := s.machine.Event(context.Background(), name); err != nil {
		s.log.Debug("переход не выполнен", String("event", name), Err(err))
	}
}
