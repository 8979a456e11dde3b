package t30

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_fax/pkg/hdlc"
	"github.com/arzzra/soft_fax/pkg/t4"
	"github.com/arzzra/soft_fax/pkg/timing"
)

// testDocument строит документ из pages страниц с различимым растром
func testDocument(pages, height int) []*t4.Page {
	doc := make([]*t4.Page, pages)
	for p := range doc {
		page := t4.NewPage(WidthA4.Pixels(), height)
		for y := 0; y < height; y++ {
			for x := 0; x < page.Width; x++ {
				page.SetPixel(x, y, (x/24+y/4+p)%2 == 1)
			}
		}
		doc[p] = page
	}
	return doc
}

// runFaxPair прогоняет сессию между парой модемов до завершения обеих сторон
func runFaxPair(t *testing.T, txModem, rxModem Modem, txConfig, rxConfig *Config, timeout time.Duration) (*SessionResult, *SessionResult, *FaxSession) {
	t.Helper()

	tx := NewSession(txModem, txConfig)
	rx := NewSession(rxModem, rxConfig)

	// передатчик первым: отвечающая сторона шлет CED и DIS сразу на старте
	tx.Start()
	rx.Start()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	txResult, err := tx.Wait(ctx)
	require.NoError(t, err, "сессия передатчика должна завершиться")
	rxResult, err := rx.Wait(ctx)
	require.NoError(t, err, "сессия приемника должна завершиться")
	return txResult, rxResult, rx
}

func pairConfigs(doc []*t4.Page, ecm bool) (*Config, *Config) {
	txConfig := DefaultConfig(RoleCaller)
	txConfig.LocalIdent = "+7 495 1110000"
	txConfig.Capabilities.ECM = ecm
	txConfig.Document = doc
	txConfig.Logger = NopLogger{}

	rxConfig := DefaultConfig(RoleAnswerer)
	rxConfig.LocalIdent = "+7 812 2220000"
	rxConfig.Capabilities.ECM = ecm
	rxConfig.Logger = NopLogger{}
	return txConfig, rxConfig
}

// TestSessionSinglePage проверяет передачу одной страницы без ECM
func TestSessionSinglePage(t *testing.T) {
	doc := testDocument(1, 32)
	txModem, rxModem := NewLoopbackPair()
	txConfig, rxConfig := pairConfigs(doc, false)

	txResult, rxResult, rx := runFaxPair(t, txModem, rxModem, txConfig, rxConfig, 10*time.Second)

	require.True(t, txResult.OK(), "передатчик: %v", txResult.Err)
	require.True(t, rxResult.OK(), "приемник: %v", rxResult.Err)
	assert.Equal(t, 1, txResult.PagesConfirmed)
	assert.Equal(t, 1, rxResult.PagesConfirmed)

	require.NotNil(t, txResult.Negotiated)
	assert.False(t, txResult.Negotiated.ECM)
	assert.Equal(t, 14400, txResult.Negotiated.BitRate)

	// идентификаторы разъехались по сторонам: CSI у передатчика, TSI у приемника
	assert.Equal(t, "+7 812 2220000", txResult.RemoteIdent)
	assert.Equal(t, "+7 495 1110000", rxResult.RemoteIdent)

	received := rx.ReceivedPages()
	require.Len(t, received, 1)
	assert.True(t, doc[0].Equal(received[0]), "страница обязана дойти без искажений")
}

// TestSessionMultiPageECM проверяет многостраничную передачу в режиме ECM
func TestSessionMultiPageECM(t *testing.T) {
	doc := testDocument(3, 24)
	txModem, rxModem := NewLoopbackPair()
	txConfig, rxConfig := pairConfigs(doc, true)

	txResult, rxResult, rx := runFaxPair(t, txModem, rxModem, txConfig, rxConfig, 15*time.Second)

	require.True(t, txResult.OK(), "передатчик: %v", txResult.Err)
	require.True(t, rxResult.OK(), "приемник: %v", rxResult.Err)
	assert.Equal(t, 3, txResult.PagesConfirmed)
	assert.Equal(t, 3, rxResult.PagesConfirmed)
	require.NotNil(t, txResult.Negotiated)
	assert.True(t, txResult.Negotiated.ECM)

	received := rx.ReceivedPages()
	require.Len(t, received, 3)
	for i, page := range received {
		assert.True(t, doc[i].Equal(page), "страница %d", i+1)
	}
}

// TestSessionECMRetransmit проверяет выборочный повтор строк:
// искажение кадров FCD закрывается через PPR, страница доходит целой
func TestSessionECMRetransmit(t *testing.T) {
	doc := testDocument(1, 24)
	txModem, rxModem := NewLoopbackPair()
	txModem.Corrupt = 13
	txConfig, rxConfig := pairConfigs(doc, true)

	txResult, rxResult, rx := runFaxPair(t, txModem, rxModem, txConfig, rxConfig, 30*time.Second)

	require.True(t, txResult.OK(), "передатчик: %v", txResult.Err)
	require.True(t, rxResult.OK(), "приемник: %v", rxResult.Err)
	assert.NotZero(t, txResult.Stats.ECMRetransmits, "искаженные кадры должны уйти на повтор")

	received := rx.ReceivedPages()
	require.Len(t, received, 1)
	assert.True(t, doc[0].Equal(received[0]), "после повторов страница обязана быть целой")
	assert.Zero(t, rxResult.Stats.BadRows)
}

// TestSessionTrainingFallback проверяет откат скорости после неудачной
// тренировки: FTT заставляет передатчик спуститься на ступень ниже
func TestSessionTrainingFallback(t *testing.T) {
	doc := testDocument(1, 16)
	txModem, rxModem := NewLoopbackPair()
	txModem.FailTrainings = 1
	txConfig, rxConfig := pairConfigs(doc, true)

	txResult, rxResult, _ := runFaxPair(t, txModem, rxModem, txConfig, rxConfig, 15*time.Second)

	require.True(t, txResult.OK(), "передатчик: %v", txResult.Err)
	require.True(t, rxResult.OK(), "приемник: %v", rxResult.Err)
	assert.NotZero(t, txResult.Stats.Retrains)
	require.NotNil(t, txResult.Negotiated)
	assert.Equal(t, 12000, txResult.Negotiated.BitRate, "после одного отката с 14400")
}

// TestSessionIncompatible проверяет разрыв при пустом пересечении модемов
func TestSessionIncompatible(t *testing.T) {
	doc := testDocument(1, 8)
	txModem, rxModem := NewLoopbackPair()
	txConfig, rxConfig := pairConfigs(doc, true)
	txConfig.Capabilities.Modems = ModemV17
	rxConfig.Capabilities.Modems = ModemV27ter

	tx := NewSession(txModem, txConfig)
	rx := NewSession(rxModem, rxConfig)
	tx.Start()
	rx.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	txResult, err := tx.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, txResult.Err)
	assert.Equal(t, ErrorCodeIncompatible, txResult.Err.Code)

	// приемник получает DCN до завершения процедуры
	rxResult, err := rx.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, rxResult.Err)
	assert.Equal(t, ErrorCodeGotDCN, rxResult.Err.Code)
}

// TestSessionAbort проверяет принудительное завершение
func TestSessionAbort(t *testing.T) {
	doc := testDocument(1, 8)
	txModem, rxModem := NewLoopbackPair()
	txConfig, rxConfig := pairConfigs(doc, true)

	tx := NewSession(txModem, txConfig)
	rx := NewSession(rxModem, rxConfig)
	tx.Start()
	rx.Start()
	tx.Abort()
	rx.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	txResult, err := tx.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, txResult.Err)
	assert.Equal(t, ErrorCodeAborted, txResult.Err.Code)
	assert.False(t, txResult.OK())
}

// TestSessionWaitTimeout проверяет, что Wait уважает контекст
func TestSessionWaitTimeout(t *testing.T) {
	_, rxModem := NewLoopbackPair()
	rxConfig := DefaultConfig(RoleAnswerer)
	rxConfig.Logger = NopLogger{}
	rx := NewSession(rxModem, rxConfig)
	rx.Start()
	defer rx.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := rx.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestSessionTimerStorm гоняет сессии с микросекундными таймерами:
// истечение наступает раньше, чем Arm успевает вернуться, поэтому
// handle обязан доходить до цикла сессии от самого контроллера, а не
// через переменную замыкания. Показателен под детектором гонок.
func TestSessionTimerStorm(t *testing.T) {
	table := timing.PolicyTable{
		timing.ClassT1: {Duration: time.Microsecond},
		timing.ClassT2: {Duration: time.Microsecond, MaxRetries: 3},
		timing.ClassT4: {Duration: time.Microsecond, MaxRetries: 3},
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, modem := NewLoopbackPair()
			cfg := DefaultConfig(RoleAnswerer)
			cfg.Logger = NopLogger{}
			cfg.Timing = table

			s := NewSession(modem, cfg)
			s.Start()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			result, err := s.Wait(ctx)
			assert.NoError(t, err, "сессия обязана завершиться")
			if result != nil && assert.NotNil(t, result.Err) {
				assert.Equal(t, ErrorCodeT1Expired, result.Err.Code)
			}
		}()
	}
	wg.Wait()
}

// scriptModem записывает передачи сессии и позволяет подавать кадры
// вручную, без парного модема
type scriptModem struct {
	mu      sync.Mutex
	handler ModemHandler
	sent    [][]byte
}

func (m *scriptModem) SetHandler(h ModemHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *scriptModem) SendHDLC(data []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, append([]byte(nil), data...))
	m.mu.Unlock()
	return nil
}

func (m *scriptModem) StartTraining(int) error { return nil }
func (m *scriptModem) SendImage([]byte) error  { return nil }
func (m *scriptModem) EndImage() error         { return nil }
func (m *scriptModem) SendTone(ToneKind) error { return nil }
func (m *scriptModem) Hangup() error           { return nil }

// feed оформляет кадр HDLC и подает его сессии как принятый
func (m *scriptModem) feed(t *testing.T, payload []byte) {
	t.Helper()
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	require.NotNil(t, h)
	h.OnHDLC(hdlc.NewFramer().Frame(payload))
}

// sentFrames разбирает все переданные сессией кадры
func (m *scriptModem) sentFrames(t *testing.T) []ControlFrame {
	t.Helper()
	m.mu.Lock()
	bursts := make([][]byte, len(m.sent))
	copy(bursts, m.sent)
	m.mu.Unlock()

	var frames []ControlFrame
	d := hdlc.NewDeframer(func(f hdlc.Frame) {
		if !f.FCSOK || f.Aborted {
			return
		}
		if cf, ok := parseFrame(f.Payload); ok {
			frames = append(frames, cf)
		}
	})
	for _, b := range bursts {
		d.Feed(b)
	}
	return frames
}

func countFrames(frames []ControlFrame, ft FrameType) int {
	n := 0
	for _, f := range frames {
		if f.Type == ft {
			n++
		}
	}
	return n
}

// TestSessionT2ResendsResponse проверяет, что приемник по истечении T2
// повторяет последний ответ: команда партнера могла потеряться вместе
// с подтверждением, и молчаливое ожидание зашло бы в тупик
func TestSessionT2ResendsResponse(t *testing.T) {
	modem := &scriptModem{}
	cfg := DefaultConfig(RoleAnswerer)
	cfg.Logger = NopLogger{}
	cfg.Capabilities.ECM = false
	cfg.Timing = timing.PolicyTable{
		timing.ClassT1: {Duration: 30 * time.Second},
		timing.ClassT2: {Duration: 40 * time.Millisecond, MaxRetries: 3},
		timing.ClassT4: {Duration: 3 * time.Second, MaxRetries: 3},
	}

	s := NewSession(modem, cfg)
	s.Start()

	// партнер выбирает параметры, тренировка успешна: сессия отвечает
	// CFR и взводит T2 в ожидании несущей страницы
	caps := DefaultCapabilities()
	caps.ECM = false
	negotiated, err := Negotiate(caps, caps)
	require.NoError(t, err)
	modem.feed(t, buildFrame(FrameDCS, true, EncodeDCS(negotiated)))
	modem.mu.Lock()
	h := modem.handler
	modem.mu.Unlock()
	h.OnTrainingResult(true)

	// страница не приходит: T2 истекает, CFR повторяется до исчерпания
	// бюджета, затем сессия рвет соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := s.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, result.Err)
	assert.Equal(t, ErrorCodeT2Expired, result.Err.Code)

	frames := modem.sentFrames(t)
	assert.GreaterOrEqual(t, countFrames(frames, FrameCFR), 2,
		"CFR обязан уйти повторно по T2")
	assert.Equal(t, 1, countFrames(frames, FrameDCN))
}

// TestSessionMetrics проверяет заполнение метрик Prometheus
func TestSessionMetrics(t *testing.T) {
	doc := testDocument(1, 16)
	txModem, rxModem := NewLoopbackPair()
	txConfig, rxConfig := pairConfigs(doc, true)

	metrics := NewMetrics(prometheus.NewRegistry())
	txConfig.Metrics = metrics

	txResult, _, _ := runFaxPair(t, txModem, rxModem, txConfig, rxConfig, 15*time.Second)
	require.True(t, txResult.OK(), "передатчик: %v", txResult.Err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PagesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.SessionsActive))
}
