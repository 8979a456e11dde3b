package t38

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_fax/pkg/t30"
	"github.com/arzzra/soft_fax/pkg/t4"
)

// captureHandler копит модемные события для проверок
type captureHandler struct {
	mu       sync.Mutex
	hdlc     [][]byte
	tones    []t30.ToneKind
	carrier  int
	trained  int
}

func (c *captureHandler) OnHDLC(data []byte) {
	c.mu.Lock()
	c.hdlc = append(c.hdlc, append([]byte(nil), data...))
	c.mu.Unlock()
}
func (c *captureHandler) OnImage([]byte) {}
func (c *captureHandler) OnImageEnd()    {}
func (c *captureHandler) OnToneDetected(tone t30.ToneKind) {
	c.mu.Lock()
	c.tones = append(c.tones, tone)
	c.mu.Unlock()
}
func (c *captureHandler) OnTrainingResult(bool) {
	c.mu.Lock()
	c.trained++
	c.mu.Unlock()
}
func (c *captureHandler) OnCarrierLost() {
	c.mu.Lock()
	c.carrier++
	c.mu.Unlock()
}

func (c *captureHandler) hdlcBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for _, b := range c.hdlc {
		out = append(out, b...)
	}
	return out
}

// rawDatagram упаковывает пакет в датаграмму UDPTL без избыточности
func rawDatagram(t *testing.T, p *Packet) []byte {
	t.Helper()
	payload, err := p.Marshal()
	require.NoError(t, err)
	out := make([]byte, 2, len(payload)+3)
	binary.BigEndian.PutUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	return append(out, 0) // ноль копий
}

func hdlcPacket(seq uint16, marker byte) *Packet {
	return NewDataPacket(seq, DataV21, Field{Type: FieldHDLCData, Data: []byte{marker}})
}

// TestGatewayReorderAndDuplicates проверяет окно восстановления порядка:
// последовательность 1,3,2,2,4 доставляется как 1,2,3,4
func TestGatewayReorderAndDuplicates(t *testing.T) {
	wireA, wireB := NewLoopbackTransportPair()
	gw, err := NewGateway(DefaultGatewayConfig(wireB))
	require.NoError(t, err)
	defer gw.Hangup()

	capture := &captureHandler{}
	gw.SetHandler(capture)

	for _, seq := range []uint16{1, 3, 2, 2, 4} {
		require.NoError(t, wireA.Send(rawDatagram(t, hdlcPacket(seq, byte(seq)))))
	}

	assert.Equal(t, []byte{1, 2, 3, 4}, capture.hdlcBytes(),
		"доставка обязана идти в порядке номеров")

	stats := gw.Stats()
	assert.NotZero(t, stats.OutOfOrder)
	assert.NotZero(t, stats.Duplicates)
	assert.Zero(t, stats.Lost)
}

// TestGatewayRedundancyRecovery проверяет восполнение потери из копий:
// датаграмма с номером 1 теряется, ее содержимое приходит копией в номере 2
func TestGatewayRedundancyRecovery(t *testing.T) {
	wireA, wireB := NewLoopbackTransportPair()
	gw, err := NewGateway(DefaultGatewayConfig(wireB))
	require.NoError(t, err)
	defer gw.Hangup()

	capture := &captureHandler{}
	gw.SetHandler(capture)

	enc := newUDPTLEncoder(DefaultRedundancy)
	var datagrams [][]byte
	for seq := uint16(0); seq < 3; seq++ {
		payload, err := hdlcPacket(seq, byte(seq)).Marshal()
		require.NoError(t, err)
		datagrams = append(datagrams, enc.encode(payload))
	}

	require.NoError(t, wireA.Send(datagrams[0]))
	// датаграмма 1 потеряна
	require.NoError(t, wireA.Send(datagrams[2]))

	assert.Equal(t, []byte{0, 1, 2}, capture.hdlcBytes(),
		"потерянный пакет обязан восстановиться из копии")
	assert.NotZero(t, gw.Stats().Recovered)
}

// TestGatewayGapTimeout проверяет признание пропуска потерей по таймеру
func TestGatewayGapTimeout(t *testing.T) {
	wireA, wireB := NewLoopbackTransportPair()
	config := DefaultGatewayConfig(wireB)
	config.GapTimeout = 10 * time.Millisecond
	gw, err := NewGateway(config)
	require.NoError(t, err)
	defer gw.Hangup()

	capture := &captureHandler{}
	gw.SetHandler(capture)

	require.NoError(t, wireA.Send(rawDatagram(t, hdlcPacket(0, 0))))
	// номер 1 никогда не придет
	require.NoError(t, wireA.Send(rawDatagram(t, hdlcPacket(2, 2))))

	require.Eventually(t, func() bool {
		return len(capture.hdlcBytes()) == 2
	}, time.Second, 5*time.Millisecond, "пакет за пропуском должен доставиться по таймеру")

	assert.Equal(t, []byte{0, 2}, capture.hdlcBytes())
	assert.NotZero(t, gw.Stats().Lost)
}

// TestGatewaySeqWraparound проверяет переполнение номера пакета
func TestGatewaySeqWraparound(t *testing.T) {
	wireA, wireB := NewLoopbackTransportPair()
	gw, err := NewGateway(DefaultGatewayConfig(wireB))
	require.NoError(t, err)
	defer gw.Hangup()

	capture := &captureHandler{}
	gw.SetHandler(capture)

	for i, seq := range []uint16{65534, 65535, 0, 1} {
		require.NoError(t, wireA.Send(rawDatagram(t, hdlcPacket(seq, byte(i)))))
	}

	assert.Equal(t, []byte{0, 1, 2, 3}, capture.hdlcBytes(),
		"переход через ноль не должен ломать порядок")
	assert.Zero(t, gw.Stats().Lost)
}

// TestGatewayTraining проверяет, что тренировка над IP-трактом
// завершается успехом с настроенной задержкой
func TestGatewayTraining(t *testing.T) {
	wireA, wireB := NewLoopbackTransportPair()
	gwA, err := NewGateway(DefaultGatewayConfig(wireA))
	require.NoError(t, err)
	defer gwA.Hangup()
	gwB, err := NewGateway(DefaultGatewayConfig(wireB))
	require.NoError(t, err)
	defer gwB.Hangup()

	localSide := &captureHandler{}
	remoteSide := &captureHandler{}
	gwA.SetHandler(localSide)
	gwB.SetHandler(remoteSide)

	require.NoError(t, gwA.StartTraining(14400))

	require.Eventually(t, func() bool {
		localSide.mu.Lock()
		defer localSide.mu.Unlock()
		return localSide.trained == 1
	}, time.Second, time.Millisecond, "локальный результат тренировки")

	require.Eventually(t, func() bool {
		remoteSide.mu.Lock()
		defer remoteSide.mu.Unlock()
		return remoteSide.trained == 1
	}, time.Second, time.Millisecond, "удаленная сторона видит тренировочный индикатор")
}

// TestGatewaySessionOverImpairedLink прогоняет полную сессию T.30 через
// пару шлюзов с перестановками и дубликатами на тракте
func TestGatewaySessionOverImpairedLink(t *testing.T) {
	document := []*t4.Page{testPageT38(t30.WidthA4.Pixels(), 24)}

	wireA, wireB := NewLoopbackTransportPair()
	wireA.SwapEvery = 5
	wireA.DuplicateEvery = 7
	wireB.SwapEvery = 6

	gwA, err := NewGateway(DefaultGatewayConfig(wireA))
	require.NoError(t, err)
	gwB, err := NewGateway(DefaultGatewayConfig(wireB))
	require.NoError(t, err)

	txConfig := t30.DefaultConfig(t30.RoleCaller)
	txConfig.LocalIdent = "gw-a"
	txConfig.Document = document
	txConfig.Logger = t30.NopLogger{}

	rxConfig := t30.DefaultConfig(t30.RoleAnswerer)
	rxConfig.LocalIdent = "gw-b"
	rxConfig.Logger = t30.NopLogger{}

	tx := t30.NewSession(gwA, txConfig)
	rx := t30.NewSession(gwB, rxConfig)
	tx.Start()
	rx.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	txResult, err := tx.Wait(ctx)
	require.NoError(t, err)
	rxResult, err := rx.Wait(ctx)
	require.NoError(t, err)

	require.True(t, txResult.OK(), "передатчик: %v", txResult.Err)
	require.True(t, rxResult.OK(), "приемник: %v", rxResult.Err)
	assert.Equal(t, 1, rxResult.PagesConfirmed)

	received := rx.ReceivedPages()
	require.Len(t, received, 1)
	assert.True(t, document[0].Equal(received[0]), "страница обязана дойти целой")

	stats := gwB.Stats()
	assert.NotZero(t, stats.PacketsReceived)
	assert.Zero(t, stats.Lost, "перестановки и дубликаты не должны приводить к потерям")
}

func testPageT38(width, height int) *t4.Page {
	page := t4.NewPage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			page.SetPixel(x, y, (x/16+y/4)%2 == 1)
		}
	}
	return page
}
