package t38

import (
	"net"
	"sync"
)

// LoopbackTransport тракт виртуальной IP-сети: пара связанных концов
// доставляет датаграммы напрямую. Настраиваемые искажения доставки
// (потеря, перестановка, дублирование) позволяют проверять окно
// восстановления и избыточность UDPTL без настоящей сети.
type LoopbackTransport struct {
	mu       sync.Mutex
	peer     *LoopbackTransport
	receiver func([]byte)
	closed   bool

	// DropEvery при ненулевом значении теряет каждую n-ю датаграмму
	DropEvery int

	// SwapEvery при ненулевом значении задерживает каждую n-ю
	// датаграмму и отдает ее после следующей (перестановка соседей)
	SwapEvery int

	// DuplicateEvery при ненулевом значении доставляет каждую n-ю
	// датаграмму дважды
	DuplicateEvery int

	sent int
	held []byte
}

// NewLoopbackTransportPair создает связанную пару трактов
func NewLoopbackTransportPair() (*LoopbackTransport, *LoopbackTransport) {
	a := &LoopbackTransport{}
	b := &LoopbackTransport{}
	a.peer = b
	b.peer = a
	return a, b
}

// Send доставляет датаграмму партнеру с учетом настроенных искажений
func (t *LoopbackTransport) Send(datagram []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return newGatewayError(ErrorCodeTransportClosed, "тракт закрыт")
	}
	t.sent++
	n := t.sent

	if t.DropEvery > 0 && n%t.DropEvery == 0 {
		t.mu.Unlock()
		return nil
	}

	copied := append([]byte(nil), datagram...)
	var burst [][]byte
	if t.SwapEvery > 0 && n%t.SwapEvery == 0 && t.held == nil {
		// придерживаем до следующей датаграммы
		t.held = copied
		t.mu.Unlock()
		return nil
	}
	burst = append(burst, copied)
	if t.held != nil {
		burst = append(burst, t.held)
		t.held = nil
	}
	if t.DuplicateEvery > 0 && n%t.DuplicateEvery == 0 {
		burst = append(burst, copied)
	}
	t.mu.Unlock()

	for _, d := range burst {
		t.peer.deliver(d)
	}
	return nil
}

func (t *LoopbackTransport) deliver(datagram []byte) {
	t.mu.Lock()
	receiver := t.receiver
	closed := t.closed
	t.mu.Unlock()
	if closed || receiver == nil {
		return
	}
	receiver(datagram)
}

// SetReceiver устанавливает получателя входящих датаграмм
func (t *LoopbackTransport) SetReceiver(fn func([]byte)) {
	t.mu.Lock()
	t.receiver = fn
	t.mu.Unlock()
}

// LocalAddr возвращает фиктивный адрес виртуальной линии
func (t *LoopbackTransport) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

// Close закрывает конец тракта
func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
