package t38

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// UDPTransport классический тракт UDPTL поверх UDP
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     TransportConfig

	receiver func([]byte)
	active   bool
	wg       sync.WaitGroup
	mutex    sync.RWMutex
}

// NewUDPTransport создает UDP тракт. При пустом RemoteAddr удаленный
// адрес запоминается по первой принятой датаграмме.
func NewUDPTransport(config TransportConfig) (*UDPTransport, error) {
	if config.BufferSize == 0 {
		config.BufferSize = 2048
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("разрешение локального адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("создание UDP сокета: %w", err)
	}

	if err := setSockOptForFax(conn, config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("настройка сокета: %w", err)
	}

	t := &UDPTransport{conn: conn, config: config, active: true}

	if config.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("разрешение удаленного адреса: %w", err)
		}
		t.remoteAddr = remoteAddr
	}
	return t, nil
}

// Send отправляет датаграмму
func (t *UDPTransport) Send(datagram []byte) error {
	t.mutex.RLock()
	active := t.active
	remoteAddr := t.remoteAddr
	t.mutex.RUnlock()

	if !active {
		return newGatewayError(ErrorCodeTransportClosed, "тракт закрыт")
	}
	if remoteAddr == nil {
		return newGatewayError(ErrorCodeNoRemoteAddr, "удаленный адрес не установлен")
	}
	if _, err := t.conn.WriteToUDP(datagram, remoteAddr); err != nil {
		return wrapGatewayError(ErrorCodeTransportSend, err, "отправка UDP")
	}
	return nil
}

// SetReceiver запускает цикл приема
func (t *UDPTransport) SetReceiver(fn func([]byte)) {
	t.mutex.Lock()
	t.receiver = fn
	t.mutex.Unlock()

	t.wg.Add(1)
	go t.readLoop()
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	buffer := make([]byte, t.config.BufferSize)
	for {
		t.mutex.RLock()
		active := t.active
		t.mutex.RUnlock()
		if !active {
			return
		}

		t.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		n, addr, err := t.conn.ReadFromUDP(buffer)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		// запоминаем партнера по первой датаграмме
		t.mutex.Lock()
		if t.remoteAddr == nil {
			t.remoteAddr = addr
		}
		receiver := t.receiver
		t.mutex.Unlock()

		if receiver != nil {
			datagram := make([]byte, n)
			copy(datagram, buffer[:n])
			receiver(datagram)
		}
	}
}

// LocalAddr возвращает локальный адрес
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает текущий удаленный адрес (nil если не известен)
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.remoteAddr == nil {
		return nil
	}
	return t.remoteAddr
}

// Close останавливает тракт
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	if !t.active {
		t.mutex.Unlock()
		return nil
	}
	t.active = false
	t.mutex.Unlock()

	err := t.conn.Close()
	t.wg.Wait()
	return err
}
