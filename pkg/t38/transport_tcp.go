package t38

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// TCPTransport тракт для датаграмм UDPTL поверх TCP (T.38 допускает
// TCP тракт для магистралей без потерь). Границы датаграмм сохраняются
// двухоктетным префиксом длины.
type TCPTransport struct {
	conn     net.Conn
	listener net.Listener
	config   TransportConfig

	receiver func([]byte)
	active   bool
	wg       sync.WaitGroup
	mutex    sync.RWMutex
}

// NewTCPTransportClient создает исходящее TCP соединение
func NewTCPTransportClient(config TransportConfig) (*TCPTransport, error) {
	if config.RemoteAddr == "" {
		return nil, newGatewayError(ErrorCodeNoRemoteAddr, "удаленный адрес обязателен для клиента")
	}
	conn, err := net.Dial("tcp", config.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("подключение TCP: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return &TCPTransport{conn: conn, config: config, active: true}, nil
}

// NewTCPTransportServer слушает и принимает одно входящее соединение.
// Accept выполняется лениво в цикле приема, Send до подключения
// партнера возвращает ошибку.
func NewTCPTransportServer(config TransportConfig) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("прослушивание TCP: %w", err)
	}
	return &TCPTransport{listener: listener, config: config, active: true}, nil
}

// Send отправляет датаграмму с префиксом длины
func (t *TCPTransport) Send(datagram []byte) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	t.mutex.RUnlock()

	if !active {
		return newGatewayError(ErrorCodeTransportClosed, "тракт закрыт")
	}
	if conn == nil {
		return newGatewayError(ErrorCodeNoRemoteAddr, "партнер еще не подключился")
	}
	if len(datagram) > 0xFFFF {
		return newGatewayError(ErrorCodeOversizedPayload, "датаграмма %d октетов", len(datagram))
	}

	buf := make([]byte, 2+len(datagram))
	binary.BigEndian.PutUint16(buf, uint16(len(datagram)))
	copy(buf[2:], datagram)
	if _, err := conn.Write(buf); err != nil {
		return wrapGatewayError(ErrorCodeTransportSend, err, "отправка TCP")
	}
	return nil
}

// SetReceiver запускает цикл приема
func (t *TCPTransport) SetReceiver(fn func([]byte)) {
	t.mutex.Lock()
	t.receiver = fn
	t.mutex.Unlock()

	t.wg.Add(1)
	go t.readLoop()
}

func (t *TCPTransport) readLoop() {
	defer t.wg.Done()

	t.mutex.RLock()
	conn := t.conn
	listener := t.listener
	t.mutex.RUnlock()

	if conn == nil && listener != nil {
		accepted, err := listener.Accept()
		if err != nil {
			return
		}
		if tc, ok := accepted.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		t.mutex.Lock()
		if !t.active {
			t.mutex.Unlock()
			accepted.Close()
			return
		}
		t.conn = accepted
		conn = accepted
		t.mutex.Unlock()
	}
	if conn == nil {
		return
	}

	reader := bufio.NewReader(conn)
	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
			return
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		datagram := make([]byte, n)
		if _, err := io.ReadFull(reader, datagram); err != nil {
			return
		}

		t.mutex.RLock()
		receiver := t.receiver
		t.mutex.RUnlock()
		if receiver != nil {
			receiver(datagram)
		}
	}
}

// LocalAddr возвращает локальный адрес
func (t *TCPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.conn != nil {
		return t.conn.LocalAddr()
	}
	if t.listener != nil {
		return t.listener.Addr()
	}
	return nil
}

// Close останавливает тракт
func (t *TCPTransport) Close() error {
	t.mutex.Lock()
	if !t.active {
		t.mutex.Unlock()
		return nil
	}
	t.active = false
	conn := t.conn
	listener := t.listener
	t.mutex.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	if conn != nil {
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	}
	t.wg.Wait()
	return err
}
