package t38

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// RTPPayloadType динамический payload type для T.38 в RTP
// (согласуется через SDP, RFC 4612)
const RTPPayloadType = 102

// rtpClockRate тактовая частота из rtpmap udptl/8000
const rtpClockRate = 8000

// RTPTransport тракт для сетей, ожидающих T.38 в RTP потоке:
// датаграмма UDPTL переносится полезной нагрузкой RTP пакета.
// Порядковые номера RTP независимы от номеров IFP — переупорядочение
// по-прежнему делает шлюз по номерам IFP.
type RTPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     TransportConfig

	ssrc      uint32
	seq       uint16
	timestamp uint32
	startTime time.Time

	receiver func([]byte)
	active   bool
	wg       sync.WaitGroup
	mutex    sync.RWMutex
}

// NewRTPTransport создает RTP тракт поверх UDP
func NewRTPTransport(config TransportConfig) (*RTPTransport, error) {
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

	t := &RTPTransport{
		conn:      conn,
		config:    config,
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Uint32()),
		startTime: time.Now(),
		active:    true,
	}
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

// Send упаковывает датаграмму в RTP пакет и отправляет
func (t *RTPTransport) Send(datagram []byte) error {
	t.mutex.Lock()
	if !t.active {
		t.mutex.Unlock()
		return newGatewayError(ErrorCodeTransportClosed, "тракт закрыт")
	}
	remoteAddr := t.remoteAddr
	t.seq++
	t.timestamp = uint32(time.Since(t.startTime).Seconds() * rtpClockRate)
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    RTPPayloadType,
			SequenceNumber: t.seq,
			Timestamp:      t.timestamp,
			SSRC:           t.ssrc,
		},
		Payload: datagram,
	}
	t.mutex.Unlock()

	if remoteAddr == nil {
		return newGatewayError(ErrorCodeNoRemoteAddr, "удаленный адрес не установлен")
	}
	data, err := packet.Marshal()
	if err != nil {
		return wrapGatewayError(ErrorCodeTransportSend, err, "маршалинг RTP")
	}
	if _, err := t.conn.WriteToUDP(data, remoteAddr); err != nil {
		return wrapGatewayError(ErrorCodeTransportSend, err, "отправка RTP")
	}
	return nil
}

// SetReceiver запускает цикл приема
func (t *RTPTransport) SetReceiver(fn func([]byte)) {
	t.mutex.Lock()
	t.receiver = fn
	t.mutex.Unlock()

	t.wg.Add(1)
	go t.readLoop()
}

func (t *RTPTransport) readLoop() {
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

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buffer[:n]); err != nil {
			continue // чужой или битый пакет
		}
		if packet.PayloadType != RTPPayloadType {
			continue
		}

		t.mutex.Lock()
		if t.remoteAddr == nil {
			t.remoteAddr = addr
		}
		receiver := t.receiver
		t.mutex.Unlock()

		if receiver != nil {
			datagram := make([]byte, len(packet.Payload))
			copy(datagram, packet.Payload)
			receiver(datagram)
		}
	}
}

// LocalAddr возвращает локальный адрес
func (t *RTPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close останавливает тракт
func (t *RTPTransport) Close() error {
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
