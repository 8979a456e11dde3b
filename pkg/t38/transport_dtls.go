package t38

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
)

// DTLSTransportConfig конфигурация шифрованного тракта
type DTLSTransportConfig struct {
	TransportConfig

	// Certificates сертификаты локальной стороны
	Certificates []tls.Certificate

	// RootCAs доверенные центры для проверки партнера
	RootCAs *x509.CertPool

	// ServerName имя для проверки сертификата сервера
	ServerName string

	// PSK ключи по предварительному согласованию (вместо сертификатов)
	PSK             func([]byte) ([]byte, error)
	PSKIdentityHint []byte

	// InsecureSkipVerify отключает проверку сертификата партнера
	InsecureSkipVerify bool

	// HandshakeTimeout предел ожидания рукопожатия
	HandshakeTimeout time.Duration

	// MTU для фрагментации DTLS записей
	MTU int
}

// DefaultDTLSTransportConfig возвращает конфигурацию DTLS по умолчанию
func DefaultDTLSTransportConfig() DTLSTransportConfig {
	return DTLSTransportConfig{
		TransportConfig:  DefaultTransportConfig(),
		HandshakeTimeout: 30 * time.Second,
		MTU:              1200,
	}
}

// DTLSTransport шифрованный тракт UDPTL поверх DTLS. Датаграммы
// соответствуют DTLS записям, границы сохраняются.
type DTLSTransport struct {
	dtlsConn *dtls.Conn
	config   DTLSTransportConfig

	receiver func([]byte)
	active   bool
	wg       sync.WaitGroup
	mutex    sync.RWMutex
}

// NewDTLSTransportClient устанавливает исходящее DTLS соединение
func NewDTLSTransportClient(config DTLSTransportConfig) (*DTLSTransport, error) {
	if config.RemoteAddr == "" {
		return nil, newGatewayError(ErrorCodeNoRemoteAddr, "удаленный адрес обязателен для клиента")
	}
	fillDTLSDefaults(&config)

	remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("разрешение удаленного адреса: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("создание UDP сокета: %w", err)
	}
	if err := setSockOptForFax(conn, config.TransportConfig); err != nil {
		conn.Close()
		return nil, fmt.Errorf("настройка сокета: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.HandshakeTimeout)
	defer cancel()
	dtlsConn, err := dtls.ClientWithContext(ctx, conn, buildDTLSConfig(config))
	if err != nil {
		conn.Close()
		return nil, wrapGatewayError(ErrorCodeHandshakeFailed, err, "рукопожатие DTLS")
	}
	return &DTLSTransport{dtlsConn: dtlsConn, config: config, active: true}, nil
}

// NewDTLSTransportServer принимает одно входящее DTLS соединение
func NewDTLSTransportServer(config DTLSTransportConfig) (*DTLSTransport, error) {
	fillDTLSDefaults(&config)

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("разрешение локального адреса: %w", err)
	}
	listener, err := dtls.Listen("udp", localAddr, buildDTLSConfig(config))
	if err != nil {
		return nil, fmt.Errorf("прослушивание DTLS: %w", err)
	}

	conn, err := listener.Accept()
	listener.Close()
	if err != nil {
		return nil, wrapGatewayError(ErrorCodeHandshakeFailed, err, "прием DTLS соединения")
	}
	dtlsConn, ok := conn.(*dtls.Conn)
	if !ok {
		conn.Close()
		return nil, newGatewayError(ErrorCodeHandshakeFailed, "неожиданный тип соединения")
	}
	return &DTLSTransport{dtlsConn: dtlsConn, config: config, active: true}, nil
}

func fillDTLSDefaults(config *DTLSTransportConfig) {
	if config.BufferSize == 0 {
		config.BufferSize = 2048
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 30 * time.Second
	}
	if config.MTU == 0 {
		config.MTU = 1200
	}
}

func buildDTLSConfig(config DTLSTransportConfig) *dtls.Config {
	return &dtls.Config{
		Certificates:         config.Certificates,
		RootCAs:              config.RootCAs,
		ServerName:           config.ServerName,
		PSK:                  config.PSK,
		PSKIdentityHint:      config.PSKIdentityHint,
		InsecureSkipVerify:   config.InsecureSkipVerify,
		MTU:                  config.MTU,
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}
}

// Send отправляет датаграмму DTLS записью
func (t *DTLSTransport) Send(datagram []byte) error {
	t.mutex.RLock()
	active := t.active
	t.mutex.RUnlock()
	if !active {
		return newGatewayError(ErrorCodeTransportClosed, "тракт закрыт")
	}
	if _, err := t.dtlsConn.Write(datagram); err != nil {
		return wrapGatewayError(ErrorCodeTransportSend, err, "отправка DTLS")
	}
	return nil
}

// SetReceiver запускает цикл приема
func (t *DTLSTransport) SetReceiver(fn func([]byte)) {
	t.mutex.Lock()
	t.receiver = fn
	t.mutex.Unlock()

	t.wg.Add(1)
	go t.readLoop()
}

func (t *DTLSTransport) readLoop() {
	defer t.wg.Done()
	buffer := make([]byte, t.config.BufferSize)
	for {
		n, err := t.dtlsConn.Read(buffer)
		if err != nil {
			return
		}
		t.mutex.RLock()
		receiver := t.receiver
		active := t.active
		t.mutex.RUnlock()
		if !active {
			return
		}
		if receiver != nil {
			datagram := make([]byte, n)
			copy(datagram, buffer[:n])
			receiver(datagram)
		}
	}
}

// LocalAddr возвращает локальный адрес
func (t *DTLSTransport) LocalAddr() net.Addr {
	return t.dtlsConn.LocalAddr()
}

// Close останавливает тракт
func (t *DTLSTransport) Close() error {
	t.mutex.Lock()
	if !t.active {
		t.mutex.Unlock()
		return nil
	}
	t.active = false
	t.mutex.Unlock()

	err := t.dtlsConn.Close()
	t.wg.Wait()
	return err
}
