package t38

import (
	"net"
	"time"
)

// Transport датаграммный тракт для датаграмм UDPTL. Реализации
// доставляют датаграммы целиком и не гарантируют ни порядок, ни
// доставку: восстановление — забота шлюза.
type Transport interface {
	// Send отправляет датаграмму удаленной стороне
	Send(datagram []byte) error

	// SetReceiver устанавливает получателя входящих датаграмм и
	// запускает прием; вызывается один раз до начала обмена
	SetReceiver(fn func(datagram []byte))

	// LocalAddr возвращает локальный адрес тракта
	LocalAddr() net.Addr

	// Close останавливает прием и освобождает ресурсы
	Close() error
}

// TransportConfig общая конфигурация трактов
type TransportConfig struct {
	// LocalAddr локальный адрес host:port
	LocalAddr string

	// RemoteAddr удаленный адрес host:port; для серверных трактов
	// может быть пустым и устанавливается по первой датаграмме
	RemoteAddr string

	// BufferSize размер приемного буфера
	BufferSize int

	// DSCP маркировка QoS исходящих датаграмм (0 — не ставить)
	DSCP int

	// ReusePort разрешает нескольким сокетам один порт
	ReusePort bool

	// ReadTimeout период опроса сокета в цикле приема
	ReadTimeout time.Duration
}

// DefaultTransportConfig возвращает конфигурацию тракта по умолчанию
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		LocalAddr:   "0.0.0.0:0",
		BufferSize:  2048,
		ReadTimeout: 100 * time.Millisecond,
	}
}
