package t38

import (
	"fmt"
	"net"
)

// setSockOptForFax применяет низкоуровневые настройки сокета под
// факсимильный трафик: буферы, маркировку QoS и переиспользование
// порта. Платформенные вызовы вынесены в transport_socket_*.go.
func setSockOptForFax(conn *net.UDPConn, config TransportConfig) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("доступ к системному сокету: %w", err)
	}

	var sockOptErr error
	err = rawConn.Control(func(fd uintptr) {
		sockOptErr = applyFaxSockOpts(int(fd), config)
	})
	if err != nil {
		return fmt.Errorf("управление сокетом: %w", err)
	}
	return sockOptErr
}
