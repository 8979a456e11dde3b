//go:build linux

package t38

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// applyFaxSockOpts настраивает сокет под факсимильный трафик (Linux).
// Факс чувствителен к задержке больше, чем к пропускной способности:
// приоритет сокета и DSCP дают пакетам IFP преимущество в очередях.
func applyFaxSockOpts(fd int, config TransportConfig) error {
	if config.BufferSize > 0 {
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, config.BufferSize*4); err != nil {
			return err
		}
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, config.BufferSize*4); err != nil {
			return err
		}
	}

	// приоритет интерактивного трафика; в контейнерах может быть
	// запрещен, тогда молча работаем без него
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)

	if config.DSCP > 0 {
		tos := config.DSCP << 2
		if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err == nil {
			syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
		}
	}

	if config.ReusePort {
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return err
		}
	}
	return nil
}
