//go:build darwin

package t38

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// applyFaxSockOpts настраивает сокет под факсимильный трафик (macOS).
// SO_PRIORITY на macOS отсутствует, остаются буферы, DSCP и
// переиспользование порта.
func applyFaxSockOpts(fd int, config TransportConfig) error {
	if config.BufferSize > 0 {
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, config.BufferSize*4); err != nil {
			return err
		}
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, config.BufferSize*4); err != nil {
			return err
		}
	}

	if config.DSCP > 0 {
		tos := config.DSCP << 2
		syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos)
		syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	}

	if config.ReusePort {
		if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
			return err
		}
		// SO_REUSEPORT доступен начиная с macOS 10.10, ошибку игнорируем
		syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}
	return nil
}
