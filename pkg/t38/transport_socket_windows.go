//go:build windows

package t38

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// applyFaxSockOpts настраивает сокет под факсимильный трафик (Windows).
// Windows не поддерживает SO_REUSEPORT, используется SO_REUSEADDR;
// маркировка DSCP может требовать административных привилегий и
// поэтому не считается ошибкой.
func applyFaxSockOpts(fd int, config TransportConfig) error {
	handle := syscall.Handle(fd)

	if config.BufferSize > 0 {
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF, config.BufferSize*4); err != nil {
			return err
		}
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_SNDBUF, config.BufferSize*4); err != nil {
			return err
		}
	}

	if config.DSCP > 0 {
		tos := config.DSCP << 2
		if err := syscall.SetsockoptInt(handle, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err == nil {
			syscall.SetsockoptInt(handle, syscall.IPPROTO_IPV6, windows.IPV6_TCLASS, tos)
		}
	}

	if config.ReusePort {
		if err := syscall.SetsockoptInt(handle, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
			return err
		}
	}
	return nil
}
