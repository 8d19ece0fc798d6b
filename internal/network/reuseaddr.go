package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a listen config that marks sockets
// SO_REUSEADDR before binding, so a restarted server gets its port back
// while the old socket is still in TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: reuseAddrControl}
}

func reuseAddrControl(_, _ string, raw syscall.RawConn) error {
	var sockErr error
	if err := raw.Control(func(fd uintptr) { sockErr = setReuseAddr(fd) }); err != nil {
		return err
	}
	return sockErr
}
