package tcp

import (
	"net"
	"time"

	"github.com/ValentinKolb/dCCL/rpc/common"
)

// applySocketConf applies the configured socket options to a tcp connection
func applySocketConf(conn net.Conn, sc common.SocketConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a tcp connection, nothing to upgrade
	}

	// Disable Nagle's algorithm, rendezvous messages are tiny
	if err := tcpConn.SetNoDelay(sc.TCPNoDelay); err != nil {
		return err
	}

	if sc.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(sc.WriteBufferSize); err != nil {
			return err
		}
	}

	if sc.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(sc.ReadBufferSize); err != nil {
			return err
		}
	}

	if sc.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(sc.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	if sc.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(sc.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
