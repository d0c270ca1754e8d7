package transport

import (
	"context"
	"crypto/tls"
	"net"
)

// ClientTLS layers a TLS client over conn and runs the handshake.  On
// failure conn is left open; the caller owns it either way.
func ClientTLS(ctx context.Context, conn net.Conn, cfg *tls.Config) (*tls.Conn, error) {
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
