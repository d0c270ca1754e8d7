package socket

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// listen starts a TCP server on 127.0.0.1 that runs handle for every
// accepted connection and returns its address.
func listen(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().String()
}

func echo(conn net.Conn) {
	defer conn.Close()
	io.Copy(conn, conn) //nolint:errcheck
}

func startEchoServer(t *testing.T) string {
	t.Helper()
	return listen(t, echo)
}

func startTLSEchoServer(t *testing.T, cert tls.Certificate) string {
	t.Helper()
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	return listen(t, func(conn net.Conn) {
		echo(tls.Server(conn, cfg))
	})
}

// startSTARTTLSServer speaks a tiny line protocol: any line other than
// STARTTLS is answered with "500 unknown"; STARTTLS is answered with
// "220 ready" and followed by a TLS handshake, after which the server
// echoes.
func startSTARTTLSServer(t *testing.T, cert tls.Certificate) string {
	t.Helper()
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	return listen(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				conn.Close()
				return
			}
			if strings.TrimSpace(line) != "STARTTLS" {
				io.WriteString(conn, "500 unknown\r\n") //nolint:errcheck
				continue
			}
			io.WriteString(conn, "220 ready\r\n") //nolint:errcheck
			echo(tls.Server(&bufferedConn{Conn: conn, r: r}, cfg))
			return
		}
	})
}

// bufferedConn reads through r so bytes it already buffered are not
// lost to the TLS server.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// selfSignedCert returns a certificate valid for localhost and
// 127.0.0.1 together with a pool that trusts it.
func selfSignedCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "tcpsock test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

// readN reads exactly n bytes from the socket.
func readN(t *testing.T, s *Socket, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(s.Readable(), buf)
	require.NoError(t, err)
	return buf
}

// blockingDialer never connects; it returns when ctx ends.
type blockingDialer struct {
	started chan struct{}
}

func (d *blockingDialer) Dial(ctx context.Context, _, _ string) (net.Conn, error) {
	close(d.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *blockingDialer) Close() error { return nil }
