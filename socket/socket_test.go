package socket

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "tcpsock/internal/errors"
	"tcpsock/metrics"
	"tcpsock/util"
)

func TestConnect_EchoRoundTrip(t *testing.T) {
	addr := startEchoServer(t)
	ctx := testContext(t)

	s := Connect(addr, nil)
	info, err := s.Opened().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", info.LocalAddress)
	assert.Equal(t, "127.0.0.1", info.RemoteAddress)
	assert.NotZero(t, info.LocalPort)
	assert.Nil(t, info.TLS)
	assert.Equal(t, "open", s.State())

	_, err = s.Writable().Write([]byte("Hello World"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(readN(t, s, 11)))

	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "closed", s.State())
}

func TestConnect_StructuredAddress(t *testing.T) {
	addr := startEchoServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	fmt.Sscanf(portStr, "%d", &port) //nolint:errcheck

	ctx := testContext(t)
	for _, a := range []any{
		SocketAddress{Hostname: host, Port: port},
		&SocketAddress{Hostname: host, Port: port},
		map[string]any{"hostname": host, "port": port},
	} {
		s := Connect(a, nil)
		_, err := s.Opened().Wait(ctx)
		require.NoError(t, err, "%#v", a)
		_, err = s.Close().Wait(ctx)
		require.NoError(t, err)
	}
}

func TestConnect_LocalhostString(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go echo(conn)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	ctx := testContext(t)

	s := Connect(fmt.Sprintf("localhost:%d", port), nil)
	info, err := s.Opened().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, info.LocalAddress, info.RemoteAddress)

	_, err = s.Writable().Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "ping", string(readN(t, s, 4)))
	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
}

func TestConnect_BinaryPayloads(t *testing.T) {
	addr := startEchoServer(t)
	ctx := testContext(t)

	s := Connect(addr, nil)
	defer s.Close()
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	words16 := []uint16{0x0102, 0xfffe, 0, 42}
	words32 := []uint32{0xdeadbeef, 1, 0x80000000}
	words64 := []uint64{0x0123456789abcdef, ^uint64(0)}
	large := make([]byte, 256*1024)
	_, err = rand.Read(large)
	require.NoError(t, err)

	payloads := map[string][]byte{
		"uint8":  {0x00, 0x01, 0x7f, 0x80, 0xff},
		"uint16": toBytes(t, words16),
		"uint32": toBytes(t, words32),
		"uint64": toBytes(t, words64),
		"large":  large,
	}
	for name, p := range payloads {
		t.Run(name, func(t *testing.T) {
			errc := make(chan error, 1)
			go func() {
				_, err := s.Writable().WriteContext(ctx, p)
				errc <- err
			}()
			got := readN(t, s, len(p))
			require.NoError(t, <-errc)
			assert.True(t, bytes.Equal(p, got), "payload mismatch for %s", name)
		})
	}
}

func toBytes(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	return buf.Bytes()
}

func TestConnect_Refused(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)
	ctx := testContext(t)

	s := Connect(fmt.Sprintf("127.0.0.1:%d", port), nil)
	_, err = s.Opened().Wait(ctx)
	require.Error(t, err)

	var se *SocketError
	require.ErrorAs(t, err, &se)
	require.NotNil(t, se.Cause)
	assert.Equal(t, se.Cause.Error(), se.Message)
	assert.Contains(t, se.Message, "connection refused")

	_, err = s.Closed().Wait(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "closed", s.State())

	_, err = s.Writable().Write([]byte("x"))
	assert.True(t, errors.Is(err, NewSocketError(MsgWriteAfterClose, nil)))
	_, err = s.Readable().ReadChunk(ctx)
	assert.True(t, errors.Is(err, se))
}

func TestConnect_InvalidAddress(t *testing.T) {
	ctx := testContext(t)
	for _, addr := range []any{"no-port", "host:http", ":80", "host:70000", nil, 42} {
		s := Connect(addr, nil)
		_, err := s.Opened().Wait(ctx)
		assert.True(t, IsSocketError(err), "%v: %v", addr, err)
		_, err = s.Closed().Wait(ctx)
		assert.NoError(t, err)
	}
}

func TestSocket_CloseIdentity(t *testing.T) {
	addr := startEchoServer(t)
	ctx := testContext(t)

	s := Connect(addr, nil)
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	first := s.Close()
	assert.Same(t, first, s.Close())
	assert.Same(t, first, s.Closed())

	_, err = first.Wait(ctx)
	require.NoError(t, err)
	assert.Same(t, first, s.Close())
}

func TestSocket_WriteAfterClose(t *testing.T) {
	addr := startEchoServer(t)
	ctx := testContext(t)

	s := Connect(addr, nil)
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)

	_, err = s.Writable().Write([]byte("too late"))
	require.Error(t, err)
	var se *SocketError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, MsgWriteAfterClose, se.Message)

	_, err = s.Readable().ReadChunk(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestSocket_NoDataLossBeforeClose(t *testing.T) {
	received := make(chan []byte, 1)
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	})
	ctx := testContext(t)

	s := Connect(addr, nil)
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	want := bytes.Repeat([]byte("0123456789"), 10000)
	_, err = s.Writable().Write(want)
	require.NoError(t, err)
	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, len(want), len(got))
		assert.True(t, bytes.Equal(want, got))
	case <-ctx.Done():
		t.Fatal("peer never saw end of stream")
	}
}

func TestSocket_OpenedBeforeData(t *testing.T) {
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		io.WriteString(conn, "greeting") //nolint:errcheck
		io.Copy(io.Discard, conn)        //nolint:errcheck
	})
	ctx := testContext(t)

	s := Connect(addr, nil)
	defer s.Close()

	chunk, err := s.Readable().ReadChunk(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, chunk)

	select {
	case <-s.Opened().Done():
	default:
		t.Fatal("data delivered before Opened settled")
	}
}

func TestSocket_PeerEndClosesSocket(t *testing.T) {
	addr := listen(t, func(conn net.Conn) {
		io.WriteString(conn, "bye") //nolint:errcheck
		conn.Close()
	})
	ctx := testContext(t)

	s := Connect(addr, nil)
	data, err := s.Readable().ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))

	_, err = s.Closed().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "closed", s.State())
}

func TestSocket_AllowHalfOpen(t *testing.T) {
	received := make(chan string, 1)
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		io.WriteString(conn, "done talking") //nolint:errcheck
		conn.(*net.TCPConn).CloseWrite()     //nolint:errcheck
		data, _ := io.ReadAll(conn)
		received <- string(data)
	})
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{AllowHalfOpen: true})
	data, err := s.Readable().ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done talking", string(data))

	select {
	case <-s.Closed().Done():
		t.Fatal("socket closed although half-open was allowed")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = s.Writable().Write([]byte("still here"))
	require.NoError(t, err)
	require.NoError(t, s.Writable().Close())
	assert.Equal(t, "still here", <-received)

	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
}

func TestSocket_StreamErrorRejectsClosed(t *testing.T) {
	addr := listen(t, func(conn net.Conn) {
		tcp := conn.(*net.TCPConn)
		tcp.SetLinger(0) //nolint:errcheck
		buf := make([]byte, 1)
		io.ReadFull(conn, buf) //nolint:errcheck
		tcp.Close()
	})
	ctx := testContext(t)

	s := Connect(addr, nil)
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	_, err = s.Writable().Write([]byte("x"))
	require.NoError(t, err)

	_, err = s.Readable().ReadChunk(ctx)
	require.Error(t, err)
	assert.True(t, IsSocketError(err), "got %T %v", err, err)

	_, err = s.Closed().Wait(ctx)
	require.Error(t, err)
	assert.True(t, IsSocketError(err))
}

func TestSocket_CloseWhileConnecting(t *testing.T) {
	d := &blockingDialer{started: make(chan struct{})}
	ctx := testContext(t)

	s := Connect("192.0.2.1:9", &ConnectOptions{Dialer: d})
	<-d.started

	_, err := s.Close().Wait(ctx)
	require.NoError(t, err)

	_, err = s.Opened().Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, NewSocketError(MsgClosedBeforeOpen, nil)))
}

func TestSocket_CloseTimeout(t *testing.T) {
	// The peer never reads and never closes.
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		<-hold
	})
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{CloseTimeout: 100 * time.Millisecond})
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSocket_PendingReadSettlesOnClose(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		<-hold
	})
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{CloseTimeout: 50 * time.Millisecond})
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Readable().ReadChunk(ctx)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)

	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, io.EOF, <-errc)
}

func TestSocket_WriteContextCancel(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		<-hold
	})
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{CloseTimeout: 50 * time.Millisecond})
	defer s.Close()
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	// Far more than the kernel will buffer for a peer that never reads.
	big := make([]byte, 64<<20)
	wctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = s.Writable().WriteContext(wctx, big)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSocket_CloseSettlesBlockedWrite(t *testing.T) {
	hold := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(hold) }) }
	t.Cleanup(release)
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		<-hold
	})
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{CloseTimeout: 3 * time.Second})
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Writable().Write(make([]byte, 64<<20))
		errc <- err
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	closed := s.Close()
	select {
	case err := <-errc:
		assert.Less(t, time.Since(start), time.Second)
		assert.ErrorIs(t, err, NewSocketError(MsgWriteAfterClose, nil))
	case <-time.After(2 * time.Second):
		t.Fatal("blocked write did not settle when Close began")
	}

	release()
	_, err = closed.Wait(ctx)
	assert.NoError(t, err)
}

func TestSocket_Metrics(t *testing.T) {
	addr := startEchoServer(t)
	ctx := testContext(t)
	m := metrics.New()

	s := Connect(addr, &ConnectOptions{Metrics: m})
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ActiveConnections())

	_, err = s.Writable().Write([]byte("12345"))
	require.NoError(t, err)
	readN(t, s, 5)

	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.ActiveConnections())
	assert.Equal(t, int64(1), m.TotalConnections())
	assert.Equal(t, int64(5), m.TotalBytesOut())
	assert.Equal(t, int64(5), m.TotalBytesIn())

	port, err := util.FindFreePort()
	require.NoError(t, err)
	failed := Connect(fmt.Sprintf("127.0.0.1:%d", port), &ConnectOptions{Metrics: m})
	<-failed.Closed().Done()
	assert.Equal(t, int64(1), m.ConnectFailures())
}

func TestSocket_LogsWithSocketID(t *testing.T) {
	addr := startEchoServer(t)
	ctx := testContext(t)

	var buf bytes.Buffer
	logger := util.NewLogger(int(util.LogVerbose))
	logger.SetOutput(&buf)
	logger.SetTimestamps(false)

	s := Connect(addr, &ConnectOptions{Logger: logger})
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)
	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "socket="+s.ID()[:8])
	assert.Contains(t, buf.String(), "[VRB] closed")
}

func TestSocket_TLSOn(t *testing.T) {
	cert, pool := selfSignedCert(t)
	addr := startTLSEchoServer(t, cert)
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{
		SecureTransport: On,
		TLSConfig:       &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	})
	info, err := s.Opened().Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, info.TLS)
	assert.True(t, info.TLS.HandshakeComplete)
	assert.Equal(t, On, s.SecureTransport())

	_, err = s.Writable().Write([]byte("Hello World"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(readN(t, s, 11)))

	_, err = s.StartTLS()
	require.Error(t, err)
	assert.True(t, errors.Is(err, NewSocketError("secureTransport must be set to 'starttls'", nil)))

	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
}

func TestSocket_TLSOnUntrusted(t *testing.T) {
	cert, _ := selfSignedCert(t)
	addr := startTLSEchoServer(t, cert)
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{SecureTransport: On})
	_, err := s.Opened().Wait(ctx)
	require.Error(t, err)
	assert.True(t, IsSocketError(err))
	assert.Contains(t, err.Error(), "certificate")

	_, err = s.Closed().Wait(ctx)
	assert.NoError(t, err)
}

func TestSocket_TLSOnInsecureSkipVerify(t *testing.T) {
	cert, _ := selfSignedCert(t)
	addr := startTLSEchoServer(t, cert)
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{SecureTransport: On, InsecureSkipVerify: true})
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)
	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
}

func TestSocket_StartTLSWrongMode(t *testing.T) {
	addr := startEchoServer(t)
	ctx := testContext(t)

	s := Connect(addr, nil)
	_, err := s.StartTLS()
	require.Error(t, err)
	assert.Equal(t, MsgStartTLSMode, err.Error())
	assert.False(t, s.Upgraded())

	// The connection is otherwise unaffected.
	_, err = s.Writable().Write([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(readN(t, s, 2)))
	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
}

func TestSocket_StartTLS(t *testing.T) {
	cert, pool := selfSignedCert(t)
	addr := startSTARTTLSServer(t, cert)
	ctx := testContext(t)
	m := metrics.New()

	s := Connect(addr, &ConnectOptions{
		SecureTransport: StartTLS,
		TLSConfig:       &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		Metrics:         m,
	})
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	_, err = s.Writable().Write([]byte("HELLO\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "500 unknown\r\n", string(readN(t, s, 13)))

	_, err = s.Writable().Write([]byte("STARTTLS\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "220 ready\r\n", string(readN(t, s, 11)))

	secure, err := s.StartTLS()
	require.NoError(t, err)
	require.NotNil(t, secure)
	assert.True(t, s.Upgraded())
	assert.NotEqual(t, s.ID(), secure.ID())

	_, err = s.StartTLS()
	require.Error(t, err)
	assert.True(t, errors.Is(err, NewSocketError("can only call startTls once", nil)))

	info, err := secure.Opened().Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, info.TLS)
	assert.Equal(t, On, secure.SecureTransport())

	_, err = secure.Writable().Write([]byte("Hello World"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(readN(t, secure, 11)))

	// The plaintext socket is inert.
	_, err = s.Readable().ReadChunk(ctx)
	assert.Equal(t, io.EOF, err)
	_, err = s.Writable().Write([]byte("plain"))
	assert.ErrorIs(t, err, ncerr.ErrUpgraded)

	_, err = secure.StartTLS()
	assert.Equal(t, MsgStartTLSMode, err.Error())

	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)
	_, err = secure.Close().Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), m.TLSUpgrades())
	assert.Equal(t, int64(0), m.ActiveConnections())
}

func TestSocket_StartTLSWithUnreadReply(t *testing.T) {
	cert, pool := selfSignedCert(t)
	addr := startSTARTTLSServer(t, cert)

	tests := []struct {
		name    string
		consume func(t *testing.T, s *Socket)
	}{
		{"partial read", func(t *testing.T, s *Socket) {
			// Only the status code; "ready\r\n" stays buffered.
			assert.Equal(t, "220", string(readN(t, s, 3)))
		}},
		{"abandoned pull", func(t *testing.T, s *Socket) {
			cancelled, cancel := context.WithCancel(context.Background())
			cancel()
			// The pull is abandoned unless the reply beat the cancellation.
			if chunk, err := s.Readable().ReadChunk(cancelled); err != nil {
				assert.ErrorIs(t, err, context.Canceled)
			} else {
				assert.NotEmpty(t, chunk)
			}
			// Let the reply land in the outstanding pull's slot.
			time.Sleep(100 * time.Millisecond)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			s := Connect(addr, &ConnectOptions{
				SecureTransport: StartTLS,
				TLSConfig:       &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
			})
			_, err := s.Opened().Wait(ctx)
			require.NoError(t, err)

			_, err = s.Writable().Write([]byte("STARTTLS\r\n"))
			require.NoError(t, err)
			tt.consume(t, s)

			secure, err := s.StartTLS()
			require.NoError(t, err)
			info, err := secure.Opened().Wait(ctx)
			require.NoError(t, err)
			require.NotNil(t, info.TLS)

			_, err = secure.Writable().Write([]byte("ping"))
			require.NoError(t, err)
			assert.Equal(t, "ping", string(readN(t, secure, 4)))

			// The leftover plaintext is not readable anywhere.
			_, err = s.Readable().ReadChunk(ctx)
			assert.Equal(t, io.EOF, err)

			_, err = secure.Close().Wait(ctx)
			require.NoError(t, err)
		})
	}
}

func TestSocket_StartTLSParentClosedFollowsChild(t *testing.T) {
	cert, pool := selfSignedCert(t)
	addr := startSTARTTLSServer(t, cert)
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{
		SecureTransport: StartTLS,
		TLSConfig:       &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	})
	_, err := s.Writable().Write([]byte("STARTTLS\r\n"))
	require.NoError(t, err)
	readN(t, s, 11)

	secure, err := s.StartTLS()
	require.NoError(t, err)
	_, err = secure.Opened().Wait(ctx)
	require.NoError(t, err)

	select {
	case <-s.Closed().Done():
		t.Fatal("parent closed before the TLS socket")
	default:
	}

	_, err = secure.Close().Wait(ctx)
	require.NoError(t, err)
	_, err = s.Closed().Wait(ctx)
	require.NoError(t, err)
}

func TestSocket_StartTLSHandshakeFailure(t *testing.T) {
	addr := listen(t, func(conn net.Conn) {
		defer conn.Close()
		io.WriteString(conn, "this is not tls at all\r\n") //nolint:errcheck
		io.Copy(io.Discard, conn)                          //nolint:errcheck
	})
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{SecureTransport: StartTLS, InsecureSkipVerify: true})
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)

	secure, err := s.StartTLS()
	require.NoError(t, err, "handshake failures surface asynchronously")

	_, err = secure.Opened().Wait(ctx)
	require.Error(t, err)
	assert.True(t, IsSocketError(err))

	_, err = secure.Closed().Wait(ctx)
	assert.NoError(t, err)
	_, err = s.Closed().Wait(ctx)
	assert.NoError(t, err)
}

func TestSocket_StartTLSBeforeOpen(t *testing.T) {
	cert, pool := selfSignedCert(t)
	addr := listen(t, func(conn net.Conn) {
		cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		echo(tls.Server(conn, cfg))
	})
	ctx := testContext(t)

	// StartTLS may be called straight away; the upgrade waits for the
	// plaintext connection to open.
	s := Connect(addr, &ConnectOptions{
		SecureTransport: StartTLS,
		TLSConfig:       &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	})
	secure, err := s.StartTLS()
	require.NoError(t, err)

	_, err = secure.Opened().Wait(ctx)
	require.NoError(t, err)
	_, err = secure.Writable().Write([]byte("early"))
	require.NoError(t, err)
	assert.Equal(t, "early", string(readN(t, secure, 5)))

	_, err = secure.Close().Wait(ctx)
	require.NoError(t, err)
}

func TestSocket_StartTLSAfterClose(t *testing.T) {
	addr := startEchoServer(t)
	ctx := testContext(t)

	s := Connect(addr, &ConnectOptions{SecureTransport: StartTLS})
	_, err := s.Opened().Wait(ctx)
	require.NoError(t, err)
	_, err = s.Close().Wait(ctx)
	require.NoError(t, err)

	secure, err := s.StartTLS()
	require.NoError(t, err)
	_, err = secure.Opened().Wait(ctx)
	assert.True(t, errors.Is(err, NewSocketError(MsgClosedBeforeOpen, nil)))
}
