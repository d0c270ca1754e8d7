package socket

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"tcpsock/util"
)

// MaxPort is the largest valid TCP port.
const MaxPort = 65535

// SocketAddress identifies a TCP endpoint.  Hostname is passed to the
// dialer untouched; no DNS lookups happen here.
type SocketAddress struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port" yaml:"port"`
}

// String returns "hostname:port", bracketing IPv6 literals.
func (a SocketAddress) String() string {
	return util.FormatAddr(a.Hostname, a.Port)
}

// IsSocketAddress reports whether v has the structured address shape:
// a SocketAddress, a non-nil *SocketAddress, or a map carrying both a
// "hostname" and a "port" entry.  Field values are not checked.
func IsSocketAddress(v any) bool {
	switch a := v.(type) {
	case SocketAddress:
		return true
	case *SocketAddress:
		return a != nil
	case map[string]any:
		return hasKeys(a)
	case map[string]string:
		return hasKeys(a)
	default:
		return false
	}
}

func hasKeys[V any](m map[string]V) bool {
	if m == nil {
		return false
	}
	_, host := m["hostname"]
	_, port := m["port"]
	return host && port
}

// ParseAddress normalises v into a SocketAddress.  Strings are split on
// the last ':' ("[::1]:443" and "localhost:25" both work).  Every
// failure is a *SocketError.
func ParseAddress(v any) (SocketAddress, error) {
	switch a := v.(type) {
	case string:
		return parseHostPort(a)
	case SocketAddress:
		return a, validate(a)
	case *SocketAddress:
		if a == nil {
			return SocketAddress{}, NewSocketError("invalid address: <nil>", nil)
		}
		return *a, validate(*a)
	case map[string]any:
		return fromMap(a)
	case map[string]string:
		m := make(map[string]any, len(a))
		for k, val := range a {
			m[k] = val
		}
		return fromMap(m)
	default:
		return SocketAddress{}, NewSocketError(fmt.Sprintf("invalid address type %T", v), nil)
	}
}

func parseHostPort(s string) (SocketAddress, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return SocketAddress{}, NewSocketError(fmt.Sprintf("invalid address %q: missing port", s), nil)
	}
	host, portStr := s[:i], s[i+1:]
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return SocketAddress{}, NewSocketError(fmt.Sprintf("invalid address %q: port is not a number", s), err)
	}
	addr := SocketAddress{Hostname: host, Port: port}
	return addr, validate(addr)
}

func fromMap(m map[string]any) (SocketAddress, error) {
	if !hasKeys(m) {
		return SocketAddress{}, NewSocketError("invalid address: hostname and port are required", nil)
	}
	host, ok := m["hostname"].(string)
	if !ok {
		return SocketAddress{}, NewSocketError(fmt.Sprintf("invalid hostname type %T", m["hostname"]), nil)
	}
	port, err := toPort(m["port"])
	if err != nil {
		return SocketAddress{}, err
	}
	addr := SocketAddress{Hostname: host, Port: port}
	return addr, validate(addr)
}

func toPort(v any) (int, error) {
	switch p := v.(type) {
	case int:
		return p, nil
	case int32:
		return int(p), nil
	case int64:
		return int(p), nil
	case uint16:
		return int(p), nil
	case float64:
		if p != math.Trunc(p) {
			return 0, NewSocketError(fmt.Sprintf("invalid port %v", p), nil)
		}
		return int(p), nil
	case string:
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, NewSocketError(fmt.Sprintf("invalid port %q", p), err)
		}
		return n, nil
	default:
		return 0, NewSocketError(fmt.Sprintf("invalid port type %T", v), nil)
	}
}

func validate(a SocketAddress) error {
	if a.Hostname == "" {
		return NewSocketError("invalid address: empty hostname", nil)
	}
	if a.Port < 0 || a.Port > MaxPort {
		return NewSocketError(fmt.Sprintf("invalid port %d: must be between 0 and %d", a.Port, MaxPort), nil)
	}
	return nil
}
