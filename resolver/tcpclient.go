package resolver

import (
	"context"
	"encoding/binary"
	"errors"
	"net"

	"github.com/classmarkets/pool-ns-resolver/wire"
)

// ErrBadTCPLength is returned when a TCP/53 response announces a length
// outside the sane RFC 1035 range (at least a header, at most the 16-bit
// length prefix can express).
var ErrBadTCPLength = errors.New("dns/tcp: response length out of range")

// TCPQuerier performs a one-shot DNS/TCP query: connect, send one framed
// query for host (A, or AAAA if family is wire.V6), read the framed
// response, and parse it. The context's deadline is the query's entire
// budget, matching spec.md §4.3's single per-step timer (the TCP client
// owns it, independent of the backend's own timer).
type TCPQuerier func(ctx context.Context, addr, host string, family wire.IPVersion) (wire.RecordSet, error)

// DialTCP is the default TCPQuerier, a one-shot TCP/53 client framed with
// a 2-byte big-endian length prefix, grounded on
// original_source/src/base/net/dns/DnsTcpClient.cpp's connect → arm
// timeout → send → accumulate → parse lifecycle.
func DialTCP(ctx context.Context, addr, host string, family wire.IPVersion) (wire.RecordSet, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return wire.RecordSet{}, err
	}
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	qtype := wire.TypeA
	if family == wire.V6 {
		qtype = wire.TypeAAAA
	}

	query, err := wire.BuildQuery(host, qtype)
	if err != nil {
		return wire.RecordSet{}, err
	}

	framed := make([]byte, 2+len(query))
	binary.BigEndian.PutUint16(framed, uint16(len(query)))
	copy(framed[2:], query)

	if _, err := conn.Write(framed); err != nil {
		return wire.RecordSet{}, err
	}

	var buf []byte
	tmp := make([]byte, 4096)
	expected := -1

	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}

		if expected < 0 && len(buf) >= 2 {
			expected = int(binary.BigEndian.Uint16(buf))
			if expected < 12 || expected > 65535 {
				return wire.RecordSet{}, ErrBadTCPLength
			}
		}

		if expected >= 0 && len(buf) >= 2+expected {
			return wire.ParseAddressRecords(buf[2:2+expected], family)
		}

		if err != nil {
			// EOF or any read error before a complete message arrived.
			return wire.RecordSet{}, err
		}
	}
}
