package mirror

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/remixsync/remixsync/internal/core/observability/log"
)

// ALPN protocol id shared by the QUIC client and the hub listener.
const QUICProtocol = "remixsync-quic"

// QUIC is a mirror client speaking the frame protocol as JSON values over a
// single bidirectional QUIC stream.
type QUIC struct {
	*streamClient
	conn *quic.Conn
}

var _ Client = (*QUIC)(nil)

// DialQUIC connects to a hub's QUIC listener. The TLS configuration skips
// verification and is for development use, matching the hub's self-signed
// certificate.
func DialQUIC(ctx context.Context, addr string, logger log.Log) (*QUIC, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true, // development transport, hub cert is self-signed
		NextProtos:         []string{QUICProtocol},
		MinVersion:         tls.VersionTLS13,
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("open control stream: %w", err)
	}

	if logger == nil {
		logger = log.Provide()
	}
	qc := &quicFrameConn{
		conn:   conn,
		enc:    json.NewEncoder(stream),
		dec:    json.NewDecoder(stream),
		stream: stream,
	}
	return &QUIC{
		streamClient: newStreamClient(qc, logger.With(log.String("transport", "quic"))),
		conn:         conn,
	}, nil
}

type quicFrameConn struct {
	conn   *quic.Conn
	stream *quic.Stream

	writeMu sync.Mutex
	enc     *json.Encoder
	dec     *json.Decoder
}

func (c *quicFrameConn) WriteFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(f)
}

func (c *quicFrameConn) ReadFrame() (Frame, error) {
	var f Frame
	if err := c.dec.Decode(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *quicFrameConn) Close() error {
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "client closed")
}
