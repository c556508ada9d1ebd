package kmp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/internal/sockio"
	"github.com/nginxlive/livetest/monitoring"
)

// ErrPartialSend matches a PartialSendError.
var ErrPartialSend = errors.New("partial send")

// PartialSendError reports that the peer dropped the connection during a byte-by-byte send.
type PartialSendError struct {
	Result sockio.SendResult
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("partial send: %d bytes sent: %v", e.Result.Sent, e.Result.Err)
}

// Is reports whether target is ErrPartialSend.
func (e *PartialSendError) Is(target error) bool { return target == ErrPartialSend }

func (e *PartialSendError) Unwrap() error { return e.Result.Err }

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithByteByByte sends every packet one byte per write, with the bulk fallback for large packets.
func WithByteByByte() SenderOption {
	return func(s *Sender) {
		s.byteByByte = true
	}
}

// Sender feeds one track over one connection.
type Sender struct {
	conn          net.Conn
	connect       Connect
	byteByByte    bool
	mediaType     string
	sentMediaInfo bool
	sent          int64
}

// Dial connects to the ingest address and sends the connect packet.
func Dial(ctx context.Context, addr string, c Connect, opts ...SenderOption) (*Sender, error) {
	pkt, err := ConnectPacket(c)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	s := &Sender{conn: conn, connect: c, mediaType: "unknown"}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Send(pkt); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Log.Debug("Connected track {channel}/{track} to {addr}", c.ChannelID, c.TrackID, addr)
	return s, nil
}

// TrackID returns the track the sender feeds.
func (s *Sender) TrackID() string {
	return s.connect.TrackID
}

// Sent returns the number of bytes written so far.
func (s *Sender) Sent() int64 {
	return s.sent
}

// Send writes a packet. A media info packet also sets the media type used for metrics.
func (s *Sender) Send(p *Packet) error {
	if p.Type == PacketMediaInfo {
		if info, err := p.MediaInfo(); err == nil {
			s.mediaType = MediaTypeName(info.MediaType)
		}
		s.sentMediaInfo = true
	}

	buf := p.Bytes()
	if s.byteByByte {
		res := sockio.SendByteByByte(s.conn, buf)
		s.record(res.Sent)
		if res.Partial {
			return &PartialSendError{Result: res}
		}
		return nil
	}

	if err := sockio.Send(s.conn, buf); err != nil {
		return fmt.Errorf("track %s: %w", s.connect.TrackID, err)
	}
	s.record(len(buf))
	return nil
}

func (s *Sender) record(n int) {
	s.sent += int64(n)
	monitoring.RecordIngestBytes(s.mediaType, n)
}

// EndOfStream sends an end-of-stream packet and closes the connection.
func (s *Sender) EndOfStream() error {
	err := s.Send(EOSPacket())
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection without an end-of-stream marker.
func (s *Sender) Close() error {
	return s.conn.Close()
}
