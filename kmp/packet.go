// Package kmp pushes recorded media into the server's ingest port. Packets are
// little-endian: a 16-byte base header, a type-specific header, then the payload.
package kmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packet types.
const (
	PacketConnect   uint32 = 0x74636e63 // cnct
	PacketMediaInfo uint32 = 0x666e696d // minf
	PacketFrame     uint32 = 0x6d617266 // fram
	PacketEOS       uint32 = 0x74736f65 // eost
	PacketAckFrames uint32 = 0x666b6361 // ackf
)

// Media types carried in media info packets.
const (
	MediaVideo uint32 = iota
	MediaAudio
	MediaSubtitle
)

// FrameFlagKey marks a key frame.
const FrameFlagKey uint32 = 0x01

const (
	baseHeaderSize  = 16
	maxIDLen        = 32
	connectSize     = maxIDLen*2 + 8 + 8 + 4 + 4
	frameHeaderSize = 8 + 8 + 4 + 4
	mediaInfoMin    = 12
	maxHeaderSize   = 64 * 1024
	maxDataSize     = 64 * 1024 * 1024
)

// ErrMalformed is returned for packets that violate the framing rules.
var ErrMalformed = errors.New("malformed packet")

// Packet is a single protocol unit. Header excludes the base header.
type Packet struct {
	Type   uint32
	Header []byte
	Data   []byte
}

// Size returns the encoded length.
func (p *Packet) Size() int {
	return baseHeaderSize + len(p.Header) + len(p.Data)
}

// Bytes encodes the packet.
func (p *Packet) Bytes() []byte {
	buf := make([]byte, p.Size())
	binary.LittleEndian.PutUint32(buf[0:], p.Type)
	binary.LittleEndian.PutUint32(buf[4:], uint32(baseHeaderSize+len(p.Header)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(p.Data)))
	n := copy(buf[baseHeaderSize:], p.Header)
	copy(buf[baseHeaderSize+n:], p.Data)
	return buf
}

// Clone returns a deep copy.
func (p *Packet) Clone() *Packet {
	return &Packet{
		Type:   p.Type,
		Header: append([]byte(nil), p.Header...),
		Data:   append([]byte(nil), p.Data...),
	}
}

// ReadPacket reads one packet. io.EOF is returned only at a packet boundary.
func ReadPacket(r io.Reader) (*Packet, error) {
	var base [baseHeaderSize]byte
	if _, err := io.ReadFull(r, base[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformed)
		}
		return nil, err
	}

	p := &Packet{Type: binary.LittleEndian.Uint32(base[0:])}
	headerSize := binary.LittleEndian.Uint32(base[4:])
	dataSize := binary.LittleEndian.Uint32(base[8:])
	if headerSize < baseHeaderSize || headerSize > maxHeaderSize {
		return nil, fmt.Errorf("%w: header size %d", ErrMalformed, headerSize)
	}
	if dataSize > maxDataSize {
		return nil, fmt.Errorf("%w: data size %d", ErrMalformed, dataSize)
	}

	p.Header = make([]byte, headerSize-baseHeaderSize)
	p.Data = make([]byte, dataSize)
	if _, err := io.ReadFull(r, p.Header); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrMalformed, err)
	}
	if _, err := io.ReadFull(r, p.Data); err != nil {
		return nil, fmt.Errorf("%w: truncated data: %v", ErrMalformed, err)
	}
	return p, nil
}

// Connect identifies the track a connection feeds.
type Connect struct {
	ChannelID                string
	TrackID                  string
	InitialFrameID           uint64
	InitialTranscodedFrameID uint64
	Offset                   uint32
}

// ConnectPacket encodes c.
func ConnectPacket(c Connect) (*Packet, error) {
	if len(c.ChannelID) > maxIDLen || len(c.TrackID) > maxIDLen {
		return nil, fmt.Errorf("channel and track ids are limited to %d bytes", maxIDLen)
	}
	h := make([]byte, connectSize)
	copy(h[0:], c.ChannelID)
	copy(h[maxIDLen:], c.TrackID)
	binary.LittleEndian.PutUint64(h[2*maxIDLen:], c.InitialFrameID)
	binary.LittleEndian.PutUint64(h[2*maxIDLen+8:], c.InitialTranscodedFrameID)
	binary.LittleEndian.PutUint32(h[2*maxIDLen+16:], c.Offset)
	return &Packet{Type: PacketConnect, Header: h}, nil
}

// EOSPacket returns an end-of-stream packet.
func EOSPacket() *Packet {
	return &Packet{Type: PacketEOS}
}

// Frame is a decoded frame header.
type Frame struct {
	Created  int64
	DTS      int64
	Flags    uint32
	PTSDelay int32
}

// Key reports whether the frame is a key frame.
func (f Frame) Key() bool {
	return f.Flags&FrameFlagKey != 0
}

// Frame decodes the frame header of a frame packet.
func (p *Packet) Frame() (Frame, error) {
	if p.Type != PacketFrame || len(p.Header) < frameHeaderSize {
		return Frame{}, fmt.Errorf("%w: not a frame", ErrMalformed)
	}
	h := p.Header
	return Frame{
		Created:  int64(binary.LittleEndian.Uint64(h[0:])),
		DTS:      int64(binary.LittleEndian.Uint64(h[8:])),
		Flags:    binary.LittleEndian.Uint32(h[16:]),
		PTSDelay: int32(binary.LittleEndian.Uint32(h[20:])),
	}, nil
}

// SetFrame rewrites the frame header in place.
func (p *Packet) SetFrame(f Frame) {
	h := p.Header
	binary.LittleEndian.PutUint64(h[0:], uint64(f.Created))
	binary.LittleEndian.PutUint64(h[8:], uint64(f.DTS))
	binary.LittleEndian.PutUint32(h[16:], f.Flags)
	binary.LittleEndian.PutUint32(h[20:], uint32(f.PTSDelay))
}

// FramePacket builds a frame packet.
func FramePacket(f Frame, data []byte) *Packet {
	p := &Packet{Type: PacketFrame, Header: make([]byte, frameHeaderSize), Data: data}
	p.SetFrame(f)
	return p
}

// MediaInfo is the common prefix of a media info header.
type MediaInfo struct {
	MediaType uint32
	Codec     uint32
	Timescale uint32
}

// MediaInfo decodes the media info header.
func (p *Packet) MediaInfo() (MediaInfo, error) {
	if p.Type != PacketMediaInfo || len(p.Header) < mediaInfoMin {
		return MediaInfo{}, fmt.Errorf("%w: not a media info packet", ErrMalformed)
	}
	h := p.Header
	return MediaInfo{
		MediaType: binary.LittleEndian.Uint32(h[0:]),
		Codec:     binary.LittleEndian.Uint32(h[4:]),
		Timescale: binary.LittleEndian.Uint32(h[8:]),
	}, nil
}

// MediaInfoPacket builds a media info packet with the given prefix and extra header bytes.
func MediaInfoPacket(info MediaInfo, extra []byte, data []byte) *Packet {
	h := make([]byte, mediaInfoMin+len(extra))
	binary.LittleEndian.PutUint32(h[0:], info.MediaType)
	binary.LittleEndian.PutUint32(h[4:], info.Codec)
	binary.LittleEndian.PutUint32(h[8:], info.Timescale)
	copy(h[mediaInfoMin:], extra)
	return &Packet{Type: PacketMediaInfo, Header: h, Data: data}
}

// MediaTypeName returns the control API name of a media type.
func MediaTypeName(t uint32) string {
	switch t {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaSubtitle:
		return "subtitle"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}
