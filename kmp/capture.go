package kmp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Source yields the frames of one track.
type Source interface {
	// MediaInfo returns the track's media info packet.
	MediaInfo() *Packet
	// Next returns the next frame packet or io.EOF.
	Next() (*Packet, error)
}

// Capture replays a recorded track: a file holding a media info packet followed
// by frame packets. Other packet types are skipped.
type Capture struct {
	path string
	f    *os.File
	r    *bufio.Reader
	info *Packet
}

// OpenCapture opens a recorded track and reads its media info.
func OpenCapture(path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c := &Capture{path: path, f: f, r: bufio.NewReaderSize(f, 256*1024)}

	for c.info == nil {
		p, err := ReadPacket(c.r)
		if err != nil {
			f.Close()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%s: no media info packet", path)
			}
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		switch p.Type {
		case PacketMediaInfo:
			c.info = p
		case PacketFrame:
			f.Close()
			return nil, fmt.Errorf("%s: frame before media info", path)
		}
	}
	return c, nil
}

// MediaInfo returns the media info packet.
func (c *Capture) MediaInfo() *Packet {
	return c.info
}

// Next returns the next frame.
func (c *Capture) Next() (*Packet, error) {
	for {
		p, err := ReadPacket(c.r)
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%s: %w", c.path, err)
		}
		if p.Type == PacketFrame {
			return p, nil
		}
	}
}

// Close releases the file.
func (c *Capture) Close() error {
	return c.f.Close()
}

// WriteCapture writes a media info packet and frames in capture format.
func WriteCapture(w io.Writer, info *Packet, frames []*Packet) error {
	if _, err := w.Write(info.Bytes()); err != nil {
		return err
	}
	for _, p := range frames {
		if _, err := w.Write(p.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
