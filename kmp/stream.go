package kmp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/internal/sockio"
)

// Timescale of Timestamps.
const Timescale = 90000

// Timestamps is the running clock shared by consecutive SendStreams calls, in 90kHz units.
type Timestamps struct {
	Created int64
	DTS     int64
}

// NewTimestamps starts the clock at the current wall time.
func NewTimestamps() *Timestamps {
	now := time.Now().UnixMicro() * Timescale / 1e6
	return &Timestamps{Created: now, DTS: now}
}

// Advance moves both clocks forward by d.
func (ts *Timestamps) Advance(d time.Duration) {
	n := durationTo90k(d)
	ts.Created += n
	ts.DTS += n
}

// Stream couples a source with the sender feeding it. A frame read past the end of
// one SendStreams call is kept for the next.
type Stream struct {
	Source Source
	Sender *Sender

	info      MediaInfo
	pending   *Packet
	exhausted bool
}

// NewStream pairs src with s.
func NewStream(src Source, s *Sender) *Stream {
	return &Stream{Source: src, Sender: s}
}

// SendOptions controls pacing.
type SendOptions struct {
	// Realtime is the playback speed. Zero sends as fast as the socket allows.
	Realtime float64
	// WaitForVideoKey drops leading video frames until a key frame.
	WaitForVideoKey bool
}

type streamState struct {
	*Stream
	base  int64
	limit int64
	done  bool
}

// SendStreams interleaves the streams by decode time and sends duration worth of
// media from each. Frame timestamps are rebased onto ts, which is advanced by
// duration on success.
func SendStreams(ctx context.Context, streams []*Stream, ts *Timestamps, duration time.Duration, opts SendOptions) error {
	states := make([]*streamState, 0, len(streams))
	for _, s := range streams {
		st, err := prepare(s, duration, opts)
		if err != nil {
			return err
		}
		states = append(states, st)
	}

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, rel := earliest(states)
		if next == nil {
			break
		}

		if opts.Realtime > 0 {
			due := start.Add(time.Duration(float64(rel) * float64(time.Second) / Timescale / opts.Realtime))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		p := next.pending
		f, _ := p.Frame()
		out := p.Clone()
		f.DTS = rescale(ts.DTS, Timescale, int64(next.info.Timescale)) + f.DTS - next.base
		f.Created = ts.Created + rel
		out.SetFrame(f)

		if err := next.Sender.Send(out); err != nil {
			return fmt.Errorf("track %s: %w", next.Sender.TrackID(), err)
		}
		if err := next.advance(); err != nil {
			return err
		}
	}

	ts.Advance(duration)
	logger.Log.Debug("Sent {duration} of media on {count} streams", duration, len(streams))
	return nil
}

func prepare(s *Stream, duration time.Duration, opts SendOptions) (*streamState, error) {
	if !s.Sender.sentMediaInfo {
		if err := s.Sender.Send(s.Source.MediaInfo()); err != nil {
			return nil, fmt.Errorf("track %s: %w", s.Sender.TrackID(), err)
		}
	}
	info, err := s.Source.MediaInfo().MediaInfo()
	if err != nil {
		return nil, err
	}
	if info.Timescale == 0 {
		return nil, fmt.Errorf("track %s: %w: zero timescale", s.Sender.TrackID(), ErrMalformed)
	}
	s.info = info

	st := &streamState{Stream: s}
	if s.pending == nil && !s.exhausted {
		if err := st.advance(); err != nil {
			return nil, err
		}
	}
	if opts.WaitForVideoKey && info.MediaType == MediaVideo {
		for s.pending != nil {
			if f, _ := s.pending.Frame(); f.Key() {
				break
			}
			if err := st.advance(); err != nil {
				return nil, err
			}
		}
	}

	if s.pending == nil {
		st.done = true
		return st, nil
	}
	f, _ := s.pending.Frame()
	st.base = f.DTS
	st.limit = rescale(durationTo90k(duration), Timescale, int64(info.Timescale))
	return st, nil
}

func (st *streamState) advance() error {
	st.pending = nil
	if st.exhausted {
		st.done = true
		return nil
	}
	p, err := st.Source.Next()
	if err == io.EOF {
		st.exhausted = true
		st.done = true
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := p.Frame(); err != nil {
		return err
	}
	st.pending = p
	return nil
}

// earliest returns the stream whose pending frame decodes first, along with that
// frame's offset from the start of the call in 90kHz units. Streams past their
// limit are marked done and keep their pending frame.
func earliest(states []*streamState) (*streamState, int64) {
	var best *streamState
	var bestRel int64
	for _, st := range states {
		if st.done || st.pending == nil {
			st.done = true
			continue
		}
		f, _ := st.pending.Frame()
		if f.DTS-st.base >= st.limit {
			st.done = true
			continue
		}
		rel := rescale(f.DTS-st.base, int64(st.info.Timescale), Timescale)
		if best == nil || rel < bestRel {
			best, bestRel = st, rel
		}
	}
	return best, bestRel
}

// SendEndOfStream sends end-of-stream on every sender and closes them.
func SendEndOfStream(senders ...*Sender) error {
	var errs []error
	for _, s := range senders {
		if err := s.EndOfStream(); err != nil {
			errs = append(errs, fmt.Errorf("track %s: %w", s.TrackID(), err))
		}
	}
	return errors.Join(errs...)
}

// IsConnectionError reports whether err means the server dropped the ingest connection.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrPartialSend) ||
		errors.Is(err, sockio.ErrConnectionBroken) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed)
}

func durationTo90k(d time.Duration) int64 {
	return int64(d) * Timescale / int64(time.Second)
}

func rescale(v, from, to int64) int64 {
	if from == to {
		return v
	}
	return v * to / from
}
