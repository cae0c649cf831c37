package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"
)

var _ core.CaptureDevice = (*IVFDevice)(nil)

// IVFDevice replays an IVF file as the display capture, looping at the
// file's frame rate until stopped.
type IVFDevice struct {
	Path string
}

func NewIVFDevice(path string) *IVFDevice {
	return &IVFDevice{Path: path}
}

func mimeForFourCC(fourcc string) (string, error) {
	switch fourcc {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("unsupported fourcc %q", fourcc)
}

func (d *IVFDevice) Acquire(ctx context.Context) (core.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapError("acquire capture", ErrCaptureFailed, err.Error())
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, WrapError("acquire capture", ErrCaptureFailed, err.Error())
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, WrapError("acquire capture", ErrCaptureFailed, err.Error())
	}
	mime, err := mimeForFourCC(header.FourCC)
	if err != nil {
		_ = f.Close()
		return nil, WrapError("acquire capture", ErrCaptureFailed, err.Error())
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "screen", "sharedview-screen")
	if err != nil {
		_ = f.Close()
		return nil, WrapError("acquire capture", ErrCaptureFailed, err.Error())
	}

	frame := framePeriod(header.TimebaseNumerator, header.TimebaseDenominator)

	t := &ivfTrack{
		file:   f,
		reader: reader,
		local:  local,
		frame:  frame,
		done:   make(chan struct{}),
	}
	go t.pump()
	log.Info().Str("module", "rtc.capture").Str("path", d.Path).Str("mime", mime).Dur("frame", frame).Msg("capture acquired")
	return &stream{tracks: []core.CaptureTrack{t}}, nil
}

const (
	defaultFramePeriod = time.Second / 30
	minFramePeriod     = time.Millisecond
)

// framePeriod turns the IVF timebase into a ticker period, never below
// minFramePeriod.
func framePeriod(num, den uint32) time.Duration {
	if num == 0 || den == 0 {
		return defaultFramePeriod
	}
	d := time.Duration(uint64(time.Second) * uint64(num) / uint64(den))
	if d < minFramePeriod {
		return minFramePeriod
	}
	return d
}

type ivfTrack struct {
	file   *os.File
	reader *ivfreader.IVFReader
	local  *webrtc.TrackLocalStaticSample
	frame  time.Duration

	once sync.Once
	done chan struct{}
}

func (t *ivfTrack) Local() webrtc.TrackLocal { return t.local }

func (t *ivfTrack) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *ivfTrack) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *ivfTrack) pump() {
	defer t.file.Close()
	ticker := time.NewTicker(t.frame)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		payload, _, err := t.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if err := t.rewind(); err != nil {
				log.Error().Err(err).Str("module", "rtc.capture").Msg("rewind")
				return
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("module", "rtc.capture").Msg("read frame")
			return
		}
		if t.stopped() {
			return
		}
		if err := t.local.WriteSample(media.Sample{Data: payload, Duration: t.frame}); err != nil {
			log.Warn().Err(err).Str("module", "rtc.capture").Msg("write sample")
		}
	}
}

func (t *ivfTrack) rewind() error {
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(t.file)
	if err != nil {
		return err
	}
	t.reader = reader
	return nil
}

type stream struct {
	tracks []core.CaptureTrack
}

func (s *stream) Tracks() []core.CaptureTrack { return s.tracks }

func (s *stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
