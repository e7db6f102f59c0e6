package audioframe

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Encoding identifies how PCM samples are stored in a byte stream.
type Encoding uint8

const (
	EncodingSigned   Encoding = iota + 1 // signed integer PCM
	EncodingUnsigned                     // unsigned integer PCM (8-bit WAV)
	EncodingFloat                        // IEEE 754 float PCM
)

func (e Encoding) String() string {
	switch e {
	case EncodingSigned:
		return "pcm_signed"
	case EncodingUnsigned:
		return "pcm_unsigned"
	case EncodingFloat:
		return "pcm_float"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// Format describes an interleaved PCM byte stream.
type Format struct {
	Encoding      Encoding
	SampleRate    int  // samples per second per channel
	FrameRate     int  // frames per second, equal to SampleRate for PCM
	BitsPerSample int  // 8, 16, 24 or 32
	Channels      int  // 1=mono, 2=stereo
	FrameSize     int  // bytes per frame across all channels
	BigEndian     bool // byte order of multi-byte samples
}

// NewFormat returns a little-endian signed PCM format, or unsigned for
// 8-bit samples as WAV stores them.
func NewFormat(sampleRate, channels, bitsPerSample int) Format {
	enc := EncodingSigned
	if bitsPerSample == 8 {
		enc = EncodingUnsigned
	}
	return Format{
		Encoding:      enc,
		SampleRate:    sampleRate,
		FrameRate:     sampleRate,
		BitsPerSample: bitsPerSample,
		Channels:      channels,
		FrameSize:     channels * (bitsPerSample / 8),
	}
}

// BytesPerSample returns the size of one sample of one channel.
func (f Format) BytesPerSample() int {
	return f.BitsPerSample / 8
}

// Validate reports whether the format can be streamed.
func (f Format) Validate() error {
	switch {
	case f.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	case f.Channels <= 0:
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	case f.BitsPerSample != 8 && f.BitsPerSample != 16 && f.BitsPerSample != 24 && f.BitsPerSample != 32:
		return fmt.Errorf("unsupported bits per sample: %d", f.BitsPerSample)
	case f.Encoding == EncodingFloat && f.BitsPerSample != 32:
		return fmt.Errorf("unsupported float sample size: %d", f.BitsPerSample)
	case f.FrameSize != f.Channels*f.BytesPerSample():
		return fmt.Errorf("frame size %d does not match %d channels of %d bits",
			f.FrameSize, f.Channels, f.BitsPerSample)
	}
	return nil
}

// Compatible reports whether data in format other can be written to a
// device opened with f without reopening it.
func (f Format) Compatible(other Format) bool {
	return f.Encoding == other.Encoding &&
		f.SampleRate == other.SampleRate &&
		f.FrameRate == other.FrameRate &&
		f.FrameSize == other.FrameSize &&
		f.Channels == other.Channels &&
		f.BigEndian == other.BigEndian
}

// Duration converts a frame count to playback time.
func (f Format) Duration(frames int64) time.Duration {
	if f.FrameRate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(f.FrameRate))
}

// Frames converts playback time to a whole number of frames.
func (f Format) Frames(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d) * int64(f.FrameRate) / int64(time.Second)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz:%dbit:%dch:%s", f.SampleRate, f.BitsPerSample, f.Channels, f.Encoding)
}

func (f Format) order() binary.ByteOrder {
	if f.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Sample decodes the sample of channel ch in frame i of p, normalized to
// [-1, 1]. The caller guarantees the frame is fully contained in p.
func (f Format) Sample(p []byte, i, ch int) float64 {
	off := i*f.FrameSize + ch*f.BytesPerSample()
	b := p[off : off+f.BytesPerSample()]
	order := f.order()

	switch f.BitsPerSample {
	case 8:
		if f.Encoding == EncodingUnsigned {
			return (float64(b[0]) - 128) / 128
		}
		return float64(int8(b[0])) / 128
	case 16:
		return float64(int16(order.Uint16(b))) / 32768
	case 24:
		var v int32
		if f.BigEndian {
			v = int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
		} else {
			v = int32(b[2])<<16 | int32(b[1])<<8 | int32(b[0])
		}
		// sign-extend from 24 bits
		v = v << 8 >> 8
		return float64(v) / 8388608
	case 32:
		if f.Encoding == EncodingFloat {
			return float64(math.Float32frombits(order.Uint32(b)))
		}
		return float64(int32(order.Uint32(b))) / 2147483648
	}
	return 0
}

// PutSample encodes v (clipped to [-1, 1]) as the sample of channel ch in
// frame i of p.
func (f Format) PutSample(p []byte, i, ch int, v float64) {
	v = max(-1, min(1, v))
	off := i*f.FrameSize + ch*f.BytesPerSample()
	b := p[off : off+f.BytesPerSample()]
	order := f.order()

	switch f.BitsPerSample {
	case 8:
		if f.Encoding == EncodingUnsigned {
			b[0] = byte(math.Round(v*127) + 128)
		} else {
			b[0] = byte(int8(math.Round(v * 127)))
		}
	case 16:
		order.PutUint16(b, uint16(int16(math.Round(v*32767))))
	case 24:
		s := int32(math.Round(v * 8388607))
		if f.BigEndian {
			b[0], b[1], b[2] = byte(s>>16), byte(s>>8), byte(s)
		} else {
			b[0], b[1], b[2] = byte(s), byte(s>>8), byte(s>>16)
		}
	case 32:
		if f.Encoding == EncodingFloat {
			order.PutUint32(b, math.Float32bits(float32(v)))
		} else {
			order.PutUint32(b, uint32(int32(math.Round(v*2147483647))))
		}
	}
}

// Scale multiplies every sample of the whole frames in p by a gain that
// moves linearly from `from` to `to` across the buffer, so a gain change
// never produces a step discontinuity.
func (f Format) Scale(p []byte, from, to float64) {
	frames := len(p) / f.FrameSize
	if frames == 0 || (from == 1 && to == 1) {
		return
	}
	step := (to - from) / float64(frames)
	gain := from
	for i := 0; i < frames; i++ {
		gain += step
		for ch := 0; ch < f.Channels; ch++ {
			f.PutSample(p, i, ch, f.Sample(p, i, ch)*gain)
		}
	}
}
