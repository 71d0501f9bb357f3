// Package ble carries pose keypoints from a camera node to the analyzer: the
// binary frame codec shared by BLE and UDP, and a BLE central that subscribes
// to the camera's keypoint characteristic.
package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
)

const (
	// HeaderSize is the fixed frame header: ts(4) seq(2) count(1) flags(1).
	HeaderSize = 8
	// KeypointSize is one encoded keypoint: x(2) y(2) conf(1).
	KeypointSize = 5
	// MaxKeypoints is the largest supported skeleton (BlazePose).
	MaxKeypoints = 33
	// MaxFrameSize is the size of a frame carrying MaxKeypoints.
	MaxFrameSize = HeaderSize + MaxKeypoints*KeypointSize
)

// Frame is one binary keypoint frame. All multi-byte fields are little-endian.
// Coordinates are normalized to [0,1] and quantized to 16 bits, confidence to
// 8 bits.
type Frame struct {
	Timestamp uint32 // Milliseconds since camera boot
	Sequence  uint16 // Frame sequence number
	Flags     uint8  // Status flags
	Keypoints analytics.Skeleton
}

// Flag bit positions
const (
	FlagMirrored uint8 = 1 << 0 // Bit 0: x axis mirrored (selfie camera)
)

var (
	// ErrShortPacket is returned when the data ends before the header or the
	// announced keypoints.
	ErrShortPacket = errors.New("short keypoint packet")
	// ErrTooManyKeypoints is returned when a frame announces or carries more
	// than MaxKeypoints keypoints.
	ErrTooManyKeypoints = errors.New("too many keypoints")
)

// ParseFrame decodes a binary keypoint frame. Trailing bytes are ignored.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d for header", ErrShortPacket, len(data), HeaderSize)
	}

	count := int(data[6])
	if count > MaxKeypoints {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyKeypoints, count, MaxKeypoints)
	}
	need := HeaderSize + count*KeypointSize
	if len(data) < need {
		return nil, fmt.Errorf("%w: %d bytes, need %d for %d keypoints", ErrShortPacket, len(data), need, count)
	}

	f := &Frame{
		Timestamp: binary.LittleEndian.Uint32(data[0:4]),
		Sequence:  binary.LittleEndian.Uint16(data[4:6]),
		Flags:     data[7],
		Keypoints: make(analytics.Skeleton, count),
	}
	for i := range f.Keypoints {
		off := HeaderSize + i*KeypointSize
		f.Keypoints[i] = analytics.Keypoint{
			X:          float64(binary.LittleEndian.Uint16(data[off:off+2])) / math.MaxUint16,
			Y:          float64(binary.LittleEndian.Uint16(data[off+2:off+4])) / math.MaxUint16,
			Confidence: float64(data[off+4]) / math.MaxUint8,
		}
	}

	return f, nil
}

// EncodeFrame is the inverse of ParseFrame. Values outside [0,1] are clamped.
func EncodeFrame(f *Frame) ([]byte, error) {
	if len(f.Keypoints) > MaxKeypoints {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyKeypoints, len(f.Keypoints), MaxKeypoints)
	}

	buf := make([]byte, HeaderSize+len(f.Keypoints)*KeypointSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.Timestamp)
	binary.LittleEndian.PutUint16(buf[4:6], f.Sequence)
	buf[6] = uint8(len(f.Keypoints))
	buf[7] = f.Flags
	for i, kp := range f.Keypoints {
		off := HeaderSize + i*KeypointSize
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(quantize(kp.X, math.MaxUint16)))
		binary.LittleEndian.PutUint16(buf[off+2:off+4], uint16(quantize(kp.Y, math.MaxUint16)))
		buf[off+4] = uint8(quantize(kp.Confidence, math.MaxUint8))
	}
	return buf, nil
}

func quantize(v, scale float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return scale
	}
	return math.Round(v * scale)
}

// IsMirrored returns true if the camera flipped the x axis.
func (f *Frame) IsMirrored() bool {
	return f.Flags&FlagMirrored != 0
}

// Skeleton returns the keypoints in camera-independent orientation.
func (f *Frame) Skeleton() analytics.Skeleton {
	s := make(analytics.Skeleton, len(f.Keypoints))
	copy(s, f.Keypoints)
	if f.IsMirrored() {
		for i := range s {
			s[i].X = 1 - s[i].X
		}
	}
	return s
}

// String returns a human-readable representation of the frame.
func (f *Frame) String() string {
	return fmt.Sprintf("ts=%d seq=%d keypoints=%d flags=0x%02x",
		f.Timestamp, f.Sequence, len(f.Keypoints), f.Flags)
}
