package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShortBuffer indicates a frame shorter than the message size.
	ErrShortBuffer = errors.New("short buffer")
	// ErrInvalidMode indicates an unknown mode change value.
	ErrInvalidMode = errors.New("invalid mode change")
)

var le = binary.LittleEndian

func appendFloats(b []byte, fs ...float64) []byte {
	for _, f := range fs {
		b = le.AppendUint64(b, math.Float64bits(f))
	}
	return b
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// reader walks a fixed-size frame. The caller checks the length up front.
type reader struct {
	buf []byte
	off int
}

func (r *reader) float() float64 {
	v := math.Float64frombits(le.Uint64(r.buf[r.off:]))
	r.off += 8
	return v
}

func (r *reader) floats(dst []float64) {
	for i := range dst {
		dst[i] = r.float()
	}
}

func (r *reader) uint32() uint32 {
	v := le.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) int64() int64 {
	v := int64(le.Uint64(r.buf[r.off:]))
	r.off += 8
	return v
}

func (r *reader) byte() byte {
	v := r.buf[r.off]
	r.off++
	return v
}

// AppendBinary appends the M2SSize-byte encoding of m to b.
func (m *MessageM2S) AppendBinary(b []byte) ([]byte, error) {
	b = appendFloats(b, m.Position[:]...)
	b = appendFloats(b, m.LinearVelocity[:]...)
	b = appendFloats(b, m.AngularVelocity[:]...)
	b = appendFloats(b, m.Rotation[:]...)
	b = appendFloats(b, m.GripperAngle, m.GripperAngularVelocity)
	for _, pressed := range m.Buttons {
		b = appendBool(b, pressed)
	}
	b = le.AppendUint32(b, m.Switches)
	b = appendFloats(b, m.Energy[:]...)
	b = le.AppendUint64(b, uint64(m.Timestamp))
	b = append(b, byte(m.ModeChange))
	return b, nil
}

// MarshalBinary returns the M2SSize-byte encoding of m.
func (m *MessageM2S) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, M2SSize))
}

// UnmarshalBinary decodes the first M2SSize bytes of data into m.
func (m *MessageM2S) UnmarshalBinary(data []byte) error {
	if len(data) < M2SSize {
		return fmt.Errorf("decode m2s: %w: got %d bytes, want %d", ErrShortBuffer, len(data), M2SSize)
	}
	r := reader{buf: data}
	var out MessageM2S
	r.floats(out.Position[:])
	r.floats(out.LinearVelocity[:])
	r.floats(out.AngularVelocity[:])
	r.floats(out.Rotation[:])
	out.GripperAngle = r.float()
	out.GripperAngularVelocity = r.float()
	for i := range out.Buttons {
		out.Buttons[i] = r.byte() != 0
	}
	out.Switches = r.uint32()
	r.floats(out.Energy[:])
	out.Timestamp = r.int64()
	out.ModeChange = ModeChange(r.byte())
	if !out.ModeChange.Valid() {
		return fmt.Errorf("decode m2s: %w: %d", ErrInvalidMode, uint8(out.ModeChange))
	}
	*m = out
	return nil
}

// AppendBinary appends the S2MSize-byte encoding of m to b.
func (m *MessageS2M) AppendBinary(b []byte) ([]byte, error) {
	b = appendFloats(b, m.Force[:]...)
	b = appendFloats(b, m.Torque[:]...)
	b = appendFloats(b, m.GripperForce)
	b = appendFloats(b, m.Energy[:]...)
	b = le.AppendUint64(b, uint64(m.Timestamp))
	return b, nil
}

// MarshalBinary returns the S2MSize-byte encoding of m.
func (m *MessageS2M) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, S2MSize))
}

// UnmarshalBinary decodes the first S2MSize bytes of data into m.
func (m *MessageS2M) UnmarshalBinary(data []byte) error {
	if len(data) < S2MSize {
		return fmt.Errorf("decode s2m: %w: got %d bytes, want %d", ErrShortBuffer, len(data), S2MSize)
	}
	r := reader{buf: data}
	var out MessageS2M
	r.floats(out.Force[:])
	r.floats(out.Torque[:])
	out.GripperForce = r.float()
	r.floats(out.Energy[:])
	out.Timestamp = r.int64()
	*m = out
	return nil
}

// DecodeM2S decodes one M2S frame.
func DecodeM2S(data []byte) (MessageM2S, error) {
	var m MessageM2S
	err := m.UnmarshalBinary(data)
	return m, err
}

// DecodeS2M decodes one S2M frame.
func DecodeS2M(data []byte) (MessageS2M, error) {
	var m MessageS2M
	err := m.UnmarshalBinary(data)
	return m, err
}
