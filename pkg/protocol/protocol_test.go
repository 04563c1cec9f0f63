package protocol

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/hapticlink/pkg/control"
)

func sampleM2S(seq int) MessageM2S {
	f := float64(seq)
	return MessageM2S{
		Position:               mgl64.Vec3{f, -f, 0.5 * f},
		LinearVelocity:         mgl64.Vec3{0.1, 0.2, f},
		AngularVelocity:        mgl64.Vec3{-1, math.Pi, 1e-300},
		Rotation:               mgl64.Rotate3DZ(0.3 * f),
		GripperAngle:           0.25,
		GripperAngularVelocity: -0.75,
		Buttons:                [4]bool{true, false, seq%2 == 0, true},
		Switches:               0b1011,
		Energy:                 mgl64.Vec3{1e-3, 2e-3, 3e-3},
		Timestamp:              int64(seq) * 1_000_000,
		ModeChange:             ChangeKeep,
	}
}

func sampleS2M(seq int) MessageS2M {
	f := float64(seq)
	return MessageS2M{
		Force:        mgl64.Vec3{0, 0, -f},
		Torque:       mgl64.Vec3{0.01, 0.02, 0.03},
		GripperForce: 0.5,
		Energy:       mgl64.Vec3{f, f, f},
		Timestamp:    int64(seq),
	}
}

func encode(t *testing.T, msgs ...interface{ MarshalBinary() ([]byte, error) }) []byte {
	t.Helper()
	var out []byte
	for _, m := range msgs {
		b, err := m.MarshalBinary()
		require.NoError(t, err)
		out = append(out, b...)
	}
	return out
}

func TestM2S_RoundTrip(t *testing.T) {
	in := sampleM2S(7)
	in.Energy[1] = math.Copysign(0, -1)
	in.GripperAngle = math.Inf(-1)

	data, err := in.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, M2SSize)

	out, err := DecodeM2S(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, math.Signbit(out.Energy[1]), "negative zero must survive bit-for-bit")
}

func TestM2S_RoundTrip_NaN(t *testing.T) {
	in := sampleM2S(1)
	in.Position[0] = math.NaN()

	data, err := in.MarshalBinary()
	require.NoError(t, err)
	out, err := DecodeM2S(data)
	require.NoError(t, err)

	assert.Equal(t, math.Float64bits(in.Position[0]), math.Float64bits(out.Position[0]))
}

func TestS2M_RoundTrip(t *testing.T) {
	in := sampleS2M(3)

	data, err := in.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, S2MSize)

	out, err := DecodeS2M(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestM2S_Layout(t *testing.T) {
	m := MessageM2S{
		Buttons:    [4]bool{false, true, false, false},
		Switches:   0x01020304,
		Timestamp:  -2,
		ModeChange: ChangeISS,
	}
	m.Rotation[1] = 1.0 // column 0, row 1

	data, err := m.MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, math.Float64bits(1.0), le.Uint64(data[72+8:]))
	assert.Equal(t, []byte{0, 1, 0, 0}, data[160:164])
	assert.Equal(t, uint32(0x01020304), le.Uint32(data[164:]))
	assert.Equal(t, uint64(math.MaxUint64-1), le.Uint64(data[192:]))
	assert.Equal(t, byte(ChangeISS), data[200])
}

func TestDecode_Errors(t *testing.T) {
	_, err := DecodeM2S(make([]byte, M2SSize-1))
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = DecodeS2M(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortBuffer)

	data := make([]byte, M2SSize)
	data[200] = 9
	_, err = DecodeM2S(data)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestModeChange(t *testing.T) {
	for _, m := range []control.Mode{control.ModeNone, control.ModeTDPA, control.ModeISS} {
		got, ok := ChangeTo(m).Mode()
		assert.True(t, ok)
		assert.Equal(t, m, got)
	}
	_, ok := ChangeKeep.Mode()
	assert.False(t, ok)
	assert.Equal(t, "keep", ChangeKeep.String())
}

func TestReassembler_KeepAll(t *testing.T) {
	const n = 5
	var stream []byte
	for i := range n + 1 {
		m := sampleM2S(i)
		stream = append(stream, encode(t, &m)...)
	}
	split := n*M2SSize + M2SSize/3

	r := NewM2SReassembler(KeepAll)
	first, err := r.Feed(stream[:split])
	require.NoError(t, err)
	require.Len(t, first, n)
	assert.Equal(t, M2SSize/3, r.Buffered())

	second, err := r.Feed(stream[split:])
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Zero(t, r.Buffered())

	all := append(first, second...)
	for i, m := range all {
		assert.Equal(t, sampleM2S(i), m, "message %d out of order", i)
	}
}

func TestReassembler_KeepLatest(t *testing.T) {
	const n = 4
	var stream []byte
	for i := range n + 1 {
		m := sampleS2M(i)
		stream = append(stream, encode(t, &m)...)
	}
	split := n*S2MSize + 10

	r := NewS2MReassembler(KeepLatest)
	first, err := r.Feed(stream[:split])
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, sampleS2M(n-1), first[0])
	assert.Equal(t, uint64(n-1), r.Discarded())

	second, err := r.Feed(stream[split:])
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, sampleS2M(n), second[0])
}

func TestReassembler_ByteAtATime(t *testing.T) {
	m := sampleS2M(9)
	data := encode(t, &m, &m)

	r := NewS2MReassembler(KeepAll)
	var got []MessageS2M
	for _, b := range data {
		msgs, err := r.Feed([]byte{b})
		require.NoError(t, err)
		got = append(got, msgs...)
	}
	require.Len(t, got, 2)
	assert.Equal(t, m, got[1])
}

func TestReassembler_SkipsCorruptFrame(t *testing.T) {
	a, b := sampleM2S(1), sampleM2S(2)
	data := encode(t, &a, &b)
	data[M2SSize-1] = 0xff // mode byte of the first frame

	r := NewM2SReassembler(KeepAll)
	got, err := r.Feed(data)
	assert.ErrorIs(t, err, ErrInvalidMode)
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0])
}

func TestReassembler_EmptyAndPartial(t *testing.T) {
	r := NewS2MReassembler(KeepLatest)

	got, err := r.Feed(nil)
	assert.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Feed(make([]byte, S2MSize-1))
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, S2MSize-1, r.Buffered())
}
