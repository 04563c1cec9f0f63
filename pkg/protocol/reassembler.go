package protocol

import "errors"

// Policy selects which decoded messages a Reassembler hands out per read.
type Policy int

const (
	// KeepAll returns every whole message in arrival order.
	KeepAll Policy = iota
	// KeepLatest returns only the last whole message of each read; older ones are stale.
	KeepLatest
)

func (p Policy) String() string {
	if p == KeepLatest {
		return "keep-latest"
	}
	return "keep-all"
}

// Reassembler cuts a byte stream into fixed-size messages, tolerating partial and
// coalesced reads. It is used by a single receiving goroutine.
type Reassembler[T any] struct {
	size   int
	decode func([]byte) (T, error)
	policy Policy

	buf       []byte
	discarded uint64
}

// NewReassembler creates a reassembler for frames of size bytes.
func NewReassembler[T any](size int, decode func([]byte) (T, error), policy Policy) *Reassembler[T] {
	return &Reassembler[T]{
		size:   size,
		decode: decode,
		policy: policy,
		buf:    make([]byte, 0, 4*size),
	}
}

// NewM2SReassembler creates a reassembler for master-to-slave frames.
func NewM2SReassembler(policy Policy) *Reassembler[MessageM2S] {
	return NewReassembler(M2SSize, DecodeM2S, policy)
}

// NewS2MReassembler creates a reassembler for slave-to-master frames.
func NewS2MReassembler(policy Policy) *Reassembler[MessageS2M] {
	return NewReassembler(S2MSize, DecodeS2M, policy)
}

// Feed appends p to the pending bytes and returns the messages completed by it.
// The trailing partial frame is kept for the next call. Frames that fail to decode
// are skipped and reported in the returned error; the good ones are still returned.
func (r *Reassembler[T]) Feed(p []byte) ([]T, error) {
	r.buf = append(r.buf, p...)
	n := len(r.buf) / r.size
	if n == 0 {
		return nil, nil
	}

	first := 0
	if r.policy == KeepLatest {
		first = n - 1
		r.discarded += uint64(first)
	}

	var (
		out  []T
		errs []error
	)
	for i := first; i < n; i++ {
		msg, err := r.decode(r.buf[i*r.size : (i+1)*r.size])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, msg)
	}

	consumed := n * r.size
	rest := copy(r.buf, r.buf[consumed:])
	r.buf = r.buf[:rest]

	return out, errors.Join(errs...)
}

// Buffered returns the number of bytes waiting for the rest of their frame.
func (r *Reassembler[T]) Buffered() int {
	return len(r.buf)
}

// Discarded returns how many stale messages KeepLatest has dropped.
func (r *Reassembler[T]) Discarded() uint64 {
	return r.discarded
}

// Size returns the frame size.
func (r *Reassembler[T]) Size() int {
	return r.size
}
