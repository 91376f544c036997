package protocol

import "fmt"

// ByteRange is a half-open [Start, End) region of a message's binary buffer.
type ByteRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r ByteRange) Len() int {
	return r.End - r.Start
}

// Slice returns the region of buf covered by r without copying.
func (r ByteRange) Slice(buf []byte) ([]byte, error) {
	if r.Start < 0 || r.End < r.Start || r.End > len(buf) {
		return nil, fmt.Errorf("byte range %d..%d out of bounds for buffer of %d bytes", r.Start, r.End, len(buf))
	}
	return buf[r.Start:r.End:r.End], nil
}

// Packer appends byte slices into one shared buffer.
type Packer struct {
	buf []byte
}

// Pack appends data and returns its range in the buffer.
func (p *Packer) Pack(data []byte) ByteRange {
	start := len(p.buf)
	p.buf = append(p.buf, data...)
	return ByteRange{Start: start, End: len(p.buf)}
}

// Bytes returns the packed buffer, or nil when nothing was packed.
func (p *Packer) Bytes() []byte {
	if len(p.buf) == 0 {
		return nil
	}
	return p.buf
}
