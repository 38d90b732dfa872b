package store

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Every stored blob starts with one of these tags.
const (
	tagRaw  byte = 0
	tagZstd byte = 1
)

var errBadBlob = errors.New("unknown blob encoding")

type codec struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

func newCodec(threshold int) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("store: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("store: zstd decoder: %w", err)
	}
	return &codec{threshold: threshold, enc: enc, dec: dec}, nil
}

func (c *codec) encode(data []byte) []byte {
	if c.threshold > 0 && len(data) > c.threshold {
		out := make([]byte, 1, len(data)/2+1)
		out[0] = tagZstd
		return c.enc.EncodeAll(data, out)
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, tagRaw)
	return append(out, data...)
}

func (c *codec) decode(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, errBadBlob
	}
	switch blob[0] {
	case tagRaw:
		return append([]byte(nil), blob[1:]...), nil
	case tagZstd:
		return c.dec.DecodeAll(blob[1:], nil)
	default:
		return nil, fmt.Errorf("%w: tag %d", errBadBlob, blob[0])
	}
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
