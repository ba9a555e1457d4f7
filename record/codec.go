package record

import (
	stderr "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/roadrunner-server/errors"
	"go.uber.org/multierr"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode indicates a stored record could not be decoded (corrupted or foreign data).
var ErrDecode = stderr.New("invalid cache record")

const (
	flagRaw  byte = 0
	flagZstd byte = 1
)

// Record
const (
	fieldVariant protowire.Number = 1
)

// Variant
const (
	fieldRequestHeader  protowire.Number = 1
	fieldResponseHeader protowire.Number = 2
	fieldStatus         protowire.Number = 3
	fieldBody           protowire.Number = 4
	fieldStoredAt       protowire.Number = 5
)

// Header
const (
	fieldName  protowire.Number = 1
	fieldValue protowire.Number = 2
)

// Codec turns records into bytes and back.
// The payload is a single flag byte followed by the protobuf wire encoding of
// the record, optionally zstd-compressed. Safe for concurrent use.
type Codec struct {
	compress  bool
	threshold int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a codec. When compress is true, encoded records larger than threshold bytes are zstd-compressed.
func NewCodec(compress bool, threshold int) (*Codec, error) {
	const op = errors.Op("record_codec_new")

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.E(op, err)
	}

	c := &Codec{
		compress:  compress,
		threshold: threshold,
		dec:       dec,
	}

	if compress {
		c.enc, err = zstd.NewWriter(nil)
		if err != nil {
			dec.Close()
			return nil, errors.E(op, err)
		}
	}

	return c, nil
}

// Encode serializes the record.
func (c *Codec) Encode(r *Record) ([]byte, error) {
	const op = errors.Op("record_encode")

	if r == nil {
		return nil, errors.E(op, "record cannot be nil")
	}

	payload := make([]byte, 1, 256)
	payload[0] = flagRaw

	for i := 0; i < len(r.Variants); i++ {
		payload = protowire.AppendTag(payload, fieldVariant, protowire.BytesType)
		payload = protowire.AppendBytes(payload, appendVariant(nil, r.Variants[i]))
	}

	if c.enc == nil || len(payload)-1 <= c.threshold {
		return payload, nil
	}

	out := make([]byte, 1, len(payload)/2+1)
	out[0] = flagZstd
	return c.enc.EncodeAll(payload[1:], out), nil
}

// Decode parses bytes produced by Encode. Errors wrap ErrDecode.
func (c *Codec) Decode(data []byte) (*Record, error) {
	const op = errors.Op("record_decode")

	if len(data) == 0 {
		return nil, errors.E(op, ErrDecode)
	}

	payload := data[1:]
	switch data[0] {
	case flagRaw:
	case flagZstd:
		var err error
		payload, err = c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, errors.E(op, fmt.Errorf("%w: %w", ErrDecode, err))
		}
	default:
		return nil, errors.E(op, fmt.Errorf("%w: unknown flag %d", ErrDecode, data[0]))
	}

	r := &Record{}
	err := consumeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldVariant || typ != protowire.BytesType {
			return skip(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		variant, err := consumeVariant(v)
		if err != nil {
			return 0, err
		}
		r.Variants = append(r.Variants, variant)
		return n, nil
	})
	if err != nil {
		return nil, errors.E(op, fmt.Errorf("%w: %w", ErrDecode, err))
	}

	return r, nil
}

// Close releases the zstd encoder and decoder.
func (c *Codec) Close() error {
	var err error
	if c.enc != nil {
		err = multierr.Append(err, c.enc.Close())
	}
	c.dec.Close()
	return err
}

func appendVariant(b []byte, v *Variant) []byte {
	b = appendHeader(b, fieldRequestHeader, v.RequestHeaders)
	b = appendHeader(b, fieldResponseHeader, v.ResponseHeaders)

	b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.StatusCode)) //nolint:gosec

	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, v.Body)

	if !v.StoredAt.IsZero() {
		b = protowire.AppendTag(b, fieldStoredAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.StoredAt.UnixNano())) //nolint:gosec
	}

	return b
}

func appendHeader(b []byte, num protowire.Number, hdr http.Header) []byte {
	for name, values := range hdr {
		var h []byte
		h = protowire.AppendTag(h, fieldName, protowire.BytesType)
		h = protowire.AppendString(h, name)
		for i := 0; i < len(values); i++ {
			h = protowire.AppendTag(h, fieldValue, protowire.BytesType)
			h = protowire.AppendString(h, values[i])
		}

		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, h)
	}

	return b
}

func consumeVariant(b []byte) (*Variant, error) {
	v := &Variant{
		RequestHeaders:  http.Header{},
		ResponseHeaders: http.Header{},
	}

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case (num == fieldRequestHeader || num == fieldResponseHeader) && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			dst := v.RequestHeaders
			if num == fieldResponseHeader {
				dst = v.ResponseHeaders
			}
			if err := consumeHeader(raw, dst); err != nil {
				return 0, err
			}
			return n, nil
		case num == fieldStatus && typ == protowire.VarintType:
			code, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			v.StatusCode = int(code) //nolint:gosec
			return n, nil
		case num == fieldBody && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			v.Body = append([]byte(nil), body...)
			return n, nil
		case num == fieldStoredAt && typ == protowire.VarintType:
			ts, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			v.StoredAt = time.Unix(0, int64(ts)) //nolint:gosec
			return n, nil
		default:
			return skip(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}

	return v, nil
}

func consumeHeader(b []byte, dst http.Header) error {
	var name string
	var values []string

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType || (num != fieldName && num != fieldValue) {
			return skip(num, typ, b)
		}
		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if num == fieldName {
			name = s
		} else {
			values = append(values, s)
		}
		return n, nil
	})
	if err != nil {
		return err
	}

	if name == "" {
		return stderr.New("header without name")
	}

	// names were canonical when encoded, keep them as they are
	dst[name] = append(dst[name], values...)
	return nil
}

// consumeFields walks the fields of a message, fn consumes the value and returns its length.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}
