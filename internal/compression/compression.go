// Package compression turns state snapshots into compact, signed, URL-safe tokens.
//
// Token layout before base64url (no padding) encoding:
//
//	magic "CS" | version (1 byte) | codec (1 byte) | payload | HMAC-SHA256 tag (32 bytes)
//
// The tag covers everything before it. Payloads under the compression
// threshold are stored raw; larger ones are zstd-compressed when that helps.
package compression

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	magic0, magic1 = 'C', 'S'
	// Version is the current token format version.
	Version byte = 1

	headerSize = 4
	tagSize    = sha256.Size

	// DefaultThreshold is the payload size below which compression is skipped.
	DefaultThreshold = 128
	// DefaultMaxSize caps the decoded snapshot size.
	DefaultMaxSize = 256 << 10
)

// Codec identifiers.
const (
	CodecRaw  byte = 0
	CodecZstd byte = 1
)

var (
	ErrMalformed          = errors.New("malformed snapshot token")
	ErrBadSignature       = errors.New("snapshot signature mismatch")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	ErrTooLarge           = errors.New("snapshot too large")
)

// Codec encodes and decodes snapshots. It is safe for concurrent use.
type Codec struct {
	key       []byte
	threshold int
	maxSize   int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// Option configures a Codec.
type Option func(*Codec)

// WithThreshold sets the payload size below which compression is skipped.
func WithThreshold(n int) Option {
	return func(c *Codec) { c.threshold = n }
}

// WithMaxSize caps the decoded payload size.
func WithMaxSize(n int) Option {
	return func(c *Codec) { c.maxSize = n }
}

// New creates a codec that signs tokens with key.
func New(key []byte, opts ...Option) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("compression: signing key is required")
	}
	c := &Codec{
		key:       append([]byte(nil), key...),
		threshold: DefaultThreshold,
		maxSize:   DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	c.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("compression: create encoder: %w", err)
	}
	c.decoder, err = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(uint64(c.maxSize)),
		zstd.WithDecoderConcurrency(0),
	)
	if err != nil {
		return nil, fmt.Errorf("compression: create decoder: %w", err)
	}
	return c, nil
}

// Close releases the decoder's goroutines.
func (c *Codec) Close() {
	c.decoder.Close()
}

// Encode serializes v as JSON and wraps it in a signed token.
func (c *Codec) Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("compression: marshal snapshot: %w", err)
	}
	if len(raw) > c.maxSize {
		return "", ErrTooLarge
	}

	codec, payload := CodecRaw, raw
	if len(raw) >= c.threshold {
		if compressed := c.encoder.EncodeAll(raw, nil); len(compressed) < len(raw) {
			codec, payload = CodecZstd, compressed
		}
	}

	buf := make([]byte, 0, headerSize+len(payload)+tagSize)
	buf = append(buf, magic0, magic1, Version, codec)
	buf = append(buf, payload...)
	buf = append(buf, c.sign(buf)...)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Decode verifies token and unmarshals the snapshot into v.
func (c *Codec) Decode(token string, v any) error {
	raw, _, err := c.open(token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Stats describes an encoded token.
type Stats struct {
	Codec        string  `json:"codec"`
	RawBytes     int     `json:"raw_bytes"`
	PayloadBytes int     `json:"payload_bytes"`
	TokenBytes   int     `json:"token_bytes"`
	Ratio        float64 `json:"ratio"`
}

// Stats verifies token and reports its raw and encoded sizes.
func (c *Codec) Stats(token string) (Stats, error) {
	raw, codec, err := c.open(token)
	if err != nil {
		return Stats{}, err
	}
	payload := base64.RawURLEncoding.DecodedLen(len(token)) - headerSize - tagSize
	s := Stats{
		Codec:        "raw",
		RawBytes:     len(raw),
		PayloadBytes: payload,
		TokenBytes:   len(token),
	}
	if codec == CodecZstd {
		s.Codec = "zstd"
	}
	if len(raw) > 0 {
		s.Ratio = float64(payload) / float64(len(raw))
	}
	return s, nil
}

// open checks the token and returns the decompressed payload and its codec.
func (c *Codec) open(token string) ([]byte, byte, error) {
	if base64.RawURLEncoding.DecodedLen(len(token)) > c.maxSize+headerSize+tagSize {
		return nil, 0, ErrTooLarge
	}
	buf, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(buf) < headerSize+tagSize || buf[0] != magic0 || buf[1] != magic1 {
		return nil, 0, ErrMalformed
	}
	if buf[2] != Version {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, buf[2])
	}

	body, tag := buf[:len(buf)-tagSize], buf[len(buf)-tagSize:]
	if !hmac.Equal(tag, c.sign(body)) {
		return nil, 0, ErrBadSignature
	}

	codec, payload := buf[3], body[headerSize:]
	switch codec {
	case CodecRaw:
		return payload, codec, nil
	case CodecZstd:
		out, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
				return nil, 0, ErrTooLarge
			}
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(out) > c.maxSize {
			return nil, 0, ErrTooLarge
		}
		return out, codec, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown codec %d", ErrMalformed, codec)
	}
}

func (c *Codec) sign(b []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(b)
	return mac.Sum(nil)
}
