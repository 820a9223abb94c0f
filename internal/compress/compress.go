// Package compress encodes payloads for HTTP: whole-buffer compression for
// outbound exports and streaming writers with Accept-Encoding negotiation
// for API responses.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Algorithms.
const (
	None   = "none"
	Gzip   = "gzip"
	Zstd   = "zstd"
	Zlib   = "zlib"
	Snappy = "snappy"
)

// ResponseAlgorithms are the algorithms offered to API clients, in server
// preference order.
var ResponseAlgorithms = []string{Zstd, Gzip, Zlib}

// Valid reports whether alg is a known algorithm.
func Valid(alg string) bool {
	switch alg {
	case "", None, Gzip, Zstd, Zlib, Snappy:
		return true
	default:
		return false
	}
}

// ContentEncoding returns the Content-Encoding token for alg, or "" for no
// encoding.
func ContentEncoding(alg string) string {
	switch alg {
	case Gzip, Zstd, Snappy:
		return alg
	case Zlib:
		return "deflate"
	default:
		return ""
	}
}

func fromContentEncoding(token string) string {
	switch token {
	case "gzip", "x-gzip":
		return Gzip
	case "deflate":
		return Zlib
	case "zstd":
		return Zstd
	case "snappy":
		return Snappy
	default:
		return ""
	}
}

// Negotiate picks the algorithm for an Accept-Encoding header. Among the
// encodings the client accepts with a non-zero q-value, the one with the
// highest q wins; ties go to the earliest entry of offered. It returns None
// when nothing matches.
func Negotiate(acceptEncoding string, offered []string) string {
	if acceptEncoding == "" || len(offered) == 0 {
		return None
	}

	accepted := make(map[string]float64, 4)
	wildcard := -1.0

	for _, part := range strings.Split(acceptEncoding, ",") {
		token, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		token = strings.ToLower(strings.TrimSpace(token))

		q := 1.0

		if params = strings.TrimSpace(params); strings.HasPrefix(params, "q=") {
			if v, err := strconv.ParseFloat(params[2:], 64); err == nil {
				q = v
			}
		}

		if token == "*" {
			wildcard = q

			continue
		}

		if alg := fromContentEncoding(token); alg != "" {
			accepted[alg] = q
		}
	}

	best, bestQ := None, 0.0

	for _, alg := range offered {
		q, ok := accepted[alg]
		if !ok {
			q = wildcard
		}

		if q > bestQ {
			best, bestQ = alg, q
		}
	}

	return best
}

// NewWriter wraps w with a streaming encoder for alg. The caller must
// Close the returned writer to flush it.
func NewWriter(alg string, w io.Writer) (io.WriteCloser, error) {
	switch alg {
	case "", None:
		return nopCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case Zlib:
		return zlib.NewWriterLevel(w, zlib.DefaultCompression)
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Compressor compresses whole payloads with one algorithm. It is safe for
// concurrent use.
type Compressor struct {
	algorithm string
	encoder   *zstd.Encoder
}

// NewCompressor creates a compressor for alg.
func NewCompressor(alg string) (*Compressor, error) {
	if !Valid(alg) {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}

	c := &Compressor{algorithm: alg}

	if alg == Zstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.encoder = enc
	}

	return c, nil
}

// Compress returns data encoded with the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case "", None:
		return data, nil
	case Zstd:
		// EncodeAll is safe for concurrent use on a shared encoder.
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case Snappy:
		// Block format; the streaming writer uses the framed format.
		return snappy.Encode(nil, data), nil
	}

	var buf bytes.Buffer

	buf.Grow(len(data) / 2)

	w, err := NewWriter(c.algorithm, &buf)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
	}

	return buf.Bytes(), nil
}

// ContentEncoding returns the Content-Encoding header value.
func (c *Compressor) ContentEncoding() string {
	return ContentEncoding(c.algorithm)
}

// Close releases the encoder.
func (c *Compressor) Close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}

// Decompress decodes a whole payload produced by Compressor.Compress, or by
// NewWriter for the streaming formats when framed is true.
func Decompress(alg string, data []byte, framed bool) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)

	src := bytes.NewReader(data)

	switch alg {
	case "", None:
		return data, nil
	case Gzip:
		var gr *gzip.Reader

		if gr, err = gzip.NewReader(src); err == nil {
			defer gr.Close()

			r = gr
		}
	case Zlib:
		var zr io.ReadCloser

		if zr, err = zlib.NewReader(src); err == nil {
			defer zr.Close()

			r = zr
		}
	case Zstd:
		var dec *zstd.Decoder

		if dec, err = zstd.NewReader(src); err == nil {
			defer dec.Close()

			r = dec
		}
	case Snappy:
		if !framed {
			return snappy.Decode(nil, data)
		}

		r = snappy.NewReader(src)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}

	if err != nil {
		return nil, fmt.Errorf("opening %s reader: %w", alg, err)
	}

	return io.ReadAll(r)
}
