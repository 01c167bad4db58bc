package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeBody reverses the Content-Encoding chain applied to body. The second
// result is false when body was returned untouched, either because it was not
// encoded or because one of the codings is not supported. Decoded output is
// capped at limit bytes (no cap when limit <= 0).
func decodeBody(body []byte, encodings []string, limit int64) ([]byte, bool, error) {
	var codings []string
	for _, v := range encodings {
		for _, c := range strings.Split(v, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && c != "identity" {
				codings = append(codings, c)
			}
		}
	}
	if len(codings) == 0 {
		return body, false, nil
	}
	for _, c := range codings {
		if !supportedCoding(c) {
			return body, false, nil
		}
	}

	out := body
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		if out, err = decodeOne(out, codings[i], limit); err != nil {
			if errors.Is(err, ErrPayloadTooLarge) {
				return nil, false, err
			}
			return nil, false, fmt.Errorf("%w: decode %s body: %w", ErrRequestFailed, codings[i], err)
		}
	}
	return out, true, nil
}

func supportedCoding(c string) bool {
	switch c {
	case "gzip", "x-gzip", "deflate", "br", "zstd":
		return true
	}
	return false
}

func decodeOne(body []byte, coding string, limit int64) ([]byte, error) {
	var r io.Reader
	switch coding {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		r = gz
	case "deflate":
		// "deflate" is zlib-wrapped per RFC 9110, but some servers send raw DEFLATE.
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(body))
			defer func() { _ = fr.Close() }()
			r = fr
		} else {
			defer func() { _ = zr.Close() }()
			r = zr
		}
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}

	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: decoded body exceeds %d bytes", ErrPayloadTooLarge, limit)
	}
	return out, nil
}
