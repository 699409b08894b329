package network

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecodeBody reads the full response body and reverses any Content-Encoding
// the server applied. Needed because setting Accept-Encoding by hand turns
// off the transport's transparent decompression.
func DecodeBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		reader, err = gzip.NewReader(bytes.NewReader(raw))
	case "deflate":
		reader, err = zlib.NewReader(bytes.NewReader(raw))
	case "br":
		reader = brotli.NewReader(bytes.NewReader(raw))
	default:
		return raw, nil
	}
	if err != nil {
		// A mislabeled encoding is the server's problem; hand back the raw
		// bytes rather than failing the whole fetch.
		return raw, nil
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}
