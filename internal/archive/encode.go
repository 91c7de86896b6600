package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"portaria/internal/model"
)

// EncodeJSONLGZ writes one JSON object per row and gzips the result.
func EncodeJSONLGZ(table model.Table) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(gz)
	for i, ev := range table.Rows {
		if err := enc.Encode(ev); err != nil {
			_ = gz.Close()
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeJSONLGZ reverses EncodeJSONLGZ.
func DecodeJSONLGZ(r io.Reader) (model.Table, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return model.Table{}, err
	}
	defer gz.Close()
	dec := json.NewDecoder(bufio.NewReader(gz))
	var out model.Table
	for {
		var ev model.Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return model.Table{}, fmt.Errorf("decode row %d: %w", out.Len(), err)
		}
		out.Rows = append(out.Rows, ev)
	}
}
