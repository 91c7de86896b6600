package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"portaria/internal/model"
)

var (
	ErrNotFound       = errors.New("log source not found")
	ErrEmptyInput     = errors.New("log source has no records")
	ErrMalformedInput = errors.New("log source is malformed")
)

type Options struct {
	Delimiter rune
}

func DefaultOptions() Options {
	return Options{Delimiter: ','}
}

// OptionsFor turns the configured delimiter string into loader options.
func OptionsFor(delimiter string) Options {
	opts := DefaultOptions()
	if r := []rune(delimiter); len(r) == 1 {
		opts.Delimiter = r[0]
	}
	return opts
}

// Load reads the delimited log at path.
func Load(path string, opts Options) (model.RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.RawTable{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return model.RawTable{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return LoadReader(f, path, opts)
}

func LoadReader(r io.Reader, name string, opts Options) (model.RawTable, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	cr := csv.NewReader(bufio.NewReader(r))
	cr.Comma = opts.Delimiter
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return model.RawTable{}, fmt.Errorf("%w: %s", ErrEmptyInput, name)
	}
	if err != nil {
		return model.RawTable{}, fmt.Errorf("%w: %s: header: %v", ErrMalformedInput, name, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if missing := missingColumns(header); len(missing) > 0 {
		return model.RawTable{}, fmt.Errorf("%w: %s: missing columns %s", ErrMalformedInput, name, strings.Join(missing, ", "))
	}

	out := model.RawTable{Source: name, Header: header}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.RawTable{}, fmt.Errorf("%w: %s: %v", ErrMalformedInput, name, err)
		}
		if isBlank(record) {
			continue
		}
		out.Records = append(out.Records, record)
	}
	if len(out.Records) == 0 {
		return model.RawTable{}, fmt.Errorf("%w: %s", ErrEmptyInput, name)
	}
	return out, nil
}

func missingColumns(header []string) []string {
	present := make(map[string]struct{}, len(header))
	for _, name := range header {
		present[strings.TrimSpace(name)] = struct{}{}
	}
	var missing []string
	for _, name := range model.RequiredColumns {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
