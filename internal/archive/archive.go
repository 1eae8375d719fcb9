// Package archive persists label archives as gzip-compressed pickle or JSON.
package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hydrogen18/stalecucumber"
	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/tetraminz/sign_labels/internal/labels"
)

// Format names an on-disk encoding.
type Format string

const (
	// FormatPickle is a Python pickle of a dict of dicts. Written with
	// protocol 2, read with protocols 0-5.
	FormatPickle Format = "pickle"
	// FormatJSON is a JSON object of objects.
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned for unsupported format names or payloads.
var ErrUnknownFormat = errors.New("unknown archive format")

const bufSize = 64 * 1024

// ParseFormat validates a format name. Empty means pickle.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPickle, FormatJSON:
		return f, nil
	case "":
		return FormatPickle, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Write serialises a to path, replacing any existing file. The archive is
// written to a temporary file in the same directory and renamed into place.
// It returns the number of compressed bytes written.
func Write(path string, a labels.Archive, format Format) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create archive directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return 0, fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}

	counter := &countingWriter{w: tmp}
	bw := bufio.NewWriterSize(counter, bufSize)
	zw := gzip.NewWriter(bw)
	if err := Encode(zw, a, format); err != nil {
		return fail(err)
	}
	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("close gzip stream: %w", err))
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("flush archive: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync archive: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("chmod archive: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("replace %q: %w", path, err)
	}
	return counter.n, nil
}

// Read loads an archive written by Write or by Python's
// gzip.open(..., "wb") + pickle.dump with any protocol up to 5.
func Read(path string) (labels.Archive, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open archive %q: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(bufio.NewReaderSize(f, bufSize))
	if err != nil {
		return nil, "", fmt.Errorf("open gzip %q: %w", path, err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, "", fmt.Errorf("read archive %q: %w", path, err)
	}
	a, format, err := Decode(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode archive %q: %w", path, err)
	}
	return a, format, nil
}

// Encode writes the uncompressed payload of a in the given format.
func Encode(w io.Writer, a labels.Archive, format Format) error {
	dict := make(map[string]any, len(a))
	for k, e := range a {
		dict[k] = e.Fields()
	}

	switch format {
	case FormatPickle, "":
		if _, err := stalecucumber.NewPickler(w).Pickle(dict); err != nil {
			return fmt.Errorf("pickle archive: %w", err)
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(dict); err != nil {
			return fmt.Errorf("encode archive json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Decode sniffs the payload format and parses it. JSON archives start with
// '{'; anything else is unpickled.
func Decode(payload []byte) (labels.Archive, Format, error) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrUnknownFormat)
	}

	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var raw map[string]map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, "", fmt.Errorf("parse archive json: %w", err)
		}
		a := make(labels.Archive, len(raw))
		for k, fields := range raw {
			e, err := labels.EntryFromFields(fields)
			if err != nil {
				return nil, "", fmt.Errorf("entry %q: %w", k, err)
			}
			a[k] = e
		}
		return a, FormatJSON, nil
	}

	u := pickle.NewUnpickler(bytes.NewReader(payload))
	v, err := u.Load()
	if err != nil {
		return nil, "", fmt.Errorf("%w: unpickle: %v", ErrUnknownFormat, err)
	}
	top, ok := v.(*types.Dict)
	if !ok {
		return nil, "", fmt.Errorf("pickled archive is %T, want dict", v)
	}
	a := make(labels.Archive, top.Len())
	for _, rawKey := range top.Keys() {
		key, ok := rawKey.(string)
		if !ok {
			return nil, "", fmt.Errorf("pickled archive key %v is %T, want str", rawKey, rawKey)
		}
		rawEntry, _ := top.Get(rawKey)
		fields, ok := normalize(rawEntry).(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("entry %q is %T, want dict", key, rawEntry)
		}
		e, err := labels.EntryFromFields(fields)
		if err != nil {
			return nil, "", fmt.Errorf("entry %q: %w", key, err)
		}
		a[key] = e
	}
	return a, FormatPickle, nil
}

// normalize turns unpickled containers into JSON-friendly Go values.
func normalize(v any) any {
	switch t := v.(type) {
	case *types.Dict:
		out := make(map[string]any, t.Len())
		for _, k := range t.Keys() {
			item, _ := t.Get(k)
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case *types.List:
		out := make([]any, t.Len())
		for i := range out {
			out[i] = normalize(t.Get(i))
		}
		return out
	case *types.Tuple:
		return normalizeItems(*t)
	case types.Tuple:
		return normalizeItems(t)
	default:
		return v
	}
}

func normalizeItems(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = normalize(item)
	}
	return out
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
