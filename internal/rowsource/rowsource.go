// Package rowsource turns uploaded CSV and XLSX files into core.Upload values.
//
// Text files are read through a small reader chain: the UTF-8 byte order mark
// is dropped, then the bytes are decoded (UTF-8 when valid, Windows-1252
// otherwise, or whatever Options.Encoding forces) before the CSV parser sees
// them. Workbooks are read with excelize from the first sheet that has data.
package rowsource

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

var (
	ErrFileTooLarge       = errors.New("file too large")
	ErrUnsupportedType    = errors.New("unsupported file type")
	ErrInvalidCSV         = errors.New("invalid csv")
	ErrInvalidSpreadsheet = errors.New("invalid spreadsheet")
	ErrEncoding           = errors.New("encoding error")
)

// DefaultMaxFileSize is used when Options.MaxFileSize is zero (100MB).
const DefaultMaxFileSize int64 = 100 << 20

// maxHeaderSearchRows is how many leading blank rows are skipped looking for the header.
const maxHeaderSearchRows = 20

// Format is the detected file type.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatUnknown Format = ""
)

var zipMagic = []byte("PK\x03\x04")

// Options controls parsing. The zero value is usable.
type Options struct {
	// MaxFileSize rejects larger inputs with ErrFileTooLarge.
	MaxFileSize int64

	// MaxRows stops after this many data rows. Zero reads everything.
	MaxRows int

	// Encoding is "auto" (default), "utf-8", "windows-1252" or "iso-8859-1".
	// It only applies to CSV input.
	Encoding string

	// Sheet selects a workbook sheet by name. Empty means the first sheet with data.
	Sheet string
}

func (o Options) maxFileSize() int64 {
	if o.MaxFileSize <= 0 {
		return DefaultMaxFileSize
	}
	return o.MaxFileSize
}

// ReadFile opens path and parses it. The upload's Filename is the base name.
func ReadFile(path string, opts Options) (core.Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.Upload{}, err
	}
	defer f.Close()
	return Read(filepath.Base(path), f, opts)
}

// Read consumes r and parses it as the file called name.
// At most MaxFileSize+1 bytes are read.
func Read(name string, r io.Reader, opts Options) (core.Upload, error) {
	data, err := io.ReadAll(io.LimitReader(r, opts.maxFileSize()+1))
	if err != nil {
		return core.Upload{}, fmt.Errorf("read %s: %w", name, err)
	}
	return Parse(name, data, opts)
}

// Parse builds an Upload from the raw bytes of a file called name.
// Record keys are normalized header names (core.NormalizeHeader); for
// repeated headers the first column wins. Rows whose cells are all blank
// are dropped but keep their place in RowNumbers.
func Parse(name string, data []byte, opts Options) (core.Upload, error) {
	if limit := opts.maxFileSize(); int64(len(data)) > limit {
		return core.Upload{}, fmt.Errorf("%w: exceeds %dMB limit", ErrFileTooLarge, limit/(1024*1024))
	}

	var (
		table [][]string
		err   error
	)
	switch DetectFormat(name, data) {
	case FormatXLSX:
		table, err = readXLSX(data, opts.Sheet)
	case FormatCSV:
		table, err = readCSV(data, opts.Encoding)
	default:
		return core.Upload{}, fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(name))
	}
	if err != nil {
		return core.Upload{}, err
	}

	headers, body := splitHeader(table)
	if headers == nil {
		return core.Upload{}, core.ErrEmptyFile
	}

	rows, numbers := toRecords(headers, body, opts.MaxRows)
	sum := sha256.Sum256(data)
	return core.Upload{
		Filename:   name,
		Checksum:   hex.EncodeToString(sum[:]),
		Headers:    headers,
		Rows:       rows,
		Raw:        data,
		RowNumbers: numbers,
	}, nil
}

// DetectFormat picks a parser from the file extension, falling back to the
// zip signature for extensionless workbooks.
func DetectFormat(name string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv", ".txt", ".tsv":
		return FormatCSV
	case "":
		if bytes.HasPrefix(data, zipMagic) {
			return FormatXLSX
		}
		return FormatCSV
	default:
		return FormatUnknown
	}
}

func readCSV(data []byte, encoding string) ([][]string, error) {
	src, err := textReader(data, encoding)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	return records, nil
}

// splitHeader returns the first non-blank row (within maxHeaderSearchRows)
// as the header and everything after it as the body.
func splitHeader(table [][]string) ([]string, [][]string) {
	for i := 0; i < len(table) && i < maxHeaderSearchRows; i++ {
		if isEmptyRow(table[i]) {
			continue
		}
		headers := make([]string, len(table[i]))
		for j, h := range table[i] {
			headers[j] = strings.TrimSpace(h)
		}
		return headers, table[i+1:]
	}
	return nil, nil
}

// toRecords keys each non-blank body row by normalized header. numbers[i] is
// the 1-based position of records[i] among the body rows, blank ones included.
func toRecords(headers []string, body [][]string, maxRows int) (records []core.Record, numbers []int) {
	keys := make([]string, len(headers))
	seen := make(map[string]bool, len(headers))
	for i, h := range headers {
		k := core.NormalizeHeader(h)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys[i] = k
	}

	records = make([]core.Record, 0, len(body))
	numbers = make([]int, 0, len(body))
	for n, row := range body {
		if maxRows > 0 && len(records) >= maxRows {
			break
		}
		if isEmptyRow(row) {
			continue
		}
		rec := make(core.Record, len(keys))
		for i, k := range keys {
			if k == "" {
				continue
			}
			if i < len(row) {
				rec[k] = row[i]
			} else {
				rec[k] = ""
			}
		}
		records = append(records, rec)
		numbers = append(numbers, n+1)
	}
	return records, numbers
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
