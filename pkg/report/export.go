package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/exports"
	"github.com/xitongsys/parquet-go-source/local"
)

// Format is an output encoding for frames.
type Format string

// Supported formats
const (
	FormatTable   Format = "table"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// Errors
var (
	ErrUnknownFormat = errors.New("unknown format")
	ErrNeedsFile     = errors.New("format can only be written to a file")
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatCSV, FormatJSON, FormatParquet:
		return f, nil
	case "":
		return FormatTable, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json", ".jsonl":
		return FormatJSON, nil
	case ".parquet":
		return FormatParquet, nil
	case ".txt":
		return FormatTable, nil
	}
	return "", fmt.Errorf("%w: extension of %q", ErrUnknownFormat, path)
}

// Write encodes df to w. Parquet needs a seekable local file; use WriteFile.
func Write(ctx context.Context, w io.Writer, df *dataframe.DataFrame, format Format) error {
	switch format {
	case FormatTable:
		_, err := io.WriteString(w, df.Table())
		return err
	case FormatCSV:
		return exports.ExportToCSV(ctx, w, df)
	case FormatJSON:
		return exports.ExportToJSON(ctx, w, df)
	case FormatParquet:
		return ErrNeedsFile
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// WriteFile encodes df to the file at path, replacing it.
func WriteFile(ctx context.Context, path string, df *dataframe.DataFrame, format Format) error {
	if format == FormatParquet {
		fw, err := local.NewLocalFileWriter(path)
		if err != nil {
			return err
		}
		if err := exports.ExportToParquet(ctx, fw, df); err != nil {
			fw.Close()
			return err
		}
		return fw.Close()
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(ctx, f, df, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
