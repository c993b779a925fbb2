package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/xitongsys/parquet-go-source/local"
)

// ErrEmptyFile is returned when a saved frame has no columns.
var ErrEmptyFile = errors.New("empty frame file")

// Load reads a frame saved by WriteFile, picking the decoder from the file
// extension. Column types are inferred.
func Load(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	var df *dataframe.DataFrame
	switch format {
	case FormatCSV:
		df, err = loadCSV(ctx, path)
	case FormatJSON:
		df, err = loadJSON(ctx, path)
	case FormatParquet:
		df, err = loadParquet(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %s cannot be loaded", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}

	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyFile
	}
	return df, nil
}

func loadCSV(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	nilValue := "NaN" // what ExportToCSV writes for missing values
	return imports.LoadFromCSV(ctx, file, imports.CSVLoadOptions{
		InferDataTypes: true,
		NilValue:       &nilValue,
	})
}

func loadJSON(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	return imports.LoadFromJSON(ctx, bytes.NewReader(data))
}

func loadParquet(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	return imports.LoadFromParquet(ctx, fr)
}
