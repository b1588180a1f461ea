package datasets

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/parquet/file"
	"github.com/apache/arrow/go/v13/parquet/pqarrow"

	"github.com/promptforge/teleprompt/pkg/core"
	"github.com/promptforge/teleprompt/pkg/errors"
)

// LoadParquet reads string columns from a Parquet file into an
// InMemoryDataset. Every named column becomes an example field; inputKeys
// declares which of them are inputs.
func LoadParquet(ctx context.Context, path string, columns []string, inputKeys ...string) (*InMemoryDataset, error) {
	if len(columns) == 0 {
		return nil, errors.New(errors.InvalidConfig, "at least one column is required")
	}

	reader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to open parquet file")
	}
	defer reader.Close()

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to create arrow reader")
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to read parquet schema")
	}

	columnIndices := make([]int, len(columns))
	for i, column := range columns {
		indices := schema.FieldIndices(column)
		if len(indices) == 0 {
			return nil, errors.WithFields(
				errors.New(errors.InvalidInput, "column not found in parquet schema"),
				errors.Fields{"column": column})
		}
		columnIndices[i] = indices[0]
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to read parquet table")
	}
	defer table.Release()

	rows := int(table.NumRows())
	examples := make([]core.Example, 0, rows)

	for row := 0; row < rows; row++ {
		fields := make(map[string]interface{}, len(columns))
		for i, column := range columns {
			chunked := table.Column(columnIndices[i]).Data()

			// Locate the chunk containing this row.
			offset := row
			var value string
			for _, chunk := range chunked.Chunks() {
				if offset < chunk.Len() {
					strs, ok := chunk.(*array.String)
					if !ok {
						return nil, errors.WithFields(
							errors.New(errors.InvalidInput, "column is not a string column"),
							errors.Fields{"column": column, "type": fmt.Sprintf("%T", chunk)})
					}
					value = strs.Value(offset)
					break
				}
				offset -= chunk.Len()
			}
			fields[column] = value
		}

		example, err := core.NewExample(fields, inputKeys...)
		if err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.InvalidInput, "invalid parquet row"),
				errors.Fields{"row": row})
		}
		examples = append(examples, example)
	}

	return NewInMemoryDataset(examples), nil
}
