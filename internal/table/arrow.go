package table

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// MediaType is the content type of the encoded columnar stream.
const MediaType = "application/vnd.apache.arrow.stream"

// Encode serializes the table as an Arrow IPC stream: number columns as
// float64, string columns as utf8, date columns as date32. Nil cells become
// Arrow nulls.
func Encode(t *Table) ([]byte, error) {
	fields := make([]arrow.Field, len(t.Columns))
	for i, col := range t.Columns {
		fields[i] = arrow.Field{Name: col.Name, Type: arrowType(col.Type), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for _, row := range t.Rows {
		for i, col := range t.Columns {
			if err := appendCell(builder.Field(i), col.Type, row[i]); err != nil {
				return nil, fmt.Errorf("encoding column %q: %w", col.Name, err)
			}
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := writer.Write(rec); err != nil {
		return nil, fmt.Errorf("writing arrow stream: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing arrow stream: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads an Arrow IPC stream back into a Table.
func Decode(data []byte) (*Table, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening arrow stream: %w", err)
	}
	defer reader.Release()

	schema := reader.Schema()
	cols := make([]Column, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		field := schema.Field(i)
		cols[i] = Column{Name: field.Name, Type: tableType(field.Type)}
	}
	t := &Table{Columns: cols}

	for reader.Next() {
		rec := reader.Record()
		for row := 0; row < int(rec.NumRows()); row++ {
			cells := make([]any, len(cols))
			for c := range cols {
				cells[c] = readCell(rec.Column(c), row)
			}
			t.Rows = append(t.Rows, cells)
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading arrow stream: %w", err)
	}
	return t, nil
}

func arrowType(kind ColumnType) arrow.DataType {
	switch kind {
	case TypeNumber:
		return arrow.PrimitiveTypes.Float64
	case TypeDate:
		return arrow.FixedWidthTypes.Date32
	default:
		return arrow.BinaryTypes.String
	}
}

func tableType(dt arrow.DataType) ColumnType {
	switch dt.ID() {
	case arrow.FLOAT64:
		return TypeNumber
	case arrow.DATE32:
		return TypeDate
	default:
		return TypeString
	}
}

func appendCell(b array.Builder, kind ColumnType, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch kind {
	case TypeNumber:
		fb, ok := b.(*array.Float64Builder)
		if !ok {
			return fmt.Errorf("builder type mismatch for number column")
		}
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("number column holds %T", v)
		}
		fb.Append(f)
	case TypeDate:
		db, ok := b.(*array.Date32Builder)
		if !ok {
			return fmt.Errorf("builder type mismatch for date column")
		}
		ts, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("date column holds %T", v)
		}
		db.Append(arrow.Date32FromTime(ts))
	default:
		sb, ok := b.(*array.StringBuilder)
		if !ok {
			return fmt.Errorf("builder type mismatch for string column")
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("string column holds %T", v)
		}
		sb.Append(s)
	}
	return nil
}

func readCell(col arrow.Array, row int) any {
	if col.IsNull(row) {
		return nil
	}
	switch arr := col.(type) {
	case *array.Float64:
		return arr.Value(row)
	case *array.String:
		return arr.Value(row)
	case *array.Date32:
		return arr.Value(row).ToTime()
	default:
		return nil
	}
}
