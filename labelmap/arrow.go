package labelmap

import (
	"fmt"
	"io"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
)

var tableSchema = arrow.NewSchema([]arrow.Field{
	{Name: "supervoxel", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "body", Type: arrow.PrimitiveTypes.Uint64},
}, nil)

// WriteArrow writes the resolved mapping as an Arrow IPC stream with one
// (supervoxel, body) row per mapped label, ordered by supervoxel.
func WriteArrow(w io.Writer, m *Mapping) error {
	table := m.Table()
	svs := make([]uint64, 0, len(table))
	for sv := range table {
		svs = append(svs, sv)
	}
	sort.Slice(svs, func(i, j int) bool { return svs[i] < svs[j] })

	pool := memory.NewGoAllocator()
	svBuilder := array.NewUint64Builder(pool)
	defer svBuilder.Release()
	bodyBuilder := array.NewUint64Builder(pool)
	defer bodyBuilder.Release()
	for _, sv := range svs {
		svBuilder.Append(sv)
		bodyBuilder.Append(table[sv])
	}
	svArray := svBuilder.NewArray()
	defer svArray.Release()
	bodyArray := bodyBuilder.NewArray()
	defer bodyArray.Release()

	record := array.NewRecord(tableSchema, []arrow.Array{svArray, bodyArray}, int64(len(svs)))
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(tableSchema), ipc.WithAllocator(pool))
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write label table: %v", err)
	}
	return writer.Close()
}

// ReadArrow reads a stream written by WriteArrow.
func ReadArrow(r io.Reader) (*Mapping, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open label table: %v", err)
	}
	defer reader.Release()
	if !reader.Schema().Equal(tableSchema) {
		return nil, fmt.Errorf("unexpected label table schema: %s", reader.Schema())
	}
	m := NewMapping()
	for reader.Next() {
		record := reader.Record()
		svs, ok1 := record.Column(0).(*array.Uint64)
		bodies, ok2 := record.Column(1).(*array.Uint64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("label table columns are not uint64")
		}
		for i := 0; i < svs.Len(); i++ {
			m.Set(svs.Value(i), bodies.Value(i))
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read label table: %v", err)
	}
	return m, nil
}
