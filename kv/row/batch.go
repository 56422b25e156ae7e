package row

import (
	"bytes"

	"github.com/pingcap/errors"
)

// Separators of batch request bodies. They are not escaped; data containing
// them cannot be sent in a batch.
const (
	RecordSeparator = "\x1e\x1d"
	UnitSeparator   = "\x1f\x1c"
)

// NullValue stands for a missing cell in a batch get response.
const NullValue = "__NULL__"

// Cell addresses one value of a table.
type Cell struct {
	Row    string
	Column string
	Value  []byte
}

// EncodeCells joins `row US column US value` tuples with RS.
func EncodeCells(cells []Cell) []byte {
	var buf bytes.Buffer
	for i, c := range cells {
		if i > 0 {
			buf.WriteString(RecordSeparator)
		}
		buf.WriteString(c.Row)
		buf.WriteString(UnitSeparator)
		buf.WriteString(c.Column)
		buf.WriteString(UnitSeparator)
		buf.Write(c.Value)
	}
	return buf.Bytes()
}

func DecodeCells(data []byte) ([]Cell, error) {
	if len(data) == 0 {
		return nil, nil
	}
	records := bytes.Split(data, []byte(RecordSeparator))
	cells := make([]Cell, 0, len(records))
	for i, rec := range records {
		parts := bytes.SplitN(rec, []byte(UnitSeparator), 3)
		if len(parts) != 3 {
			return nil, errors.Errorf("batch record %d has %d fields, want 3", i, len(parts))
		}
		cells = append(cells, Cell{Row: string(parts[0]), Column: string(parts[1]), Value: parts[2]})
	}
	return cells, nil
}

// EncodeKeys joins row keys with RS.
func EncodeKeys(keys []string) []byte {
	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteString(RecordSeparator)
		}
		buf.WriteString(k)
	}
	return buf.Bytes()
}

func DecodeKeys(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(data, []byte(RecordSeparator))
	keys := make([]string, len(parts))
	for i, p := range parts {
		keys[i] = string(p)
	}
	return keys
}

// EncodeValues joins values with RS, writing NullValue for nil entries.
func EncodeValues(values [][]byte) []byte {
	var buf bytes.Buffer
	for i, v := range values {
		if i > 0 {
			buf.WriteString(RecordSeparator)
		}
		if v == nil {
			buf.WriteString(NullValue)
		} else {
			buf.Write(v)
		}
	}
	return buf.Bytes()
}

// DecodeValues expects exactly n values; NullValue decodes to nil.
func DecodeValues(data []byte, n int) ([][]byte, error) {
	if n == 0 {
		return nil, nil
	}
	parts := bytes.Split(data, []byte(RecordSeparator))
	if len(parts) != n {
		return nil, errors.Errorf("got %d values, want %d", len(parts), n)
	}
	values := make([][]byte, n)
	for i, p := range parts {
		if string(p) != NullValue {
			values[i] = p
		}
	}
	return values, nil
}
