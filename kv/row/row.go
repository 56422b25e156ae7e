// Package row defines the unit of storage of the KVS: a keyed set of named
// columns, and the text-framed wire format rows travel in.
package row

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
)

// Row is a key plus columns. Columns keep the order they were first set in.
type Row struct {
	key   string
	cols  map[string][]byte
	order []string
}

func New(key string) *Row {
	return &Row{key: key, cols: make(map[string][]byte)}
}

func (r *Row) Key() string {
	return r.key
}

// Put sets a column, overwriting any previous value.
func (r *Row) Put(column string, value []byte) {
	if _, ok := r.cols[column]; !ok {
		r.order = append(r.order, column)
	}
	r.cols[column] = value
}

func (r *Row) PutString(column, value string) {
	r.Put(column, []byte(value))
}

// GetBytes returns the raw value of column, nil when absent.
func (r *Row) GetBytes(column string) []byte {
	return r.cols[column]
}

func (r *Row) Get(column string) (string, bool) {
	v, ok := r.cols[column]
	if !ok {
		return "", false
	}
	return string(v), true
}

func (r *Row) Has(column string) bool {
	_, ok := r.cols[column]
	return ok
}

// Columns returns the column names in insertion order.
func (r *Row) Columns() []string {
	cols := make([]string, len(r.order))
	copy(cols, r.order)
	return cols
}

func (r *Row) Len() int {
	return len(r.order)
}

// Clone returns a deep copy; values are copied as well.
func (r *Row) Clone() *Row {
	c := &Row{key: r.key, cols: make(map[string][]byte, len(r.cols)), order: make([]string, len(r.order))}
	copy(c.order, r.order)
	for k, v := range r.cols {
		c.cols[k] = append([]byte(nil), v...)
	}
	return c
}

// Encode serializes the row as `key SP (col SP len SP bytes SP)*`.
func (r *Row) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.key)
	buf.WriteByte(' ')
	for _, col := range r.order {
		v := r.cols[col]
		buf.WriteString(col)
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(len(v)))
		buf.WriteByte(' ')
		buf.Write(v)
		buf.WriteByte(' ')
	}
	return buf.Bytes()
}

func (r *Row) String() string {
	return string(r.Encode())
}

// Decode parses a single encoded row. A trailing LF is accepted.
func Decode(data []byte) (*Row, error) {
	rd := &Reader{r: bufio.NewReader(bytes.NewReader(data)), single: true}
	r, err := rd.Next()
	if err == io.EOF {
		return nil, errors.New("empty row encoding")
	}
	return r, err
}

// Reader reads a stream of encoded rows, each followed by LF, terminated by
// an empty line. Input that ends before the terminator is an
// io.ErrUnexpectedEOF, since writers drop the terminator when they fail
// midway.
type Reader struct {
	r *bufio.Reader
	// single accepts a lone row without LF or terminator.
	single bool
}

func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br}
	}
	return &Reader{r: bufio.NewReader(r)}
}

func (rd *Reader) truncated() error {
	return errors.Annotate(io.ErrUnexpectedEOF, "row stream ended before its terminator")
}

// Next returns the next row, or io.EOF at the stream terminator.
func (rd *Reader) Next() (*Row, error) {
	b, err := rd.r.ReadByte()
	if err == io.EOF {
		if rd.single {
			return nil, io.EOF
		}
		return nil, rd.truncated()
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	if b == '\n' {
		return nil, io.EOF
	}
	if err = rd.r.UnreadByte(); err != nil {
		return nil, errors.WithStack(err)
	}

	key, err := rd.readToken()
	if err != nil {
		return nil, err
	}
	r := New(key)
	for {
		b, err := rd.r.ReadByte()
		if err == io.EOF {
			if rd.single {
				return r, nil
			}
			return nil, rd.truncated()
		} else if err != nil {
			return nil, errors.WithStack(err)
		}
		if b == '\n' {
			return r, nil
		}
		if err = rd.r.UnreadByte(); err != nil {
			return nil, errors.WithStack(err)
		}
		col, err := rd.readToken()
		if err != nil {
			return nil, err
		}
		lenStr, err := rd.readToken()
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(lenStr)
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid value length %q for column %q of row %q", lenStr, col, key)
		}
		val := make([]byte, n)
		if _, err = io.ReadFull(rd.r, val); err != nil {
			return nil, errors.Annotatef(io.ErrUnexpectedEOF, "value of column %q of row %q", col, key)
		}
		sep, err := rd.r.ReadByte()
		if err != nil || sep != ' ' {
			return nil, errors.Errorf("missing separator after column %q of row %q", col, key)
		}
		r.Put(col, val)
	}
}

func (rd *Reader) readToken() (string, error) {
	tok, err := rd.r.ReadString(' ')
	if err == io.EOF {
		return "", errors.WithStack(io.ErrUnexpectedEOF)
	} else if err != nil {
		return "", errors.WithStack(err)
	}
	tok = tok[:len(tok)-1]
	if strings.IndexByte(tok, '\n') >= 0 {
		return "", errors.Errorf("unexpected line break in token %q", tok)
	}
	return tok, nil
}

// Writer writes a row stream in the format Reader consumes.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (wr *Writer) Write(r *Row) error {
	buf := append(r.Encode(), '\n')
	_, err := wr.w.Write(buf)
	return errors.WithStack(err)
}

// Close writes the stream terminator. It does not close the underlying writer.
func (wr *Writer) Close() error {
	_, err := wr.w.Write([]byte{'\n'})
	return errors.WithStack(err)
}
