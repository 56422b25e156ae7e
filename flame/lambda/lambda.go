// Package lambda holds the named user functions Flame operations refer to.
// Functions are registered in init functions of packages linked into both
// the driver and the workers, so an operation only ships a name.
package lambda

import (
	"fmt"
	"sync"

	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/pingcap/errors"
)

// Kind is the signature family of a registered function.
type Kind string

const (
	KindNone                 Kind = ""
	KindStringToIterable     Kind = "StringToIterable"
	KindStringToPairIterable Kind = "StringToPairIterable"
	KindStringToPair         Kind = "StringToPair"
	KindStringToString       Kind = "StringToString"
	KindStringToBool         Kind = "StringToBool"
	KindIteratorToIterator   Kind = "IteratorToIterator"
	KindRowToString          Kind = "RowToString"
	KindRowToPair            Kind = "RowToPair"
	KindTwoStringsToString   Kind = "TwoStringsToString"
	KindPairToStringIterable Kind = "PairToStringIterable"
	KindPairToPairIterable   Kind = "PairToPairIterable"
)

// Pair is a key and a value of a pair RDD.
type Pair struct {
	Key   string
	Value string
}

func (p Pair) String() string {
	return "(" + p.Key + "," + p.Value + ")"
}

// Function signatures. A false result stands for "no value": the element is
// dropped from the output.
type (
	StringToIterable     func(s string) ([]string, error)
	StringToPairIterable func(s string) ([]Pair, error)
	StringToPair         func(s string) (Pair, bool)
	StringToString       func(s string) (string, bool)
	StringToBool         func(s string) bool
	IteratorToIterator   func(values []string) ([]string, error)
	RowToString          func(r *row.Row) (string, bool)
	RowToPair            func(r *row.Row) (Pair, bool)
	TwoStringsToString   func(a, b string) (string, bool)
	PairToStringIterable func(p Pair) ([]string, error)
	PairToPairIterable   func(p Pair) ([]Pair, error)
)

// CommaJoin is the fold used by groupBy: it joins values with ",".
const CommaJoin = "flame.commaJoin"

var registry = struct {
	sync.RWMutex
	funcs map[string]interface{}
}{funcs: make(map[string]interface{})}

func kindOf(fn interface{}) Kind {
	switch fn.(type) {
	case StringToIterable, func(string) ([]string, error):
		return KindStringToIterable
	case StringToPairIterable, func(string) ([]Pair, error):
		return KindStringToPairIterable
	case StringToPair, func(string) (Pair, bool):
		return KindStringToPair
	case StringToString, func(string) (string, bool):
		return KindStringToString
	case StringToBool, func(string) bool:
		return KindStringToBool
	case IteratorToIterator, func([]string) ([]string, error):
		return KindIteratorToIterator
	case RowToString, func(*row.Row) (string, bool):
		return KindRowToString
	case RowToPair, func(*row.Row) (Pair, bool):
		return KindRowToPair
	case TwoStringsToString, func(string, string) (string, bool):
		return KindTwoStringsToString
	case PairToStringIterable, func(Pair) ([]string, error):
		return KindPairToStringIterable
	case PairToPairIterable, func(Pair) ([]Pair, error):
		return KindPairToPairIterable
	}
	return KindNone
}

// Register adds a named function. It panics on a duplicate name or a value
// that is not one of the function signatures, like http.Handle does.
func Register(name string, fn interface{}) {
	if name == "" {
		panic("lambda: empty function name")
	}
	kind := kindOf(fn)
	if kind == KindNone {
		panic(fmt.Sprintf("lambda: %s has unsupported type %T", name, fn))
	}
	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.funcs[name]; dup {
		panic("lambda: duplicate function " + name)
	}
	registry.funcs[name] = fn
}

// KindOf returns the kind of a registered function.
func KindOf(name string) (Kind, bool) {
	registry.RLock()
	fn, ok := registry.funcs[name]
	registry.RUnlock()
	if !ok {
		return KindNone, false
	}
	return kindOf(fn), true
}

// UnknownFunctionErr is returned for a name missing from the registry or
// registered with another kind.
type UnknownFunctionErr struct {
	Name string
	Want Kind
}

func (e UnknownFunctionErr) Error() string {
	return fmt.Sprintf("no %s function registered as %q", e.Want, e.Name)
}

func lookup(name string, want Kind) (interface{}, error) {
	registry.RLock()
	fn, ok := registry.funcs[name]
	registry.RUnlock()
	if !ok || kindOf(fn) != want {
		return nil, errors.WithStack(UnknownFunctionErr{Name: name, Want: want})
	}
	return fn, nil
}

func GetStringToIterable(name string) (StringToIterable, error) {
	fn, err := lookup(name, KindStringToIterable)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case StringToIterable:
		return f, nil
	default:
		return StringToIterable(f.(func(string) ([]string, error))), nil
	}
}

func GetStringToPairIterable(name string) (StringToPairIterable, error) {
	fn, err := lookup(name, KindStringToPairIterable)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case StringToPairIterable:
		return f, nil
	default:
		return StringToPairIterable(f.(func(string) ([]Pair, error))), nil
	}
}

func GetStringToPair(name string) (StringToPair, error) {
	fn, err := lookup(name, KindStringToPair)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case StringToPair:
		return f, nil
	default:
		return StringToPair(f.(func(string) (Pair, bool))), nil
	}
}

func GetStringToString(name string) (StringToString, error) {
	fn, err := lookup(name, KindStringToString)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case StringToString:
		return f, nil
	default:
		return StringToString(f.(func(string) (string, bool))), nil
	}
}

func GetStringToBool(name string) (StringToBool, error) {
	fn, err := lookup(name, KindStringToBool)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case StringToBool:
		return f, nil
	default:
		return StringToBool(f.(func(string) bool)), nil
	}
}

func GetIteratorToIterator(name string) (IteratorToIterator, error) {
	fn, err := lookup(name, KindIteratorToIterator)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case IteratorToIterator:
		return f, nil
	default:
		return IteratorToIterator(f.(func([]string) ([]string, error))), nil
	}
}

func GetRowToString(name string) (RowToString, error) {
	fn, err := lookup(name, KindRowToString)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case RowToString:
		return f, nil
	default:
		return RowToString(f.(func(*row.Row) (string, bool))), nil
	}
}

func GetRowToPair(name string) (RowToPair, error) {
	fn, err := lookup(name, KindRowToPair)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case RowToPair:
		return f, nil
	default:
		return RowToPair(f.(func(*row.Row) (Pair, bool))), nil
	}
}

func GetTwoStringsToString(name string) (TwoStringsToString, error) {
	fn, err := lookup(name, KindTwoStringsToString)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case TwoStringsToString:
		return f, nil
	default:
		return TwoStringsToString(f.(func(string, string) (string, bool))), nil
	}
}

func GetPairToStringIterable(name string) (PairToStringIterable, error) {
	fn, err := lookup(name, KindPairToStringIterable)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case PairToStringIterable:
		return f, nil
	default:
		return PairToStringIterable(f.(func(Pair) ([]string, error))), nil
	}
}

func GetPairToPairIterable(name string) (PairToPairIterable, error) {
	fn, err := lookup(name, KindPairToPairIterable)
	if err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case PairToPairIterable:
		return f, nil
	default:
		return PairToPairIterable(f.(func(Pair) ([]Pair, error))), nil
	}
}

func init() {
	Register(CommaJoin, TwoStringsToString(func(a, b string) (string, bool) {
		if a == "" {
			return b, true
		}
		return a + "," + b, true
	}))
}
