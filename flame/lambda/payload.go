package lambda

import (
	"encoding/json"

	"github.com/pingcap/errors"
)

// PayloadVersion is bumped when the payload encoding changes.
const PayloadVersion = 1

// Payload is the body of an operation request. Which fields are set depends
// on the operation: a function name and its kind, a sample fraction, or the
// other table of a binary operation.
type Payload struct {
	Version    int     `json:"version"`
	Kind       Kind    `json:"kind,omitempty"`
	Func       string  `json:"func,omitempty"`
	Fraction   float64 `json:"fraction,omitempty"`
	OtherTable string  `json:"otherTable,omitempty"`
}

func FuncPayload(kind Kind, name string) Payload {
	return Payload{Version: PayloadVersion, Kind: kind, Func: name}
}

func FractionPayload(f float64) Payload {
	return Payload{Version: PayloadVersion, Fraction: f}
}

func TablePayload(other string) Payload {
	return Payload{Version: PayloadVersion, OtherTable: other}
}

func (p Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	return data, errors.WithStack(err)
}

func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errors.Annotate(err, "malformed operation payload")
	}
	if p.Version != PayloadVersion {
		return p, errors.Errorf("unsupported payload version %d", p.Version)
	}
	return p, nil
}

// Param is what an operation reads from its payload besides a function.
type Param int

const (
	ParamNone Param = iota
	ParamFraction
	ParamOtherTable
)

// Operation is a worker route and the payload it takes.
type Operation struct {
	Name  string
	Path  string
	Kind  Kind
	Param Param
	// Fold operations answer with a value instead of writing a table.
	Fold bool
	// NeedsZero operations require the zeroElement parameter.
	NeedsZero bool
}

var (
	OpFlatMap           = Operation{Name: "flatMap", Path: "/rdd/flatMap", Kind: KindStringToIterable}
	OpFlatMapToPair     = Operation{Name: "flatMapToPair", Path: "/rdd/flatMapToPair", Kind: KindStringToPairIterable}
	OpMapToPair         = Operation{Name: "mapToPair", Path: "/rdd/mapToPair", Kind: KindStringToPair}
	OpGroupBy           = Operation{Name: "groupBy", Path: "/rdd/groupBy", Kind: KindStringToString}
	OpFilter            = Operation{Name: "filter", Path: "/rdd/filter", Kind: KindStringToBool}
	OpSample            = Operation{Name: "sample", Path: "/rdd/sample", Param: ParamFraction}
	OpDistinct          = Operation{Name: "distinct", Path: "/rdd/distinct"}
	OpIntersection      = Operation{Name: "intersection", Path: "/rdd/intersection", Param: ParamOtherTable}
	OpMapPartitions     = Operation{Name: "mapPartitions", Path: "/rdd/mapPartitions", Kind: KindIteratorToIterator}
	OpFromTable         = Operation{Name: "fromTable", Path: "/rdd/fromTable", Kind: KindRowToString}
	OpFold              = Operation{Name: "fold", Path: "/rdd/fold", Kind: KindTwoStringsToString, Fold: true, NeedsZero: true}
	OpFoldByKey         = Operation{Name: "foldByKey", Path: "/pairRDD/foldByKey", Kind: KindTwoStringsToString, NeedsZero: true}
	OpPairFlatMap       = Operation{Name: "pairFlatMap", Path: "/pairRDD/flatMap", Kind: KindPairToStringIterable}
	OpPairFlatMapToPair = Operation{Name: "pairFlatMapToPair", Path: "/pairRDD/flatMapToPair", Kind: KindPairToPairIterable}
	OpJoin              = Operation{Name: "join", Path: "/pairRDD/join", Param: ParamOtherTable}
	OpCogroup           = Operation{Name: "cogroup", Path: "/pairRDD/cogroup", Param: ParamOtherTable}
	OpPairFromTable     = Operation{Name: "pairFromTable", Path: "/pairRDD/pairFromTable", Kind: KindRowToPair}
	OpPairFold          = Operation{Name: "pairFold", Path: "/pairRDD/fold", Kind: KindTwoStringsToString, Fold: true, NeedsZero: true}
)

// Operations lists every worker route.
var Operations = []Operation{
	OpFlatMap, OpFlatMapToPair, OpMapToPair, OpGroupBy, OpFilter, OpSample,
	OpDistinct, OpIntersection, OpMapPartitions, OpFromTable, OpFold,
	OpFoldByKey, OpPairFlatMap, OpPairFlatMapToPair, OpJoin, OpCogroup,
	OpPairFromTable, OpPairFold,
}

// Validate checks that p carries what op needs and that a named function
// is registered with the kind op expects.
func (op Operation) Validate(p Payload) error {
	if op.Kind != KindNone {
		if p.Kind != op.Kind {
			return errors.Errorf("%s expects a %s function, got %q", op.Name, op.Kind, p.Kind)
		}
		if _, err := lookup(p.Func, op.Kind); err != nil {
			return err
		}
	}
	switch op.Param {
	case ParamFraction:
		if p.Fraction < 0 || p.Fraction > 1 {
			return errors.Errorf("sample fraction %v out of [0, 1]", p.Fraction)
		}
	case ParamOtherTable:
		if p.OtherTable == "" {
			return errors.Errorf("%s needs the other table", op.Name)
		}
	}
	return nil
}
