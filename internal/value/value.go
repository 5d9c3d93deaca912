package value

import (
	"fmt"
	"math"
	"strconv"
)

// Tag discriminates the representation held by a Value.
type Tag uint8

const (
	TagUninitialized Tag = iota
	TagInt
	TagFloat
	TagCell
	TagPlaceholder
)

func (t Tag) String() string {
	switch t {
	case TagUninitialized:
		return "uninitialized"
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagCell:
		return "cell"
	case TagPlaceholder:
		return "placeholder"
	}
	return "tag(" + strconv.Itoa(int(t)) + ")"
}

// A Value is a tagged union over small integers, floats, heap cell references,
// the uninitialized marker and placeholder references. The zero Value is uninitialized.
type Value struct {
	tag  Tag
	bits uint64
	ref  any //Cell or *Placeholder
}

// A Cell is a heap allocated value referenced by a Value.
type Cell interface {
	TypeName() string
}

var Uninitialized = Value{}

func Int(i int64) Value {
	return Value{tag: TagInt, bits: uint64(i)}
}

func Float(f float64) Value {
	return Value{tag: TagFloat, bits: math.Float64bits(f)}
}

func FromCell(c Cell) Value {
	if c == nil {
		panic(fmt.Errorf("nil cell"))
	}
	return Value{tag: TagCell, ref: c}
}

func FromPlaceholder(p *Placeholder) Value {
	return Value{tag: TagPlaceholder, ref: p}
}

func (v Value) Tag() Tag {
	return v.tag
}

func (v Value) IsUninitialized() bool {
	return v.tag == TagUninitialized
}

func (v Value) IsInt() bool {
	return v.tag == TagInt
}

func (v Value) IsFloat() bool {
	return v.tag == TagFloat
}

func (v Value) IsCell() bool {
	return v.tag == TagCell
}

// IsPlaceholder reports whether v is a placeholder reference, it does not follow the reference.
func (v Value) IsPlaceholder() bool {
	return v.tag == TagPlaceholder
}

func (v Value) AsInt() int64 {
	if v.tag != TagInt {
		panic(fmt.Errorf("%s is not an int", v))
	}
	return int64(v.bits)
}

func (v Value) AsFloat() float64 {
	if v.tag != TagFloat {
		panic(fmt.Errorf("%s is not a float", v))
	}
	return math.Float64frombits(v.bits)
}

func (v Value) AsCell() Cell {
	if v.tag != TagCell {
		panic(fmt.Errorf("%s is not a cell", v))
	}
	return v.ref.(Cell)
}

func (v Value) AsPlaceholder() *Placeholder {
	if v.tag != TagPlaceholder {
		panic(fmt.Errorf("%s is not a placeholder", v))
	}
	return v.ref.(*Placeholder)
}

// Follow reads through resolved placeholders. If v refers to an unresolved chain
// the returned value refers to the root of that chain.
func (v Value) Follow() Value {
	for v.tag == TagPlaceholder {
		root := v.ref.(*Placeholder).Root()
		if !root.bound {
			return FromPlaceholder(root)
		}
		v = root.value
	}
	return v
}

// IsConcrete reports whether v does not (transitively) refer to an unresolved placeholder.
func (v Value) IsConcrete() bool {
	return !v.Follow().IsPlaceholder()
}

// Same reports whether a and b have the same representation, cells are compared by identity.
// Placeholders are not followed.
func Same(a, b Value) bool {
	return a.tag == b.tag && a.bits == b.bits && a.ref == b.ref
}

func (v Value) String() string {
	switch v.tag {
	case TagUninitialized:
		return "<uninitialized>"
	case TagInt:
		return strconv.FormatInt(int64(v.bits), 10)
	case TagFloat:
		return strconv.FormatFloat(math.Float64frombits(v.bits), 'g', -1, 64)
	case TagCell:
		if s, ok := v.ref.(fmt.Stringer); ok {
			return s.String()
		}
		return "<" + v.ref.(Cell).TypeName() + ">"
	case TagPlaceholder:
		followed := v.Follow()
		if followed.IsPlaceholder() {
			return fmt.Sprintf("<placeholder %p>", followed.ref)
		}
		return followed.String()
	}
	return "<?>"
}

// CellAs returns the followed cell of v if it has the type T.
func CellAs[T Cell](v Value) (T, bool) {
	v = v.Follow()
	if v.tag != TagCell {
		var zero T
		return zero, false
	}
	c, ok := v.ref.(T)
	return c, ok
}
