package value

import (
	"fmt"
	"strings"
	"sync/atomic"
)

var (
	falseCell      = &marker{name: "false"}
	effectDoneCell = &marker{name: "effect-done"}

	nextEmergentTypeID atomic.Uint64
)

type marker struct {
	name string
}

func (m *marker) TypeName() string {
	return m.name
}

func (m *marker) String() string {
	return m.name
}

// False is the value of a failed query-free test, it is distinct from every other value.
func False() Value {
	return FromCell(falseCell)
}

func IsFalse(v Value) bool {
	v = v.Follow()
	return v.tag == TagCell && v.ref == Cell(falseCell)
}

// EffectDone is the value an effect token is bound to once the effect it orders has happened.
func EffectDone() Value {
	return FromCell(effectDoneCell)
}

// Option wraps an optional value.
type Option struct {
	Value Value
}

func NewOption(v Value) Value {
	return FromCell(&Option{Value: v})
}

func (*Option) TypeName() string {
	return "option"
}

func (o *Option) String() string {
	return "option{" + o.Value.String() + "}"
}

// An Array is an immutable sequence of values.
type Array struct {
	Elements []Value
}

func NewArray(elements ...Value) Value {
	return FromCell(&Array{Elements: elements})
}

func (*Array) TypeName() string {
	return "array"
}

func (a *Array) Len() int {
	return len(a.Elements)
}

func (a *Array) String() string {
	return formatElements("array", a.Elements)
}

// A MutableArray is a growable sequence whose writes are journaled.
// Once made immutable it is compared like an Array.
type MutableArray struct {
	elements  []Value
	immutable bool
}

func NewMutableArray(elements ...Value) *MutableArray {
	return &MutableArray{elements: elements}
}

func NewMutableArrayWithCapacity(capacity int) *MutableArray {
	return &MutableArray{elements: make([]Value, 0, capacity)}
}

func (*MutableArray) TypeName() string {
	return "mutable-array"
}

func (a *MutableArray) Len() int {
	return len(a.elements)
}

func (a *MutableArray) Cap() int {
	return cap(a.elements)
}

func (a *MutableArray) At(i int) Value {
	return a.elements[i]
}

func (a *MutableArray) IsImmutable() bool {
	return a.immutable
}

// MakeImmutable forbids further writes, the change is undone if j rolls back.
func (a *MutableArray) MakeImmutable(j Journal) {
	if a.immutable {
		return
	}
	a.immutable = true
	record(j, func() {
		a.immutable = false
	})
}

// Set writes the element at index i, it returns false if i is out of range.
func (a *MutableArray) Set(j Journal, i int, v Value) bool {
	if i < 0 || i >= len(a.elements) {
		return false
	}
	prev := a.elements[i]
	a.elements[i] = v
	record(j, func() {
		a.elements[i] = prev
	})
	return true
}

func (a *MutableArray) Append(j Journal, v Value) {
	prevLen := len(a.elements)
	a.elements = append(a.elements, v)
	record(j, func() {
		a.elements = a.elements[:prevLen]
	})
}

func (a *MutableArray) String() string {
	if a.immutable {
		return formatElements("array", a.elements)
	}
	return formatElements("mutable-array", a.elements)
}

// ArrayElements returns the elements of an array of either kind, the slice must not be modified.
func ArrayElements(v Value) ([]Value, bool) {
	v = v.Follow()
	if !v.IsCell() {
		return nil, false
	}
	switch array := v.ref.(type) {
	case *Array:
		return array.Elements, true
	case *MutableArray:
		return array.elements, true
	}
	return nil, false
}

// immutableElements returns the elements of an Array or of a MutableArray made immutable.
func immutableElements(c any) ([]Value, bool) {
	switch array := c.(type) {
	case *Array:
		return array.Elements, true
	case *MutableArray:
		if array.immutable {
			return array.elements, true
		}
	}
	return nil, false
}

// A Map is an immutable association list, entries keep the order in which their keys first appeared.
type Map struct {
	keys   []Value
	values []Value
}

// NewMap associates keys[i] with values[i], a repeated key keeps its first position and takes the last value.
func NewMap(keys, values []Value) *Map {
	if len(keys) != len(values) {
		panic(fmt.Errorf("%d map keys for %d values", len(keys), len(values)))
	}
	m := &Map{}
	for i, key := range keys {
		if index, ok := m.indexOf(key); ok {
			m.values[index] = values[i]
			continue
		}
		m.keys = append(m.keys, key)
		m.values = append(m.values, values[i])
	}
	return m
}

func (*Map) TypeName() string {
	return "map"
}

func (m *Map) Len() int {
	return len(m.keys)
}

func (m *Map) KeyAt(i int) Value {
	return m.keys[i]
}

func (m *Map) ValueAt(i int) Value {
	return m.values[i]
}

func (m *Map) Lookup(key Value) (Value, bool) {
	index, ok := m.indexOf(key)
	if !ok {
		return Value{}, false
	}
	return m.values[index], true
}

func (m *Map) indexOf(key Value) (int, bool) {
	for i, k := range m.keys {
		if Equal(k, key) {
			return i, true
		}
	}
	return -1, false
}

func (m *Map) String() string {
	buf := strings.Builder{}
	buf.WriteString("map{")
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(key.String())
		buf.WriteString(" => ")
		buf.WriteString(m.values[i].String())
	}
	buf.WriteByte('}')
	return buf.String()
}

// Melt returns a mutable copy of v: arrays become mutable arrays, options are copied,
// other values are returned as is. The copy is deep.
// If a placeholder is reached the copy cannot be made and the placeholder is returned.
func Melt(v Value) (Value, *Placeholder) {
	v = v.Follow()
	if v.IsPlaceholder() {
		return v, v.AsPlaceholder()
	}
	if !v.IsCell() {
		return v, nil
	}
	switch c := v.ref.(type) {
	case *Option:
		inner, p := Melt(c.Value)
		if p != nil {
			return Value{}, p
		}
		return NewOption(inner), nil
	case *Map:
		values := make([]Value, len(c.values))
		for i, e := range c.values {
			melted, p := Melt(e)
			if p != nil {
				return Value{}, p
			}
			values[i] = melted
		}
		return FromCell(&Map{keys: c.keys, values: values}), nil
	}
	elements, ok := immutableElements(v.ref)
	if !ok {
		return v, nil
	}
	melted := make([]Value, len(elements))
	for i, e := range elements {
		m, p := Melt(e)
		if p != nil {
			return Value{}, p
		}
		melted[i] = m
	}
	return FromCell(NewMutableArray(melted...)), nil
}

// Freeze returns an immutable deep copy of v, it is the inverse of Melt.
// Vars are read so that the copy does not change with later writes.
func Freeze(v Value) (Value, *Placeholder) {
	v = v.Follow()
	if v.IsPlaceholder() {
		return v, v.AsPlaceholder()
	}
	if !v.IsCell() {
		return v, nil
	}
	freezeAll := func(values []Value) ([]Value, *Placeholder) {
		frozen := make([]Value, len(values))
		for i, e := range values {
			f, p := Freeze(e)
			if p != nil {
				return nil, p
			}
			frozen[i] = f
		}
		return frozen, nil
	}

	switch c := v.ref.(type) {
	case *Array:
		elements, p := freezeAll(c.Elements)
		if p != nil {
			return Value{}, p
		}
		return NewArray(elements...), nil
	case *MutableArray:
		elements, p := freezeAll(c.elements)
		if p != nil {
			return Value{}, p
		}
		return NewArray(elements...), nil
	case *Var:
		return Freeze(c.value)
	case *Option:
		inner, p := Freeze(c.Value)
		if p != nil {
			return Value{}, p
		}
		return NewOption(inner), nil
	case *Map:
		values, p := freezeAll(c.values)
		if p != nil {
			return Value{}, p
		}
		return FromCell(&Map{keys: c.keys, values: values}), nil
	}
	return v, nil
}

// A Var is a mutable reference whose writes are journaled.
type Var struct {
	value Value
}

func NewVar(initial Value) *Var {
	return &Var{value: initial}
}

func (*Var) TypeName() string {
	return "var"
}

func (v *Var) Get() Value {
	return v.value
}

func (v *Var) Set(j Journal, newValue Value) {
	prev := v.value
	v.value = newValue
	record(j, func() {
		v.value = prev
	})
}

// An EmergentType describes the layout shared by objects created with the same field set.
// Objects of the same emergent type store a given field at the same index.
type EmergentType struct {
	id         uint64
	name       string
	fieldNames []string
	indexes    map[string]int
	archetype  bool
}

func NewEmergentType(name string, archetype bool, fieldNames ...string) *EmergentType {
	t := &EmergentType{
		id:         nextEmergentTypeID.Add(1),
		name:       name,
		fieldNames: fieldNames,
		indexes:    make(map[string]int, len(fieldNames)),
		archetype:  archetype,
	}
	for i, name := range fieldNames {
		if _, ok := t.indexes[name]; ok {
			panic(fmt.Errorf("duplicate field %q in emergent type %s", name, t.name))
		}
		t.indexes[name] = i
	}
	return t
}

func (*EmergentType) TypeName() string {
	return "emergent-type"
}

func (t *EmergentType) ID() uint64 {
	return t.id
}

func (t *EmergentType) Name() string {
	return t.name
}

func (t *EmergentType) IsArchetype() bool {
	return t.archetype
}

func (t *EmergentType) FieldCount() int {
	return len(t.fieldNames)
}

func (t *EmergentType) FieldIndex(name string) (int, bool) {
	i, ok := t.indexes[name]
	return i, ok
}

func (t *EmergentType) String() string {
	return "type " + t.name
}

// An Object is an instance of an emergent type.
type Object struct {
	typ    *EmergentType
	fields []Value
}

func NewObject(typ *EmergentType, fields []Value) *Object {
	if len(fields) != typ.FieldCount() {
		panic(fmt.Errorf("%s has %d fields, %d values provided", typ, typ.FieldCount(), len(fields)))
	}
	return &Object{typ: typ, fields: fields}
}

func (*Object) TypeName() string {
	return "object"
}

func (o *Object) Type() *EmergentType {
	return o.typ
}

func (o *Object) FieldAt(i int) Value {
	return o.fields[i]
}

func (o *Object) SetFieldAt(j Journal, i int, v Value) {
	prev := o.fields[i]
	o.fields[i] = v
	record(j, func() {
		o.fields[i] = prev
	})
}

func (o *Object) String() string {
	buf := strings.Builder{}
	buf.WriteString(o.typ.name)
	buf.WriteByte('{')
	for i, name := range o.typ.fieldNames {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(o.fields[i].String())
	}
	buf.WriteByte('}')
	return buf.String()
}

func formatElements(kind string, elements []Value) string {
	buf := strings.Builder{}
	buf.WriteString(kind)
	buf.WriteByte('[')
	for i, e := range elements {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(e.String())
	}
	buf.WriteByte(']')
	return buf.String()
}
