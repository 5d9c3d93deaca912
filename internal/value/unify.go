package value

// Unify makes a and b equal: unresolved placeholders are bound or linked, concrete values
// are compared (immutable arrays, maps and options structurally, other cells by identity).
// It returns false if the values cannot be made equal, waiters fired by bindings are passed to fire.
func Unify(j Journal, a, b Value, fire func(Waiter)) bool {
	a, b = a.Follow(), b.Follow()

	switch {
	case a.IsPlaceholder() && b.IsPlaceholder():
		a.AsPlaceholder().link(j, b.AsPlaceholder())
		return true
	case a.IsPlaceholder():
		Bind(j, a.AsPlaceholder(), b, fire)
		return true
	case b.IsPlaceholder():
		Bind(j, b.AsPlaceholder(), a, fire)
		return true
	}

	if a.tag != b.tag {
		return false
	}

	switch a.tag {
	case TagUninitialized:
		return true
	case TagInt:
		return a.bits == b.bits
	case TagFloat:
		return floatsEqual(a.AsFloat(), b.AsFloat())
	}

	if a.ref == b.ref {
		return true
	}

	if left, ok := immutableElements(a.ref); ok {
		right, ok := immutableElements(b.ref)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !Unify(j, left[i], right[i], fire) {
				return false
			}
		}
		return true
	}

	switch left := a.ref.(type) {
	case *Option:
		right, ok := b.ref.(*Option)
		if !ok {
			return false
		}
		return Unify(j, left.Value, right.Value, fire)
	case *Map:
		right, ok := b.ref.(*Map)
		if !ok || left.Len() != right.Len() {
			return false
		}
		for i := range left.keys {
			if !Equal(left.keys[i], right.keys[i]) || !Unify(j, left.values[i], right.values[i], fire) {
				return false
			}
		}
		return true
	}
	return false
}

// Equal compares two values without binding anything,
// unresolved placeholders are only equal to themselves.
func Equal(a, b Value) bool {
	a, b = a.Follow(), b.Follow()
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagUninitialized:
		return true
	case TagInt:
		return a.bits == b.bits
	case TagFloat:
		return floatsEqual(a.AsFloat(), b.AsFloat())
	}
	if a.ref == b.ref {
		return true
	}

	if left, ok := immutableElements(a.ref); ok {
		right, ok := immutableElements(b.ref)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !Equal(left[i], right[i]) {
				return false
			}
		}
		return true
	}

	switch left := a.ref.(type) {
	case *Option:
		right, ok := b.ref.(*Option)
		return ok && Equal(left.Value, right.Value)
	case *Map:
		right, ok := b.ref.(*Map)
		if !ok || left.Len() != right.Len() {
			return false
		}
		for i := range left.keys {
			if !Equal(left.keys[i], right.keys[i]) || !Equal(left.values[i], right.values[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// floatsEqual compares floats numerically (0.0 equals -0.0), NaN is equal to itself
// so that unification stays reflexive.
func floatsEqual(a, b float64) bool {
	return a == b || a != a && b != b
}
