// Package query provides helpers for building tiedot DB queries
package query

type Path []string

// Eq matches documents whose value at path equals v. The path must be
// indexed.
func Eq(v string, path Path) interface{} {
	return map[string]interface{}{
		"eq": v,
		"in": path.toIface(),
	}
}

// EqLimit is Eq returning at most limit IDs.
func EqLimit(v string, path Path, limit int) interface{} {
	q := Eq(v, path).(map[string]interface{})
	q["limit"] = limit
	return q
}

// And matches documents matched by every one of qs.
func And(qs ...interface{}) interface{} {
	return map[string]interface{}{
		"n": qs,
	}
}

func (p Path) toIface() (result []interface{}) {
	result = make([]interface{}, len(p))
	for i := range p {
		result[i] = p[i]
	}
	return
}
