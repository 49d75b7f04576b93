package schema

import (
	"strconv"
	"strings"
)

// IndexedName appends one [i] suffix per loop index: COUNT, COUNT[0], COUNT[0][1].
func IndexedName(base string, idx []int) string {
	if len(idx) == 0 {
		return base
	}
	var b strings.Builder
	b.Grow(len(base) + 4*len(idx))
	b.WriteString(base)
	for _, i := range idx {
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(i))
		b.WriteByte(']')
	}
	return b.String()
}

// SplitName separates a concrete field name into its base name and loop
// indices. ok is false when the suffix is not a run of [n] groups.
func SplitName(name string) (base string, idx []int, ok bool) {
	open := strings.IndexByte(name, '[')
	if open < 0 {
		return name, nil, true
	}
	base, rest := name[:open], name[open:]
	for rest != "" {
		if rest[0] != '[' {
			return name, nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return name, nil, false
		}
		n, err := strconv.Atoi(rest[1:end])
		if err != nil || n < 0 {
			return name, nil, false
		}
		idx = append(idx, n)
		rest = rest[end+1:]
	}
	return base, idx, true
}

// splitRef separates a reference as written in a description. A reference may
// carry empty brackets, NAME[] or NAME[][], asking for that many of the current
// loop indices.
func splitRef(ref string) (base string, explicit int) {
	open := strings.IndexByte(ref, '[')
	if open < 0 {
		return ref, -1
	}
	return ref[:open], strings.Count(ref[open:], "[")
}

// Resolve maps a reference to the concrete name of a stored field, given the
// loop indices at the point of use. A bare reference tries the bare name
// first and then adds the enclosing indices one level at a time; a bracketed
// reference takes exactly as many indices as it has brackets.
func Resolve(ref string, idx []int, has func(name string) bool) (string, bool) {
	base, explicit := splitRef(ref)
	if explicit >= 0 {
		if explicit > len(idx) {
			return "", false
		}
		name := IndexedName(base, idx[:explicit])
		return name, has(name)
	}
	for depth := 0; depth <= len(idx); depth++ {
		name := IndexedName(base, idx[:depth])
		if has(name) {
			return name, true
		}
	}
	return "", false
}
