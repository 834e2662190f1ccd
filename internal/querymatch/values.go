package querymatch

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Values returns the values found at the dotted field path of doc.
//
// Arrays are flattened at every level, and a "*" segment matches any key.
// Null values and empty arrays are not returned, so a field only holding those does not exist.
func Values(doc gjson.Result, path string) []gjson.Result {
	var out []gjson.Result
	collect(doc, strings.Split(path, "."), &out)
	return out
}

func collect(r gjson.Result, segs []string, out *[]gjson.Result) {
	if r.IsArray() {
		for _, elem := range r.Array() {
			collect(elem, segs, out)
		}
		return
	}
	if len(segs) == 0 {
		if r.Exists() && r.Type != gjson.Null {
			*out = append(*out, r)
		}
		return
	}
	if !r.IsObject() {
		return
	}

	seg, rest := segs[0], segs[1:]
	r.ForEach(func(key, value gjson.Result) bool {
		if seg == "*" || key.String() == seg {
			collect(value, rest, out)
		}
		return true
	})
}

// leaves returns the scalar values held by r, descending into objects and arrays.
func leaves(r gjson.Result) []gjson.Result {
	if !r.IsObject() && !r.IsArray() {
		if r.Type == gjson.Null || !r.Exists() {
			return nil
		}
		return []gjson.Result{r}
	}

	var out []gjson.Result
	r.ForEach(func(_, value gjson.Result) bool {
		out = append(out, leaves(value)...)
		return true
	})
	return out
}
