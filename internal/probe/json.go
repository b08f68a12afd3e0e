package probe

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
)

// sampleJSONRecords decodes up to maxRecords objects from a JSON sample.
//
// Supported shapes:
//   - a root array of objects
//   - an envelope object holding an array of objects in one of its fields
//   - a single object
//   - NDJSON (several top-level objects)
//
// Numbers decode as json.Number. A truncated tail stops sampling without
// failing it; a sample cut inside a root or envelope array keeps the
// elements that were complete.
func sampleJSONRecords(sample []byte, maxRecords int) ([]map[string]any, error) {
	if maxRecords <= 0 {
		maxRecords = 1000
	}

	dec := json.NewDecoder(bytes.NewReader(sample))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		if recs := streamJSONRecords(sample, maxRecords); len(recs) > 0 {
			return recs, nil
		}
		return nil, err
	}

	out := make([]map[string]any, 0, minInt(maxRecords, 128))
	emit := func(m map[string]any) {
		if m == nil || len(out) >= maxRecords {
			return
		}
		out = append(out, m)
	}

	switch v := root.(type) {
	case []any:
		for _, it := range v {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			emit(m)
			if len(out) >= maxRecords {
				return out, nil
			}
		}

	case map[string]any:
		if slice := findObjectSliceJSON(v); slice != nil {
			for _, m := range slice {
				emit(m)
				if len(out) >= maxRecords {
					return out, nil
				}
			}
		} else {
			emit(v)
		}
	}

	for len(out) < maxRecords {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			break
		}
		emit(obj)
	}

	return out, nil
}

// streamJSONRecords walks a sample whose root value is incomplete, yielding
// the objects of a root array or of the first array-of-objects field of an
// envelope (in document order).
func streamJSONRecords(sample []byte, maxRecords int) []map[string]any {
	dec := json.NewDecoder(bytes.NewReader(sample))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	switch tok {
	case json.Delim('['):
		recs, _ := streamJSONArray(dec, maxRecords, false)
		return recs
	case json.Delim('{'):
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return nil
			}
			if nextJSONByte(sample, dec.InputOffset()) != '[' {
				var skip json.RawMessage
				if err := dec.Decode(&skip); err != nil {
					return nil
				}
				continue
			}
			if _, err := dec.Token(); err != nil {
				return nil
			}
			recs, done := streamJSONArray(dec, maxRecords, true)
			if len(recs) > 0 || !done {
				return recs
			}
		}
	}
	return nil
}

// streamJSONArray decodes array elements after the opening bracket until the
// closing bracket, maxRecords objects, or the first decode error. In strict
// mode any element other than an object or null voids the result. done
// reports whether the closing bracket was consumed.
func streamJSONArray(dec *json.Decoder, maxRecords int, strict bool) (recs []map[string]any, done bool) {
	valid := true
	for dec.More() {
		var elem any
		if err := dec.Decode(&elem); err != nil {
			break
		}
		m, ok := elem.(map[string]any)
		switch {
		case ok && valid:
			recs = append(recs, m)
			if len(recs) >= maxRecords {
				return recs, false
			}
		case !ok && elem != nil && strict:
			valid = false
			recs = nil
		}
	}
	if !valid {
		recs = nil
	}
	if _, err := dec.Token(); err != nil {
		return recs, false
	}
	return recs, true
}

// nextJSONByte returns the first byte at or after off that is neither
// whitespace nor a colon, or 0 at the end of the sample.
func nextJSONByte(sample []byte, off int64) byte {
	for i := int(off); i < len(sample); i++ {
		switch c := sample[i]; c {
		case ' ', '\t', '\n', '\r', ':':
		default:
			return c
		}
	}
	return 0
}

// findObjectSliceJSON returns the first field of root (in key order) that is
// a non-empty array of objects.
func findObjectSliceJSON(root map[string]any) []map[string]any {
	keys := make([]string, 0, len(root))
	for k := range root {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		rawSlice, ok := root[k].([]any)
		if !ok || len(rawSlice) == 0 {
			continue
		}
		objects := make([]map[string]any, 0, len(rawSlice))
		valid := true
		for _, elem := range rawSlice {
			if elem == nil {
				continue
			}
			m, ok := elem.(map[string]any)
			if !ok {
				valid = false
				break
			}
			objects = append(objects, m)
		}
		if valid && len(objects) > 0 {
			return objects
		}
	}
	return nil
}

// flattenJSONRecords flattens nested objects into dotted keys
// ({"a":{"b":1}} becomes {"a.b":1}).
func flattenJSONRecords(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, r := range in {
		flat := make(map[string]any, len(r))
		flattenJSONRecord("", r, flat)
		out = append(out, flat)
	}
	return out
}

func flattenJSONRecord(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			flattenJSONRecord(key, m, out)
			continue
		}
		out[key] = v
	}
}

// inferHeadersFromJSON returns the union of record keys, sorted.
func inferHeadersFromJSON(recs []map[string]any) []string {
	set := make(map[string]struct{})
	for _, r := range recs {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
