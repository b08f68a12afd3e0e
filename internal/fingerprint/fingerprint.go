// Package fingerprint computes stable digests of sampled column data so that
// repeated classifications of the same sample can be recognized and stored
// idempotently.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"generalize/internal/generalize"
)

// Samples digests the loaded column names and their samples, in declaration
// and row order. Equal samples always produce equal digests; any change to a
// name, a value, or the order of either changes it.
//
// Canonicalization rules:
//   - Every name and value is written as a one-byte type tag, its payload
//     length in decimal, a colon, and the payload, so neither separators
//     inside values nor values of different types ("1", 1, []byte("1"))
//     can produce the same encoding.
//   - Columns are written as their name followed by a value count and the
//     encoded values.
//   - nil is encoded as the tag '0' with no payload.
//   - time.Time values are encoded as RFC3339Nano in UTC.
//   - Output is a lowercase hex string (length 64).
func Samples(c *generalize.Columns) string {
	if c == nil {
		return Strings(nil)
	}
	var b strings.Builder
	for _, name := range c.Names() {
		appendField(&b, 'c', name)
		vals := c.Samples(name)
		b.WriteString(strconv.Itoa(len(vals)))
		b.WriteByte(';')
		for _, v := range vals {
			appendCanonicalValue(&b, v)
		}
	}
	return digest(b.String())
}

// Pattern is one configured (role, match) pair as it enters a run.
type Pattern struct {
	Role  string
	Match string
}

// Run digests a classification: the sampled columns together with the
// ordered pattern list applied to them. Two jobs over the same sample with
// different patterns get different digests.
func Run(c *generalize.Columns, patterns []Pattern) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(patterns)))
	b.WriteByte(';')
	for _, p := range patterns {
		appendField(&b, 'r', p.Role)
		appendField(&b, 'm', p.Match)
	}
	return Strings([]string{Samples(c), digest(b.String())})
}

// Strings digests an ordered list of strings, e.g. a header row.
func Strings(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		appendField(&b, 's', p)
	}
	return digest(b.String())
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func appendField(b *strings.Builder, tag byte, payload string) {
	b.WriteByte(tag)
	b.WriteString(strconv.Itoa(len(payload)))
	b.WriteByte(':')
	b.WriteString(payload)
}

// appendCanonicalValue appends a stable, self-delimiting representation of
// v, avoiding fmt.Sprint for the common scalar types.
func appendCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('0')
	case string:
		appendField(b, 's', t)
	case []byte:
		appendField(b, 'b', string(t))
	case json.Number:
		appendField(b, 'n', t.String())
	case bool:
		appendField(b, 't', strconv.FormatBool(t))
	case int:
		appendField(b, 'i', strconv.Itoa(t))
	case int8:
		appendField(b, 'i', strconv.FormatInt(int64(t), 10))
	case int16:
		appendField(b, 'i', strconv.FormatInt(int64(t), 10))
	case int32:
		appendField(b, 'i', strconv.FormatInt(int64(t), 10))
	case int64:
		appendField(b, 'i', strconv.FormatInt(t, 10))
	case uint:
		appendField(b, 'u', strconv.FormatUint(uint64(t), 10))
	case uint8:
		appendField(b, 'u', strconv.FormatUint(uint64(t), 10))
	case uint16:
		appendField(b, 'u', strconv.FormatUint(uint64(t), 10))
	case uint32:
		appendField(b, 'u', strconv.FormatUint(uint64(t), 10))
	case uint64:
		appendField(b, 'u', strconv.FormatUint(t, 10))
	case float32:
		appendField(b, 'f', strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		appendField(b, 'f', strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		appendField(b, 'T', tt.Format(time.RFC3339Nano))
	default:
		appendField(b, '?', fmt.Sprintf("%T:%v", t, t))
	}
}
