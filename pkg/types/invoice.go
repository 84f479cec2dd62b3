package types

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Invoice is an extracted vendor invoice as received. It is never mutated by
// processing; the normalized invoice is a Clone with corrected fields.
type Invoice struct {
	ID            string          `json:"id"`
	Vendor        string          `json:"vendor"`
	RawText       string          `json:"raw_text"`
	ExtractedData Fields          `json:"extracted_data"`
	Metadata      InvoiceMetadata `json:"metadata"`
}

// InvoiceMetadata describes where an invoice came from.
type InvoiceMetadata struct {
	Source       string    `json:"source,omitempty"`
	ExtractedAt  time.Time `json:"extracted_at,omitempty"`
	ProcessingID string    `json:"processing_id,omitempty"`
}

// LineItem is a single invoice line.
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unitPrice,omitempty"`
	TotalPrice  *float64 `json:"totalPrice,omitempty"`
	SKU         string   `json:"sku,omitempty"`
	VATRate     *float64 `json:"vatRate,omitempty"`
}

// Fields is the open-ended extracted-data mapping. Known keys are the Field*
// constants; anything else is carried through untouched.
type Fields map[string]any

// Get returns the value stored under name. A nil value counts as absent.
func (f Fields) Get(name string) (any, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Has reports whether name holds a non-empty value.
func (f Fields) Has(name string) bool {
	v, ok := f.Get(name)
	if !ok {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// String returns the value under name as a string.
func (f Fields) String(name string) (string, bool) {
	v, ok := f.Get(name)
	if !ok {
		return "", false
	}
	if s, isString := v.(string); isString {
		return s, true
	}
	return Stringify(v), true
}

// Float returns the value under name as a float64, accepting JSON numbers and
// numeric strings.
func (f Fields) Float(name string) (float64, bool) {
	v, ok := f.Get(name)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Bool returns the value under name as a bool. The second result is false
// when the field is undefined, which is distinct from an explicit false.
func (f Fields) Bool(name string) (bool, bool) {
	v, ok := f.Get(name)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false
		}
		return parsed, true
	}
	return false, false
}

// LineItems decodes the line-item sequence. Values decoded from JSON arrive as
// []any and are converted on the fly.
func (f Fields) LineItems() []LineItem {
	v, ok := f.Get(FieldLineItems)
	if !ok {
		return nil
	}
	switch items := v.(type) {
	case []LineItem:
		return items
	case []any:
		data, err := json.Marshal(items)
		if err != nil {
			return nil
		}
		var out []LineItem
		if err := json.Unmarshal(data, &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

// Clone deep-copies the mapping.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Clone deep-copies the invoice.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	c := *inv
	c.ExtractedData = inv.ExtractedData.Clone()
	return &c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case Fields:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	case []LineItem:
		s := make([]LineItem, len(t))
		for i, item := range t {
			s[i] = item.clone()
		}
		return s
	}
	return v
}

func (li LineItem) clone() LineItem {
	c := li
	c.Quantity = cloneFloat(li.Quantity)
	c.UnitPrice = cloneFloat(li.UnitPrice)
	c.TotalPrice = cloneFloat(li.TotalPrice)
	c.VATRate = cloneFloat(li.VATRate)
	return c
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Stringify renders a field value the way pattern matching sees it.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

// SameValue reports whether two field values are identical for the purpose
// of discarding no-op corrections.
func SameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			if _, aIsString := a.(string); !aIsString {
				if _, bIsString := b.(string); !bIsString {
					return af == bf
				}
			}
		}
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b) && Stringify(a) == Stringify(b)
}

// RoundTo2 rounds to two decimal places, half away from zero.
func RoundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ToFloat converts JSON numbers, Go numerics and numeric strings to float64.
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
