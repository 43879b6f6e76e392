package types

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Affinity is the SQLite storage class used for a fixed column.
type Affinity string

const (
	AffinityInteger Affinity = "INTEGER"
	AffinityReal    Affinity = "REAL"
	AffinityText    Affinity = "TEXT"
	AffinityBlob    Affinity = "BLOB"
)

// QueryKind names the query variant used for an unqualified pattern on a
// field of this type. The query package maps kinds to constructors; keeping
// an enum here avoids a dependency cycle.
type QueryKind int

const (
	QuerySubstring QueryKind = iota
	QueryExact
	QueryMatch
	QueryNumeric
	QueryBool
	QueryDate
	QueryDuration
)

// Type describes one field: its storage affinity, default query variant and
// the conversions between user text, in-memory values and the flexible
// attribute table's text encoding.
//
// Parse never fails; unparseable input maps to the type's null value.
// FromStorage(ToStorage(v)) round-trips for every normalized v.
type Type interface {
	Name() string
	Affinity() Affinity
	QueryKind() QueryKind

	// Null is the value substituted for absent data. Nullable types return
	// the null value itself; others return a zero-like stand-in.
	Null() Value

	Parse(text string) Value
	Format(v Value) string
	Normalize(v Value) Value
	ToStorage(v Value) string
	FromStorage(raw any) Value
}

// Built-in descriptors. NullInteger and friends treat null as a true absence
// marker; the plain variants coerce null to a zero-like value.
var (
	Integer     Type = intType{}
	NullInteger Type = intType{nullable: true}
	ID          Type = idType{}
	Real        Type = floatType{}
	NullReal    Type = floatType{nullable: true}
	String      Type = strType{}
	Bool        Type = boolType{}
	Date        Type = dateType{}
	Duration    Type = durationType{}
	Raw         Type = blobType{}
	Default     Type = defaultType{}
)

// rawText converts what the SQL engine hands back into the stored text form.
func rawText(raw any) (string, bool) {
	switch r := raw.(type) {
	case nil:
		return "", false
	case string:
		return r, true
	case []byte:
		return string(r), true
	case int64:
		return strconv.FormatInt(r, 10), true
	case float64:
		return strconv.FormatFloat(r, 'f', -1, 64), true
	default:
		return fmt.Sprint(r), true
	}
}

// integer

type intType struct{ nullable bool }

func (t intType) Name() string {
	if t.nullable {
		return "null_integer"
	}
	return "integer"
}
func (intType) Affinity() Affinity   { return AffinityInteger }
func (intType) QueryKind() QueryKind { return QueryNumeric }

func (t intType) Null() Value {
	if t.nullable {
		return Null()
	}
	return Int(0)
}

func (t intType) Parse(text string) Value {
	if n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64); err == nil {
		return Int(n)
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
		return Int(int64(math.Round(f)))
	}
	return t.Null()
}

func (t intType) Format(v Value) string {
	if v.IsNull() {
		return ""
	}
	return strconv.FormatInt(v.Int64(), 10)
}

func (t intType) Normalize(v Value) Value {
	switch v.Kind() {
	case KindNull:
		return t.Null()
	case KindInteger:
		return v
	case KindFloat:
		return Int(int64(math.Round(v.Float64())))
	case KindText:
		return t.Parse(v.Str())
	}
	return t.Null()
}

func (t intType) ToStorage(v Value) string  { return t.Format(v) }
func (t intType) FromStorage(raw any) Value {
	s, ok := rawText(raw)
	if !ok {
		return t.Null()
	}
	return t.Parse(s)
}

// id: a nullable integer identifier matched exactly.

type idType struct{}

func (idType) Name() string         { return "id" }
func (idType) Affinity() Affinity   { return AffinityInteger }
func (idType) QueryKind() QueryKind { return QueryMatch }
func (idType) Null() Value          { return Null() }

func (idType) Parse(text string) Value {
	if n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64); err == nil {
		return Int(n)
	}
	return Null()
}

func (idType) Format(v Value) string {
	if v.IsNull() {
		return ""
	}
	return strconv.FormatInt(v.Int64(), 10)
}

func (t idType) Normalize(v Value) Value {
	if v.IsNull() {
		return v
	}
	if v.Kind() == KindText {
		return t.Parse(v.Str())
	}
	return Int(v.Int64())
}

func (t idType) ToStorage(v Value) string  { return t.Format(v) }
func (t idType) FromStorage(raw any) Value {
	s, ok := rawText(raw)
	if !ok {
		return Null()
	}
	return t.Parse(s)
}

// float

type floatType struct{ nullable bool }

func (t floatType) Name() string {
	if t.nullable {
		return "null_float"
	}
	return "float"
}
func (floatType) Affinity() Affinity   { return AffinityReal }
func (floatType) QueryKind() QueryKind { return QueryNumeric }

func (t floatType) Null() Value {
	if t.nullable {
		return Null()
	}
	return Float(0)
}

func (t floatType) Parse(text string) Value {
	if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
		return Float(f)
	}
	return t.Null()
}

func (t floatType) Format(v Value) string {
	if v.IsNull() {
		return ""
	}
	return strconv.FormatFloat(v.Float64(), 'f', 1, 64)
}

func (t floatType) Normalize(v Value) Value {
	switch v.Kind() {
	case KindNull:
		return t.Null()
	case KindInteger, KindFloat:
		return Float(v.Float64())
	case KindText:
		return t.Parse(v.Str())
	}
	return t.Null()
}

func (t floatType) ToStorage(v Value) string {
	if v.IsNull() {
		return ""
	}
	return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
}

func (t floatType) FromStorage(raw any) Value {
	s, ok := rawText(raw)
	if !ok {
		return t.Null()
	}
	return t.Parse(s)
}

// string

type strType struct{}

func (strType) Name() string         { return "string" }
func (strType) Affinity() Affinity   { return AffinityText }
func (strType) QueryKind() QueryKind { return QuerySubstring }
func (strType) Null() Value          { return Text("") }
func (strType) Parse(text string) Value { return Text(text) }

func (strType) Format(v Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}

func (t strType) Normalize(v Value) Value {
	if v.IsNull() {
		return t.Null()
	}
	if v.Kind() == KindText {
		return v
	}
	return Text(v.String())
}

func (t strType) ToStorage(v Value) string  { return t.Format(v) }
func (t strType) FromStorage(raw any) Value {
	s, ok := rawText(raw)
	if !ok {
		return t.Null()
	}
	return Text(s)
}

// boolean, stored as 0/1

type boolType struct{}

func (boolType) Name() string         { return "boolean" }
func (boolType) Affinity() Affinity   { return AffinityInteger }
func (boolType) QueryKind() QueryKind { return QueryBool }
func (boolType) Null() Value          { return Int(0) }

// ParseBool maps common textual spellings of truth to a bool.
func ParseBool(text string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, true
	case "0", "false", "f", "no", "n", "off", "":
		return false, true
	}
	return false, false
}

func (t boolType) Parse(text string) Value {
	b, ok := ParseBool(text)
	if !ok {
		return t.Null()
	}
	if b {
		return Int(1)
	}
	return Int(0)
}

func (boolType) Format(v Value) string {
	if !v.IsNull() && v.Int64() != 0 {
		return "true"
	}
	return "false"
}

func (t boolType) Normalize(v Value) Value {
	switch v.Kind() {
	case KindText:
		return t.Parse(v.Str())
	case KindInteger, KindFloat:
		if v.Float64() != 0 {
			return Int(1)
		}
		return Int(0)
	}
	return t.Null()
}

func (t boolType) ToStorage(v Value) string {
	if !v.IsNull() && v.Int64() != 0 {
		return "1"
	}
	return "0"
}

func (t boolType) FromStorage(raw any) Value {
	s, ok := rawText(raw)
	if !ok {
		return t.Null()
	}
	return t.Parse(s)
}

// date, an epoch timestamp in seconds stored as REAL

const dateLayout = "2006-01-02 15:04:05"

type dateType struct{}

func (dateType) Name() string         { return "date" }
func (dateType) Affinity() Affinity   { return AffinityReal }
func (dateType) QueryKind() QueryKind { return QueryDate }
func (dateType) Null() Value          { return Float(0) }

func (t dateType) Parse(text string) Value {
	text = strings.TrimSpace(text)
	if ts, err := time.ParseInLocation(dateLayout, text, time.Local); err == nil {
		return Float(float64(ts.Unix()))
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return Float(f)
	}
	return t.Null()
}

func (dateType) Format(v Value) string {
	if v.IsNull() {
		return ""
	}
	return time.Unix(int64(v.Float64()), 0).Local().Format(dateLayout)
}

func (t dateType) Normalize(v Value) Value {
	switch v.Kind() {
	case KindInteger, KindFloat:
		return Float(v.Float64())
	case KindText:
		return t.Parse(v.Str())
	}
	return t.Null()
}

func (t dateType) ToStorage(v Value) string {
	if v.IsNull() {
		return ""
	}
	return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
}

func (t dateType) FromStorage(raw any) Value {
	s, ok := rawText(raw)
	if !ok {
		return t.Null()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f)
	}
	return t.Null()
}

// duration in seconds, accepting M:SS style input

type durationType struct{}

func (durationType) Name() string         { return "duration" }
func (durationType) Affinity() Affinity   { return AffinityReal }
func (durationType) QueryKind() QueryKind { return QueryDuration }
func (durationType) Null() Value          { return Float(0) }

// ParseDuration reads seconds either as a plain number or as colon-separated
// H:MM:SS / M:SS clock notation.
func ParseDuration(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, nil
	}
	parts := strings.Split(text, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid duration %q", text)
	}
	var total float64
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", text)
		}
		total = total*60 + f
	}
	return total, nil
}

func (t durationType) Parse(text string) Value {
	f, err := ParseDuration(text)
	if err != nil {
		return t.Null()
	}
	return Float(f)
}

func (durationType) Format(v Value) string {
	if v.IsNull() {
		return ""
	}
	secs := int64(math.Round(v.Float64()))
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func (t durationType) Normalize(v Value) Value {
	switch v.Kind() {
	case KindInteger, KindFloat:
		return Float(v.Float64())
	case KindText:
		return t.Parse(v.Str())
	}
	return t.Null()
}

func (t durationType) ToStorage(v Value) string {
	if v.IsNull() {
		return ""
	}
	return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
}

func (t durationType) FromStorage(raw any) Value {
	s, ok := rawText(raw)
	if !ok {
		return t.Null()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f)
	}
	return t.Null()
}

// raw bytes; the flexible table stores text, so bytes pass through base64

type blobType struct{}

func (blobType) Name() string         { return "bytes" }
func (blobType) Affinity() Affinity   { return AffinityBlob }
func (blobType) QueryKind() QueryKind { return QueryExact }
func (blobType) Null() Value          { return Null() }

func (blobType) Parse(text string) Value { return Blob([]byte(text)) }

func (blobType) Format(v Value) string {
	if v.IsNull() {
		return ""
	}
	return string(v.Bytes())
}

func (blobType) Normalize(v Value) Value {
	switch v.Kind() {
	case KindNull:
		return Null()
	case KindBytes:
		return v
	case KindText:
		return Blob([]byte(v.Str()))
	}
	return Blob([]byte(v.String()))
}

func (blobType) ToStorage(v Value) string {
	if v.IsNull() {
		return ""
	}
	return base64.StdEncoding.EncodeToString(v.Bytes())
}

func (t blobType) FromStorage(raw any) Value {
	s, ok := rawText(raw)
	if !ok || s == "" {
		return Null()
	}
	if dec, err := base64.StdEncoding.DecodeString(s); err == nil {
		return Blob(dec)
	}
	return Blob([]byte(s))
}

// default passthrough, used when no descriptor is registered for a field

type defaultType struct{}

func (defaultType) Name() string         { return "default" }
func (defaultType) Affinity() Affinity   { return AffinityText }
func (defaultType) QueryKind() QueryKind { return QuerySubstring }
func (defaultType) Null() Value          { return Null() }
func (defaultType) Parse(text string) Value { return Text(text) }

func (defaultType) Format(v Value) string { return v.String() }

func (defaultType) Normalize(v Value) Value { return v }

func (t defaultType) ToStorage(v Value) string { return t.Format(v) }

func (defaultType) FromStorage(raw any) Value {
	switch r := raw.(type) {
	case nil:
		return Null()
	case int64:
		return Int(r)
	case float64:
		return Float(r)
	case string:
		if r == "" {
			return Null()
		}
		return Text(r)
	case []byte:
		if len(r) == 0 {
			return Null()
		}
		return Text(string(r))
	}
	return Text(fmt.Sprint(raw))
}
