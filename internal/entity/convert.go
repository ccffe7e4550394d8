package entity

// convert.go turns the text found in spreadsheet cells into typed field values
// and back. Cells are messy in practice:
//   - Multiple date formats (US, EU, ISO, etc.)
//   - Currency symbols and thousand separators in numbers
//   - 12-hour clock suffixes on 24-hour times ("16:20:00 PM")
//
// Parse* functions report ok=false for input they cannot interpret; callers
// turn that into a row-level error rather than storing a guess.

import (
	"database/sql/driver"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/rowgraph/internal/schema"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
	TimeLayout     = "15:04:05"
)

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
	}
	timeLayouts = []string{
		"15:04:05.999999999",
		"15:04:05",
		"15:04",
	}
)

// ParseBool accepts true, t, yes, y and false, f, no, n in any case.
func ParseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	}
	return false, false
}

// ParseDate parses a calendar date in any supported layout.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	// A timestamp is acceptable for a date; keep the day.
	if t, ok := ParseDateTime(s); ok {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// ParseDateTime parses a timestamp. Values without a zone are taken as UTC.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTimeOfDay parses a wall-clock time. An AM/PM suffix is honoured
// when the hour is on the 12-hour clock and ignored when it is not, so
// "04:20:00 AM" and "16:20:00 PM" both mean what they say.
func ParseTimeOfDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	var meridiem string
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "AM") || strings.HasSuffix(upper, "PM") {
		meridiem = upper[len(upper)-2:]
		s = strings.TrimSpace(s[:len(s)-2])
	}

	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		switch {
		case meridiem == "PM" && t.Hour() < 12:
			t = t.Add(12 * time.Hour)
		case meridiem == "AM" && t.Hour() == 12:
			t = t.Add(-12 * time.Hour)
		}
		return time.Date(2000, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), true
	}

	if t, ok := ParseDateTime(s); ok {
		return time.Date(2000, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), true
	}
	return time.Time{}, false
}

// CleanNumeric strips currency symbols, thousands separators and accounting
// parentheses, returning the bare numeric text.
func CleanNumeric(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return "", false
	}
	return s, true
}

// ParseDecimal returns the canonical text of an exact decimal:
// no exponent, no trailing fractional zeros.
func ParseDecimal(s string) (string, bool) {
	clean, ok := CleanNumeric(s)
	if !ok {
		return "", false
	}
	var n pgtype.Numeric
	if err := n.ScanScientific(clean); err != nil {
		return "", false
	}
	return numericText(n)
}

func numericText(n pgtype.Numeric) (string, bool) {
	v, err := n.Value()
	if err != nil || v == nil {
		return "", false
	}
	text, ok := v.(string)
	if !ok {
		return "", false
	}
	if strings.Contains(text, ".") {
		text = strings.TrimRight(text, "0")
		text = strings.TrimSuffix(text, ".")
	}
	if text == "-0" {
		text = "0"
	}
	return text, true
}

// Parse converts cell text into the Go value stored for a field type.
// Blank input yields nil for every non-textual type.
func Parse(ft schema.FieldType, raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if ft.Textual() {
		return s, nil
	}
	if s == "" {
		return nil, nil
	}

	var (
		v  any
		ok bool
	)
	switch ft {
	case schema.TypeInteger:
		if clean, good := CleanNumeric(s); good {
			if i, err := strconv.ParseInt(clean, 10, 64); err == nil {
				v, ok = i, true
			} else if f, err := strconv.ParseFloat(clean, 64); err == nil && f == math.Trunc(f) {
				v, ok = int64(f), true
			}
		}
	case schema.TypeFloat:
		if clean, good := CleanNumeric(s); good {
			if f, err := strconv.ParseFloat(clean, 64); err == nil {
				v, ok = f, true
			}
		}
	case schema.TypeDecimal:
		v, ok = ParseDecimal(s)
	case schema.TypeBoolean:
		v, ok = ParseBool(s)
	case schema.TypeDate:
		v, ok = ParseDate(s)
	case schema.TypeDateTime:
		v, ok = ParseDateTime(s)
	case schema.TypeTime:
		v, ok = ParseTimeOfDay(s)
	default:
		return nil, fmt.Errorf("unsupported field type %q", ft)
	}
	if !ok {
		return nil, &ParseError{Type: ft, Value: raw}
	}
	return v, nil
}

// Format renders a stored value as canonical text. It is the form used for
// unique-key tuples and for comparisons against incoming cells.
func Format(ft schema.FieldType, v any) string {
	if v == nil {
		return ""
	}
	switch ft {
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b)
		}
	case schema.TypeDate:
		if t, ok := v.(time.Time); ok {
			return t.Format(DateLayout)
		}
	case schema.TypeDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(DateTimeLayout)
		}
	case schema.TypeTime:
		if t, ok := v.(time.Time); ok {
			return t.Format(TimeLayout)
		}
	}
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(DateTimeLayout)
	}
	return fmt.Sprint(v)
}

// Decode converts a value returned by a database driver into the Go value
// stored for a field type. Drivers disagree: SQLite hands back int64 for
// booleans and text or time.Time for dates, pgx hands back pgtype values.
func Decode(ft schema.FieldType, v any) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		v = dv
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}

	switch ft {
	case schema.TypeString, schema.TypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return Format(ft, v), nil

	case schema.TypeInteger:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int32:
			return int64(x), nil
		case int:
			return int64(x), nil
		case float64:
			return int64(x), nil
		}

	case schema.TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		}

	case schema.TypeDecimal:
		switch x := v.(type) {
		case float64:
			if s, ok := ParseDecimal(strconv.FormatFloat(x, 'f', -1, 64)); ok {
				return s, nil
			}
		case int64:
			return strconv.FormatInt(x, 10), nil
		}

	case schema.TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			if b, ok := ParseBool(x); ok {
				return b, nil
			}
			if x == "1" || x == "0" {
				return x == "1", nil
			}
		}

	case schema.TypeDate, schema.TypeDateTime, schema.TypeTime:
		if t, ok := v.(time.Time); ok {
			switch ft {
			case schema.TypeDate:
				y, m, d := t.Date()
				return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
			case schema.TypeTime:
				return time.Date(2000, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
			}
			return t.UTC(), nil
		}
	}

	if s, ok := v.(string); ok {
		return Parse(ft, s)
	}
	return nil, fmt.Errorf("cannot decode %T as %s", v, ft)
}

// Encode converts a stored Go value into a driver argument. Temporal values
// are sent as canonical text so every backend stores the same thing.
func Encode(ft schema.FieldType, v any) any {
	if v == nil {
		return nil
	}
	switch ft {
	case schema.TypeDate, schema.TypeDateTime, schema.TypeTime:
		return Format(ft, v)
	}
	return v
}

// Present renders a stored value for export: booleans as Yes/No, everything
// else in canonical form.
func Present(ft schema.FieldType, v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "Yes"
		}
		return "No"
	}
	return Format(ft, v)
}

// ParseError reports cell text that does not fit the field type.
type ParseError struct {
	Field string
	Type  schema.FieldType
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s value %q not recognized", typeTitle(e.Type), e.Value)
}

// Message renders the error for the spreadsheet column (1-based) it came from.
func (e *ParseError) Message(column int) string {
	return fmt.Sprintf("%s value \"%s\" in column %d not recognized", typeTitle(e.Type), e.Value, column)
}

func typeTitle(ft schema.FieldType) string {
	switch ft {
	case schema.TypeDateTime:
		return "Datetime"
	case "":
		return "Value"
	}
	return schema.Titleize(string(ft))
}
