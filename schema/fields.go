package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zefrenchwan/registries.git/fingerprint"
	"github.com/zefrenchwan/registries.git/geometry"
)

// FieldType is the closed set of attribute types
type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldDecimal
	FieldBoolean
	FieldDate
	FieldDateTime
	FieldGeometry
	FieldJSON
	FieldReference
	FieldManyReference
)

// DATE_FORMAT is the normalized format of dates
const DATE_FORMAT = "2006-01-02"

// BronwaardeKey is the key of the source value in a reference
const BronwaardeKey = "bronwaarde"

var fieldTypeNames = map[FieldType]string{
	FieldString:        "string",
	FieldInteger:       "integer",
	FieldDecimal:       "decimal",
	FieldBoolean:       "boolean",
	FieldDate:          "date",
	FieldDateTime:      "datetime",
	FieldGeometry:      "geometry",
	FieldJSON:          "json",
	FieldReference:     "reference",
	FieldManyReference: "many_reference",
}

func (f FieldType) String() string {
	return fieldTypeNames[f]
}

func (f FieldType) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *FieldType) UnmarshalText(data []byte) error {
	value := strings.ToLower(strings.TrimSpace(string(data)))
	for fieldType, name := range fieldTypeNames {
		if name == value {
			*f = fieldType
			return nil
		}
	}

	return fmt.Errorf("unknown field type %q", value)
}

// IsReference returns true for single and many references
func (f FieldType) IsReference() bool {
	return f == FieldReference || f == FieldManyReference
}

// Field is an attribute of a collection.
// Ref is "catalog:collection" for references.
type Field struct {
	Name string    `yaml:"-"`
	Type FieldType `yaml:"type"`
	Ref  string    `yaml:"ref,omitempty"`
}

// Destination returns the catalog and collection a reference points to
func (f Field) Destination() (string, string, error) {
	catalog, collection, found := strings.Cut(f.Ref, ":")
	if !f.Type.IsReference() || !found || catalog == "" || collection == "" {
		return "", "", fmt.Errorf("field %s is not a valid reference", f.Name)
	}

	return catalog, collection, nil
}

// Normalize returns the value in its canonical form for the type of the field.
// Nil and empty strings for non string fields give nil.
func (f Field) Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	} else if s, ok := value.(string); ok && f.Type != FieldString && strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var result any
	var err error
	switch f.Type {
	case FieldString:
		result = normalizeString(value)
	case FieldInteger:
		result, err = normalizeInteger(value)
	case FieldDecimal:
		result, err = normalizeDecimal(value)
	case FieldBoolean:
		result, err = normalizeBoolean(value)
	case FieldDate:
		result, err = normalizeMoment(value, true)
	case FieldDateTime:
		result, err = normalizeMoment(value, false)
	case FieldGeometry:
		result, err = normalizeGeometry(value)
	case FieldJSON:
		result = value
	case FieldReference:
		result, err = normalizeReference(value)
	case FieldManyReference:
		result, err = normalizeManyReference(value)
	default:
		err = fmt.Errorf("unsupported type %d", f.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, err)
	}

	return result, nil
}

// Equal compares values after normalization
func (f Field) Equal(a, b any) bool {
	left, errLeft := f.Normalize(a)
	right, errRight := f.Normalize(b)
	if errLeft != nil || errRight != nil {
		return fingerprint.Equal(a, b)
	}

	return fingerprint.Equal(left, right)
}

// Bronwaardes returns the source values of a normalized reference
func (f Field) Bronwaardes(value any) []string {
	switch v := value.(type) {
	case map[string]any:
		if s, ok := v[BronwaardeKey].(string); ok {
			return []string{s}
		}
	case []any:
		var result []string
		for _, element := range v {
			result = append(result, f.Bronwaardes(element)...)
		}

		return result
	case string:
		return []string{v}
	}

	return nil
}

// ParseMoment reads a normalized date or datetime value
func ParseMoment(value any) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}

	normalized, err := normalizeMoment(value, false)
	if err != nil || normalized == nil {
		return nil, err
	}

	moment, err := time.Parse(time.RFC3339, normalized.(string))
	if err != nil {
		return nil, err
	}

	return &moment, nil
}

func normalizeString(value any) any {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func normalizeInteger(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}

		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return nil, fmt.Errorf("%v is not an integer", v)
	}
}

// decimalPrecision bounds the number of digits after the decimal point
const decimalPrecision = 20

func normalizeDecimal(value any) (any, error) {
	var text string
	switch v := value.(type) {
	case float64:
		text = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		text = strconv.Itoa(v)
	case int64:
		text = strconv.FormatInt(v, 10)
	case json.Number:
		text = v.String()
	case string:
		text = strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
	default:
		return nil, fmt.Errorf("%v is not a decimal", v)
	}

	rat, ok := new(big.Rat).SetString(text)
	if !ok {
		return nil, fmt.Errorf("%q is not a decimal", text)
	}

	result := rat.FloatString(decimalPrecision)
	result = strings.TrimRight(result, "0")
	result = strings.TrimSuffix(result, ".")
	if result == "-0" {
		result = "0"
	}

	return result, nil
}

func normalizeBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "j", "ja", "y", "yes", "1":
			return true, nil
		case "false", "n", "nee", "no", "0":
			return false, nil
		}
	}

	return nil, fmt.Errorf("%v is not a boolean", value)
}

var momentLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	DATE_FORMAT,
}

// normalizeMoment returns YYYY-MM-DD for dates, RFC3339 UTC otherwise
func normalizeMoment(value any, dateOnly bool) (any, error) {
	var moment time.Time
	switch v := value.(type) {
	case time.Time:
		moment = v
	case *time.Time:
		if v == nil {
			return nil, nil
		}

		moment = *v
	case string:
		text := strings.TrimSpace(v)
		parsed := false
		for _, layout := range momentLayouts {
			if m, err := time.Parse(layout, text); err == nil {
				moment, parsed = m, true
				break
			}
		}

		if !parsed {
			return nil, fmt.Errorf("%q is not a date", text)
		}
	default:
		return nil, fmt.Errorf("%v is not a date", value)
	}

	if dateOnly {
		return moment.UTC().Format(DATE_FORMAT), nil
	}

	return moment.UTC().Truncate(time.Second).Format(time.RFC3339), nil
}

func normalizeGeometry(value any) (any, error) {
	text, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("geometry should be wkt, got %T", value)
	}

	return geometry.Normalize(text)
}

func normalizeReference(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		bronwaarde, found := v[BronwaardeKey]
		if !found || bronwaarde == nil {
			return nil, nil
		}

		return map[string]any{BronwaardeKey: normalizeString(bronwaarde)}, nil
	case string, float64, int64, int:
		return map[string]any{BronwaardeKey: normalizeString(v)}, nil
	default:
		return nil, fmt.Errorf("unsupported reference %v", value)
	}
}

func normalizeManyReference(value any) (any, error) {
	var elements []any
	switch v := value.(type) {
	case []any:
		elements = v
	case []string:
		for _, element := range v {
			elements = append(elements, element)
		}
	default:
		elements = []any{v}
	}

	result := make([]any, 0, len(elements))
	for _, element := range elements {
		reference, err := normalizeReference(element)
		if err != nil {
			return nil, err
		} else if reference != nil {
			result = append(result, reference)
		}
	}

	slices.SortFunc(result, func(a, b any) int {
		return strings.Compare(a.(map[string]any)[BronwaardeKey].(string), b.(map[string]any)[BronwaardeKey].(string))
	})

	return result, nil
}
