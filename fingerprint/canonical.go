package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/zefrenchwan/registries.git/model"
)

// Canonical returns a deterministic JSON encoding of value:
// keys are sorted, strings are NFC normalized, HTML is not escaped,
// integral numbers have no decimals and times are RFC3339 UTC.
// Metadata keys of records are skipped.
func Canonical(value any) ([]byte, error) {
	var buffer bytes.Buffer
	if err := writeCanonical(&buffer, value); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

func writeCanonical(buffer *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buffer.WriteString("null")
	case bool:
		buffer.WriteString(strconv.FormatBool(v))
	case string:
		return writeString(buffer, v)
	case int:
		buffer.WriteString(strconv.FormatInt(int64(v), 10))
	case int32:
		buffer.WriteString(strconv.FormatInt(int64(v), 10))
	case int64:
		buffer.WriteString(strconv.FormatInt(v, 10))
	case float32:
		return writeFloat(buffer, float64(v))
	case float64:
		return writeFloat(buffer, v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return writeFloat(buffer, f)
		}

		return writeString(buffer, v.String())
	case time.Time:
		return writeString(buffer, v.UTC().Format(time.RFC3339))
	case *time.Time:
		if v == nil {
			buffer.WriteString("null")
			return nil
		}

		return writeString(buffer, v.UTC().Format(time.RFC3339))
	case []any:
		buffer.WriteByte('[')
		for index, element := range v {
			if index > 0 {
				buffer.WriteByte(',')
			}

			if err := writeCanonical(buffer, element); err != nil {
				return fmt.Errorf("[%d]: %w", index, err)
			}
		}
		buffer.WriteByte(']')
	case []string:
		elements := make([]any, len(v))
		for index, element := range v {
			elements[index] = element
		}

		return writeCanonical(buffer, elements)
	case model.Record:
		return writeObject(buffer, v, true)
	case map[string]any:
		return writeObject(buffer, v, false)
	default:
		return fmt.Errorf("unsupported type for canonical json: %T", value)
	}

	return nil
}

func writeObject(buffer *bytes.Buffer, values map[string]any, skipMetadata bool) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		if skipMetadata && model.IsMetadata(key) {
			continue
		}

		keys = append(keys, key)
	}

	slices.Sort(keys)
	buffer.WriteByte('{')
	for index, key := range keys {
		if index > 0 {
			buffer.WriteByte(',')
		}

		if err := writeString(buffer, key); err != nil {
			return err
		}

		buffer.WriteByte(':')
		if err := writeCanonical(buffer, values[key]); err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
	}

	buffer.WriteByte('}')
	return nil
}

func writeString(buffer *bytes.Buffer, value string) error {
	var local bytes.Buffer
	encoder := json.NewEncoder(&local)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(norm.NFC.String(value)); err != nil {
		return err
	}

	// encoder adds a trailing newline
	buffer.Write(bytes.TrimSuffix(local.Bytes(), []byte("\n")))
	return nil
}

func writeFloat(buffer *bytes.Buffer, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("invalid number %v", value)
	}

	if value == math.Trunc(value) && math.Abs(value) < 1e15 {
		buffer.WriteString(strconv.FormatInt(int64(value), 10))
		return nil
	}

	buffer.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
	return nil
}
