package compare

import (
	"slices"

	"github.com/zefrenchwan/registries.git/fingerprint"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/schema"
)

// Diff returns the field level changes from stored to incoming, sorted by key.
// Schema fields use type aware equality, other keys their canonical form.
func Diff(collection schema.Collection, stored, incoming model.Record) []model.Modification {
	keys := make(map[string]bool)
	for key := range stored {
		keys[key] = true
	}

	for key := range incoming {
		keys[key] = true
	}

	var result []model.Modification
	for key := range keys {
		if model.IsMetadata(key) {
			continue
		}

		oldValue, newValue := stored[key], incoming[key]
		field, found := collection.Fields[key]
		if !found {
			if !fingerprint.Equal(oldValue, newValue) {
				result = append(result, model.Modification{Key: key, OldValue: oldValue, NewValue: newValue})
			}

			continue
		}

		if field.Equal(oldValue, newValue) {
			continue
		}

		if normalized, err := field.Normalize(oldValue); err == nil {
			oldValue = normalized
		}

		result = append(result, model.Modification{Key: key, OldValue: oldValue, NewValue: newValue})
	}

	slices.SortFunc(result, func(a, b model.Modification) int {
		if a.Key < b.Key {
			return -1
		} else if a.Key > b.Key {
			return 1
		}

		return 0
	})

	return result
}
