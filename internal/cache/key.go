package cache

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Params is the parameter set a lookup was made with.
type Params map[string]any

// BuildKey canonicalizes a category and parameter set into a cache key of
// the form "{category}_{json}". Map keys are emitted in sorted order at every
// nesting level, so two parameter sets with the same pairs always produce
// the same key regardless of how they were built.
func BuildKey(category string, params Params) (string, error) {
	if params == nil {
		params = Params{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params for %q: %w", category, err)
	}
	return category + "_" + string(encoded), nil
}

// categoryPrefix is the key prefix shared by every entry of a category.
func categoryPrefix(category string) string {
	return category + "_"
}
