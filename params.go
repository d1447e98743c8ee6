package main

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/dgnsrekt/dropscout/internal/cache"
)

// parseParams turns KEY=VALUE arguments into lookup params. It returns nil
// when there are no arguments.
func parseParams(args []string) (cache.Params, error) {
	if len(args) == 0 {
		return nil, nil
	}

	params := make(cache.Params, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected KEY=VALUE", arg)
		}
		params[k] = parseValue(v)
	}
	return params, nil
}

// queryParams turns URL query values into lookup params, skipping the
// reserved names. It returns nil when nothing remains.
func queryParams(q url.Values, reserved ...string) cache.Params {
	params := cache.Params{}
	for k, vs := range q {
		if len(vs) == 0 || slices.Contains(reserved, k) {
			continue
		}
		params[k] = parseValue(vs[len(vs)-1])
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// parseValue reads numbers, booleans, null and other JSON literals as such
// and anything else as a plain string, so page=1 builds the same key as
// Params{"page": 1} from code.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
