package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
)

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func invalidQuery(key, format string, details map[string]any, args ...any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["field"] = key
	return pkgerrors.Newf(pkgerrors.CodeValidation, key+" "+format, args...).WithDetails(details)
}

// ParseQueryInt returns defaultVal when key is absent and rejects values outside [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, invalidQuery(key, "must be numeric", nil)
	case value < min || value > max:
		return 0, invalidQuery(key, "must be between %d and %d", map[string]any{"min": min, "max": max}, min, max)
	}
	return value, nil
}

func ParseQueryString(r *http.Request, key string, maxLen int) (string, error) {
	raw := queryValue(r, key)
	if maxLen > 0 && len(raw) > maxLen {
		return "", invalidQuery(key, "is too long", map[string]any{"max": maxLen})
	}
	return raw, nil
}

// ParseQueryEnum returns nil when key is absent. parse is one of the enums
// package Parse* functions.
func ParseQueryEnum[T ~string](r *http.Request, key string, parse func(string) (T, error)) (*T, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return nil, nil
	}
	value, err := parse(raw)
	if err != nil {
		return nil, invalidQuery(key, "is not recognised", map[string]any{"value": raw})
	}
	return &value, nil
}
