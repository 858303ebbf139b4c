// Package attrs reads values back out of slog-style key/value slices.
package attrs

// Extract returns the value stored under key in a [key1, value1, key2, value2, ...]
// slice. The second result is false when the key is missing or the value has
// another type.
func Extract[T any](attrs []any, key string) (T, bool) {
	var zero T
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		v, ok := attrs[i+1].(T)
		return v, ok
	}
	return zero, false
}

// ExtractString returns the string under key, or "".
func ExtractString(attrs []any, key string) string {
	v, _ := Extract[string](attrs, key)
	return v
}

// ExtractInt64 returns the int64 under key, or 0.
func ExtractInt64(attrs []any, key string) int64 {
	v, _ := Extract[int64](attrs, key)
	return v
}
