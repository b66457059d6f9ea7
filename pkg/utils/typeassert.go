package utils

import "fmt"

// GetMapField reads key from m and asserts its type.
func GetMapField[T any](m map[string]any, key string) (T, error) {
	var zero T
	value, exists := m[key]
	if !exists {
		return zero, fmt.Errorf("field '%s' not found", key)
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("field '%s' has type %T, expected %T", key, value, zero)
	}
	return typed, nil
}

// GetMapFieldOr reads key from m, falling back to def when absent or mistyped.
func GetMapFieldOr[T any](m map[string]any, key string, def T) T {
	v, err := GetMapField[T](m, key)
	if err != nil {
		return def
	}
	return v
}
