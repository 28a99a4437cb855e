package masking

import "strings"

const maskToken = "****"

// MaskName keeps the first rune of each word of a personal name.
func MaskName(value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	for i, field := range fields {
		runes := []rune(field)
		fields[i] = string(runes[0]) + maskToken
	}
	return strings.Join(fields, " ")
}

// MaskJSON returns a copy of the input with the named keys masked at any depth.
func MaskJSON(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}

	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[key] = struct{}{}
	}

	return maskMap(input, sensitive)
}

func maskMap(input map[string]any, sensitive map[string]struct{}) map[string]any {
	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, ok := sensitive[trimmedKey]; ok {
			if s, isString := value.(string); isString {
				masked[trimmedKey] = MaskName(s)
				continue
			}
		}
		masked[trimmedKey] = maskValue(value, sensitive)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(value any, sensitive map[string]struct{}) any {
	switch cast := value.(type) {
	case map[string]any:
		return maskMap(cast, sensitive)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item, sensitive))
		}
		return out
	default:
		return value
	}
}
