package masking

import (
	"net/url"
	"strings"
)

const maskToken = "****"

// MaskSecret keeps the last four characters of value.
func MaskSecret(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return maskToken
	}
	return maskToken + v[len(v)-4:]
}

// MaskURL keeps the scheme and host of a webhook URL and masks its path,
// which carries the webhook credential.
func MaskURL(raw string) string {
	v := strings.TrimSpace(raw)
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return MaskSecret(v)
	}
	return u.Scheme + "://" + u.Host + "/" + MaskSecret(u.EscapedPath()+querySuffix(u))
}

func querySuffix(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

// MaskJSON returns a masked copy of input. URL-looking strings keep their
// host.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = mask(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mask(value any) any {
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "http://") {
			return MaskURL(v)
		}
		return MaskSecret(v)
	case map[string]any:
		return MaskJSON(v)
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, mask(item))
		}
		return out
	default:
		return value
	}
}
