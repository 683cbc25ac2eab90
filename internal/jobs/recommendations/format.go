package recommendations

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// formatSeconds renders a duration the way the API prints it, e.g. "2592000s".
func formatSeconds(s int64) string {
	return strconv.FormatInt(s, 10) + "s"
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	default:
		return fmt.Sprint(t)
	}
}
