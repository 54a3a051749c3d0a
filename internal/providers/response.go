package providers

import "strings"

// CleanJSON strips markdown code fences and surrounding prose from a model
// response so the remaining text can be decoded as JSON.
func CleanJSON(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	start := strings.IndexAny(response, "{[")
	if start < 0 {
		return response
	}
	closer := "}"
	if response[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(response, closer)
	if end <= start {
		return response
	}
	return response[start : end+1]
}
