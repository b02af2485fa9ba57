package models

import "encoding/json"

// -----------------------------------------------------------------------------
// Session fields are a string-typed bag; list values travel as serialized
// JSON and are only interpreted by their known callers.
// -----------------------------------------------------------------------------

// EncodeStringList serializes a list value for the session field bag.
func EncodeStringList(values []string) string {
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// -----------------------------------------------------------------------------

// DecodeStringList parses a list value; malformed input yields nil.
func DecodeStringList(raw string) []string {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
