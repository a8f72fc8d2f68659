package geo

import "bytes"

var (
	locationStart = []byte(" [")
	locationEnd   = []byte("]")
)

// ParseLocation extracts the location descriptor from raw tool output: the
// text between the first " [" and the first "]" that follows it.
func ParseLocation(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", newError(ErrorCodeEmptyOutput, "geo: tool produced no output", false, nil)
	}
	start := bytes.Index(raw, locationStart)
	if start < 0 {
		return "", newError(ErrorCodeNoLocationMarker, "geo: no location marker in tool output", false, nil)
	}
	rest := raw[start+len(locationStart):]
	end := bytes.Index(rest, locationEnd)
	if end < 0 {
		return "", newError(ErrorCodeUnterminatedLocation, "geo: location marker is not terminated", false, nil)
	}
	return string(rest[:end]), nil
}
