package chatclient

import "encoding/json"

func decodeInto(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
