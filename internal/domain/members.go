package domain

import "encoding/json"

// decodeMembers decodes the object in data into typed and returns the
// members whose names are not in known, along with the set of members the
// object carried.
func decodeMembers(data []byte, typed any, known ...string) (extra map[string]json.RawMessage, present map[string]bool, err error) {
	if err := json.Unmarshal(data, typed); err != nil {
		return nil, nil, err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, nil, err
	}

	present = make(map[string]bool, len(members))
	for name, raw := range members {
		present[name] = true
		if contains(known, name) {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[name] = raw
	}
	return extra, present, nil
}

// encodeMembers adds extra to the object encoded in typed. Typed members win
// over extra members of the same name.
func encodeMembers(typed []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return typed, nil
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(typed, &members); err != nil {
		return nil, err
	}
	for name, raw := range extra {
		if _, ok := members[name]; !ok {
			members[name] = raw
		}
	}
	return json.Marshal(members)
}

func cloneMembers(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
