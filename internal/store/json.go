package store

import "encoding/json"

func jsonMarshalMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func jsonUnmarshalMap(b []byte, dst *map[string]string) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

func jsonMarshalCounts(m map[string]int) ([]byte, error) {
	if m == nil {
		m = map[string]int{}
	}
	return json.Marshal(m)
}

func jsonUnmarshalCounts(b []byte, dst *map[string]int) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
