package payment

import (
	"encoding/json"
	"strconv"
	"time"
)

// GenerateReference builds prefix + last 4 phone digits + last 6 digits of the unix time,
// e.g. AD5678123456. The same phone and second always give the same reference.
func GenerateReference(prefix, phone string, at time.Time) string {
	return prefix + lastN(phone, 4) + lastN(strconv.FormatInt(at.Unix(), 10), 6)
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// mergeJSON sets key on the JSON object in raw, starting a new object when raw is empty.
func mergeJSON(raw json.RawMessage, key string, value interface{}) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	}

	var encoded json.RawMessage
	switch v := value.(type) {
	case json.RawMessage:
		encoded = v
	case []byte:
		encoded = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		encoded = b
	}
	if len(encoded) == 0 {
		encoded = json.RawMessage("null")
	} else if !json.Valid(encoded) {
		quoted, err := json.Marshal(string(encoded))
		if err != nil {
			return nil, err
		}
		encoded = quoted
	}

	doc[key] = encoded
	return json.Marshal(doc)
}
