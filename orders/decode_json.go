package orders

import "encoding/json"

// JSONDecoder parses the structured-text order payload:
//
//	{"email": "jane@example.com", "sku": "SKU-1", "quantity": 3}
type JSONDecoder struct{}

// Decode implements Decoder.
func (JSONDecoder) Decode(value []byte) (Line, error) {
	var raw struct {
		Email    string `json:"email"`
		SKU      string `json:"sku"`
		Quantity int64  `json:"quantity"`
	}

	if err := json.Unmarshal(value, &raw); err != nil {
		return Line{}, &DecodeError{Encoding: "json", Err: err}
	}

	line := Line{
		Email:    raw.Email,
		SKU:      raw.SKU,
		Quantity: raw.Quantity,
	}
	if err := line.validate(); err != nil {
		return Line{}, &DecodeError{Encoding: "json", Err: err}
	}

	return line, nil
}
