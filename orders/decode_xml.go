package orders

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// XMLDecoder parses the markup order payload:
//
//	<order><email>jane@example.com</email><sku>SKU-1</sku><quantity>3</quantity></order>
//
// The quantity element is coerced from its text content, so surrounding
// whitespace is tolerated but non-numeric text is a decode failure.
type XMLDecoder struct{}

// Decode implements Decoder.
func (XMLDecoder) Decode(value []byte) (Line, error) {
	var raw struct {
		XMLName  xml.Name `xml:"order"`
		Email    string   `xml:"email"`
		SKU      string   `xml:"sku"`
		Quantity string   `xml:"quantity"`
	}

	if err := xml.Unmarshal(value, &raw); err != nil {
		return Line{}, &DecodeError{Encoding: "xml", Err: err}
	}

	qtyText := strings.TrimSpace(raw.Quantity)
	if qtyText == "" {
		return Line{}, &DecodeError{Encoding: "xml", Err: fmt.Errorf("missing quantity")}
	}
	quantity, err := strconv.ParseInt(qtyText, 10, 64)
	if err != nil {
		return Line{}, &DecodeError{Encoding: "xml", Err: fmt.Errorf("quantity %q is not an integer", qtyText)}
	}

	line := Line{
		Email:    strings.TrimSpace(raw.Email),
		SKU:      strings.TrimSpace(raw.SKU),
		Quantity: quantity,
	}
	if err := line.validate(); err != nil {
		return Line{}, &DecodeError{Encoding: "xml", Err: err}
	}

	return line, nil
}
