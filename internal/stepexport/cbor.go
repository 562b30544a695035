package stepexport

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("stepexport: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("stepexport: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes doc with core deterministic encoding.
func Marshal(doc Document) ([]byte, error) {
	data, err := encMode.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode cbor: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a CBOR document.
func Unmarshal(data []byte) (Document, error) {
	var doc Document
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode cbor: %w", err)
	}
	return doc, nil
}
