package content

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdEncoder/zstdDecoder are process-wide: construction parses zstd's
// tables, so every Doc encode/decode pays that cost once rather than
// once per call. Both are built eagerly at package init.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("content: constructing zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("content: constructing zstd decoder: %v", err))
	}
}

// Encode produces the compressed byte form stored in Doc.content: JSON
// serialisation of the DocContent value, then zstd compression.
func (c DocContent) Encode() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("content: marshalling doc content: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// Decode is Encode's inverse, satisfying the storage round-trip law:
// Decode(Encode(c)) reproduces c field-for-field.
func Decode(data []byte) (DocContent, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return DocContent{}, fmt.Errorf("content: decompressing doc content: %w", err)
	}
	var c DocContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return DocContent{}, fmt.Errorf("content: unmarshalling doc content: %w", err)
	}
	return c, nil
}
