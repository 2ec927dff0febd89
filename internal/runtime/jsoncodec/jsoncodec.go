package jsoncodec

import (
	"bytes"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// Null is the JSON literal used for absent callbacks and timed-out arguments.
var Null = []byte("null")

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

// IsNull reports whether data is the JSON null literal or empty.
func IsNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, Null)
}
