// Package jsoncodec encodes message bodies with sonic using encoding/json compatible settings.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalToString(v any) (string, error) {
	return defaultConfig.MarshalToString(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// DecodeBody unmarshals data into a fresh value of T.
func DecodeBody[T any](data []byte) (T, error) {
	var v T
	if err := defaultConfig.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}
