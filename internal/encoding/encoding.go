// Package encoding converts vectors to and from the length-prefixed
// little-endian byte layout used for BLOB columns by the CLI's SQLite
// ingestion.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when a vector or its encoding is invalid
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector encodes a float32 vector to bytes: an int32 element count
// followed by the little-endian elements.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	if len(vector) > math.MaxInt32 {
		return nil, fmt.Errorf("vector too large: %d elements exceeds maximum", len(vector))
	}

	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf, uint32(len(vector)))
	for i, val := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(val))
	}
	return buf, nil
}

// DecodeVector decodes bytes produced by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	length := int32(binary.LittleEndian.Uint32(data))
	if length < 0 {
		return nil, ErrInvalidVector
	}
	if length == 0 {
		return []float32{}, nil
	}
	if len(data)-4 < int(length)*4 {
		return nil, ErrInvalidVector
	}

	vector := make([]float32, length)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vector, nil
}

// ValidateVector checks that a vector is non-empty and free of NaN and Inf
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, val := range vector {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
