package matching

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector serializes a float32 vector to little-endian bytes for the
// embedding BLOB columns.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes little-endian bytes into a float32 vector.
// Returns an error if the byte slice length is not a multiple of 4
// (indicates data corruption).
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// CosineSimilarity returns dot(a,b) / (|a| * |b|), or 0 for mismatched or
// zero-norm vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, aNormSq, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aNormSq += float64(a[i]) * float64(a[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if aNormSq == 0 || bNormSq == 0 {
		return 0
	}
	return dot / (math.Sqrt(aNormSq) * math.Sqrt(bNormSq))
}
