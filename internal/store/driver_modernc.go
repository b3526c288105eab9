//go:build !sqlite_vec || !cgo

package store

import (
	"database/sql/driver"
	"fmt"
	"math"

	sqlite "modernc.org/sqlite"
)

// driverName selects the pure-Go driver in the default build.
const driverName = "sqlite"

func init() {
	// vec_distance_cosine mirrors the sqlite-vec extension function so the
	// vector queries run unchanged on the pure-Go driver. Deterministic:
	// equal blobs always produce the same distance.
	_ = sqlite.RegisterDeterministicScalarFunction("vec_distance_cosine", 2, vecDistanceCosine)
}

// vecDistanceCosine computes cosine distance (1 - cosine similarity) between
// two little-endian float32 blobs.
func vecDistanceCosine(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_distance_cosine expects 2 arguments")
	}
	a, err := blobArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobArg(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return float64(1), nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vec_distance_cosine: dimension mismatch %d vs %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		af := float64(a[i])
		bf := float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return float64(1), nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

// blobArg decodes one SQL argument into a float32 vector.
func blobArg(v driver.Value) ([]float32, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(x)%4 != 0 {
			return nil, fmt.Errorf("vec_distance_cosine: blob length %d not a multiple of 4", len(x))
		}
		return decodeFloat32Blob(x), nil
	case string:
		if len(x)%4 != 0 {
			return nil, fmt.Errorf("vec_distance_cosine: blob length %d not a multiple of 4", len(x))
		}
		return decodeFloat32Blob([]byte(x)), nil
	default:
		return nil, fmt.Errorf("vec_distance_cosine: unsupported argument type %T", v)
	}
}
