package pagerank

import (
	"encoding/binary"
	"math"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"
)

// scoreFormat encodes the values the algorithm moves around: float64 scores
// and int counters.
type scoreFormat struct{}

// Serialize encodes value into an any.Any payload.
func (scoreFormat) Serialize(value interface{}) (*any.Any, error) {
	scratchBuf := make([]byte, binary.MaxVarintLen64)
	switch v := value.(type) {
	case int:
		nBytes := binary.PutVarint(scratchBuf, int64(v))
		return &any.Any{TypeUrl: "i", Value: scratchBuf[:nBytes]}, nil
	case float64:
		nBytes := binary.PutUvarint(scratchBuf, math.Float64bits(v))
		return &any.Any{TypeUrl: "f", Value: scratchBuf[:nBytes]}, nil
	default:
		return nil, xerrors.Errorf("serialize: unknown type %#+v", v)
	}
}

// Unserialize decodes an any.Any payload produced by Serialize.
func (scoreFormat) Unserialize(raw *any.Any) (interface{}, error) {
	switch raw.TypeUrl {
	case "i":
		v, nBytes := binary.Varint(raw.Value)
		if nBytes <= 0 {
			return nil, xerrors.Errorf("unserialize: malformed int payload")
		}
		return int(v), nil
	case "f":
		v, nBytes := binary.Uvarint(raw.Value)
		if nBytes <= 0 {
			return nil, xerrors.Errorf("unserialize: malformed float payload")
		}
		return math.Float64frombits(v), nil
	default:
		return nil, xerrors.Errorf("unserialize: unknown type %q", raw.TypeUrl)
	}
}
