package mastertable

import (
	"encoding/json"

	"github.com/IllayDevel/pondb/internal/pondb"
)

// wireCell is the JSON-friendly projection of a pondb.Cell, grounded on
// the teacher's JSON row codec (pkg/resource/badger/row_codec.go),
// generalized to carry the cell's tag alongside its value so a decoded
// row round-trips through the same comparable types it was built with.
type wireCell struct {
	Tag   pondb.CellTag `json:"tag"`
	Value interface{}   `json:"value"`
}

func encodeRow(row []pondb.Cell) ([]byte, error) {
	wire := make([]wireCell, len(row))
	for i, c := range row {
		wire[i] = wireCell{Tag: c.Tag, Value: c.Value}
	}
	buf, err := json.Marshal(wire)
	if err != nil {
		return nil, pondb.NewIOError("encode row", err)
	}
	return buf, nil
}

func decodeRow(buf []byte) ([]pondb.Cell, error) {
	var wire []wireCell
	if err := json.Unmarshal(buf, &wire); err != nil {
		return nil, pondb.NewIOError("decode row", err)
	}
	row := make([]pondb.Cell, len(wire))
	for i, w := range wire {
		v, err := normalizeNumeric(w)
		if err != nil {
			return nil, err
		}
		row[i] = pondb.Cell{Tag: w.Tag, Value: v}
	}
	return row, nil
}

// normalizeNumeric restores int64/[]byte typing that JSON's generic
// number/string decoding collapses, so Cell.Compare's type switch keeps
// working after a round trip.
func normalizeNumeric(w wireCell) (interface{}, error) {
	switch w.Tag {
	case pondb.CellNumeric:
		switch v := w.Value.(type) {
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
			return v, nil
		default:
			return v, nil
		}
	case pondb.CellBinary:
		if s, ok := w.Value.(string); ok {
			return []byte(s), nil
		}
		return w.Value, nil
	default:
		return w.Value, nil
	}
}
