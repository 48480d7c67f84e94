package mesh

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Positional fields of a propagation node announce payload.
const (
	PNFieldLegacy = iota
	PNFieldTimebase
	PNFieldEnabled
	PNFieldTransferLimit
	PNFieldSyncLimit
	PNFieldStampCosts
	PNFieldMetadata

	PNFieldCount
)

// PNMetaName is the metadata key carrying the node display name.
const PNMetaName = 0x01

// DecodeAnnounceData decodes announce app data into its positional fields.
// Maps are decoded with untyped keys since metadata uses integer keys.
func DecodeAnnounceData(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty announce data")
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetMapDecoder(func(d *msgpack.Decoder) (interface{}, error) {
		return d.DecodeUntypedMap()
	})

	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("decode announce data: %w", err)
	}
	fields, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("announce data is %T, not an array", v)
	}
	return fields, nil
}

// PropagationAnnounceDataIsValid reports whether app data is a structurally
// valid propagation node announce.
func PropagationAnnounceDataIsValid(data []byte) bool {
	fields, err := DecodeAnnounceData(data)
	if err != nil || len(fields) < PNFieldCount {
		return false
	}
	if _, ok := AsInt(fields[PNFieldTimebase]); !ok {
		return false
	}
	if _, ok := fields[PNFieldEnabled].(bool); !ok {
		return false
	}
	if _, ok := AsInt(fields[PNFieldTransferLimit]); !ok {
		return false
	}
	if _, ok := AsInt(fields[PNFieldSyncLimit]); !ok {
		return false
	}
	costs, ok := fields[PNFieldStampCosts].([]interface{})
	if !ok || len(costs) < 3 {
		return false
	}
	for _, c := range costs[:3] {
		if _, ok := AsInt(c); !ok {
			return false
		}
	}
	if _, ok := fields[PNFieldMetadata].(map[interface{}]interface{}); !ok {
		return false
	}
	return true
}

// AsInt coerces a decoded value to int. Booleans and non-numeric strings are
// rejected, as are floats that are not finite.
func AsInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case uint:
		return int(t), true
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return int(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int(t), true
	case float32:
		return floatToInt(float64(t))
	case float64:
		return floatToInt(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	case []byte:
		return AsInt(string(t))
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int(f), true
}

// PropagationNodeInfo is the decoded form of a propagation node announce.
type PropagationNodeInfo struct {
	Timebase             time.Time
	Enabled              bool
	TransferLimit        int // KB per transfer
	SyncLimit            int // KB per sync
	StampCost            int
	StampCostFlexibility int
	PeeringCost          int
	Name                 string
}

// EncodePropagationAnnounceData packs node info into announce app data.
func EncodePropagationAnnounceData(info PropagationNodeInfo) ([]byte, error) {
	timebase := info.Timebase
	if timebase.IsZero() {
		timebase = time.Now()
	}
	metadata := map[interface{}]interface{}{}
	if info.Name != "" {
		metadata[PNMetaName] = []byte(info.Name)
	}

	data, err := msgpack.Marshal([]interface{}{
		false,
		timebase.Unix(),
		info.Enabled,
		info.TransferLimit,
		info.SyncLimit,
		[]interface{}{info.StampCost, info.StampCostFlexibility, info.PeeringCost},
		metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode announce data: %w", err)
	}
	return data, nil
}
