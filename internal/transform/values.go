package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/tripload/internal/domain"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
)

// CellValue returns the Go value at row of arr: int64, float64, string, bool or
// time.Time (UTC). Nulls are returned as nil.
func CellValue(arr arrow.Array, row int) (any, error) {
	if arr.IsNull(row) {
		return nil, nil
	}

	switch a := arr.(type) {
	case *array.Int8:
		return int64(a.Value(row)), nil
	case *array.Int16:
		return int64(a.Value(row)), nil
	case *array.Int32:
		return int64(a.Value(row)), nil
	case *array.Int64:
		return a.Value(row), nil
	case *array.Uint8:
		return int64(a.Value(row)), nil
	case *array.Uint16:
		return int64(a.Value(row)), nil
	case *array.Uint32:
		return int64(a.Value(row)), nil
	case *array.Uint64:
		v := a.Value(row)
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case *array.Float32:
		return float64(a.Value(row)), nil
	case *array.Float64:
		return a.Value(row), nil
	case *array.Boolean:
		return a.Value(row), nil
	case *array.String:
		return a.Value(row), nil
	case *array.LargeString:
		return a.Value(row), nil
	case *array.Binary:
		return string(a.Value(row)), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return timestampToTime(int64(a.Value(row)), unit), nil
	case *array.Date32:
		return time.Unix(int64(a.Value(row))*86400, 0).UTC(), nil
	case *array.Date64:
		return time.UnixMilli(int64(a.Value(row))).UTC(), nil
	case *array.Dictionary:
		return CellValue(a.Dictionary(), a.GetValueIndex(row))
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", arr.DataType())
	}
}

func timestampToTime(v int64, unit arrow.TimeUnit) time.Time {
	switch unit {
	case arrow.Second:
		return time.Unix(v, 0).UTC()
	case arrow.Millisecond:
		return time.UnixMilli(v).UTC()
	case arrow.Microsecond:
		return time.UnixMicro(v).UTC()
	default:
		return time.Unix(0, v).UTC()
	}
}

// Coerce converts a CellValue result to the Go type pgx encodes for kind.
func Coerce(v any, kind domain.ColumnKind) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch kind {
	case domain.ColumnKindInteger:
		switch x := v.(type) {
		case int64:
			if x < math.MinInt32 || x > math.MaxInt32 {
				return nil, fmt.Errorf("value %d out of range for INT", x)
			}
			return int32(x), nil
		case float64:
			if math.Mod(x, 1) != 0 || x < math.MinInt32 || x > math.MaxInt32 {
				return nil, fmt.Errorf("unable to coerce %v to INT", x)
			}
			return int32(x), nil
		case bool:
			if x {
				return int32(1), nil
			}
			return int32(0), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("unable to coerce %q to INT", x)
			}
			return int32(i), nil
		}
	case domain.ColumnKindFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("unable to coerce %q to FLOAT", x)
			}
			return f, nil
		}
	case domain.ColumnKindTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			ts, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("unable to coerce %q to TIMESTAMP", x)
			}
			return ts, nil
		}
	case domain.ColumnKindText:
		switch x := v.(type) {
		case string:
			return x, nil
		case time.Time:
			return x.Format("2006-01-02 15:04:05"), nil
		default:
			return fmt.Sprint(x), nil
		}
	default:
		return nil, fmt.Errorf("unknown column kind %q", kind)
	}

	return nil, fmt.Errorf("unable to coerce %T to %s", v, kind)
}
