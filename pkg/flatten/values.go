package flatten

import (
	"fmt"
	"strconv"
	"time"

	"github.com/orneryd/norm/pkg/domain"
)

// Field value tags written ahead of each value by AddValue.
const (
	tagNil      = "n"
	tagString   = "s"
	tagInt      = "i"
	tagFloat    = "f"
	tagBool     = "b"
	tagObjectID = "o"
	tagTime     = "t"
)

// AddObjectID writes id. The zero id round-trips.
func (w *Writer) AddObjectID(id domain.ObjectID) {
	w.AddString(id.ClassID)
	w.AddString(id.Value)
}

// GetObjectID reads an id written by AddObjectID.
func (r *Reader) GetObjectID() domain.ObjectID {
	return domain.ObjectID{ClassID: r.GetString(), Value: r.GetString()}
}

// AddValue writes a persisted field value. Supported are nil, strings,
// integers, floats, booleans, times and ObjectIDs.
func (w *Writer) AddValue(v any) error {
	switch val := v.(type) {
	case nil:
		w.AddString(tagNil)
	case string:
		w.AddString(tagString)
		w.AddString(val)
	case int:
		w.AddString(tagInt)
		w.AddInt(int64(val))
	case int32:
		w.AddString(tagInt)
		w.AddInt(int64(val))
	case int64:
		w.AddString(tagInt)
		w.AddInt(val)
	case float32:
		w.AddString(tagFloat)
		w.AddString(strconv.FormatFloat(float64(val), 'g', -1, 64))
	case float64:
		w.AddString(tagFloat)
		w.AddString(strconv.FormatFloat(val, 'g', -1, 64))
	case bool:
		w.AddString(tagBool)
		w.AddBool(val)
	case time.Time:
		w.AddString(tagTime)
		w.AddString(val.Format(time.RFC3339Nano))
	case domain.ObjectID:
		w.AddString(tagObjectID)
		w.AddObjectID(val)
	default:
		return fmt.Errorf("flatten: unsupported field value type %T", v)
	}
	return nil
}

// GetValue reads a value written by AddValue. int, int32 and int64 all
// come back as int64, float32 as float64.
func (r *Reader) GetValue() any {
	switch tag := r.GetString(); tag {
	case tagNil, "":
		return nil
	case tagString:
		return r.GetString()
	case tagInt:
		return r.GetInt()
	case tagFloat:
		f, err := strconv.ParseFloat(r.GetString(), 64)
		if err != nil {
			r.Fail(fmt.Errorf("flatten: float value: %w", err))
			return nil
		}
		return f
	case tagBool:
		return r.GetBool()
	case tagTime:
		t, err := time.Parse(time.RFC3339Nano, r.GetString())
		if err != nil {
			r.Fail(fmt.Errorf("flatten: time value: %w", err))
			return nil
		}
		return t
	case tagObjectID:
		return r.GetObjectID()
	default:
		r.Fail(fmt.Errorf("flatten: unknown value tag %q", tag))
		return nil
	}
}
