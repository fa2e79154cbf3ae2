package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const unknownText = "unknown"

// Number is a numeric metric that may be the unknown sentinel. The zero
// value is unknown, so a metric is never absent.
type Number struct {
	Value float64
	Known bool
}

func Known(v float64) Number { return Number{Value: v, Known: true} }

func UnknownNumber() Number { return Number{} }

func (n Number) String() string {
	if !n.Known {
		return unknownText
	}
	return fmt.Sprintf("%g", n.Value)
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Known {
		return json.Marshal(unknownText)
	}
	return json.Marshal(n.Value)
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = Number{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != unknownText {
			return fmt.Errorf("invalid metric value %q", s)
		}
		*n = Number{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Known(v)
	return nil
}

func (n Number) EncodeMsgpack(enc *msgpack.Encoder) error {
	if !n.Known {
		return enc.EncodeNil()
	}
	return enc.EncodeFloat64(n.Value)
}

func (n *Number) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*n = Number{}
	case float64:
		*n = Known(x)
	case float32:
		*n = Known(float64(x))
	case int64:
		*n = Known(float64(x))
	case uint64:
		*n = Known(float64(x))
	default:
		return fmt.Errorf("invalid msgpack metric %T", v)
	}
	return nil
}

// Category is a categorical metric value.
type Category string

const (
	CategoryUnknown    Category = unknownText
	CategorySymmetric  Category = "symmetric"
	CategoryAsymmetric Category = "asymmetric"
	TremorNone         Category = "none"
	TremorDetected     Category = "detected"
	ExpressionNeutral  Category = "neutral"
)

func (c Category) IsUnknown() bool {
	return c == "" || c == CategoryUnknown
}

type GaitMetrics struct {
	StrideLength      Number   `json:"stride_length"`
	Symmetry          Category `json:"gait_symmetry"`
	Posture           Category `json:"posture"`
	ShoulderAlignment Number   `json:"shoulder_alignment"`
	HipAlignment      Number   `json:"hip_alignment"`
}

func UnknownGait() GaitMetrics {
	return GaitMetrics{
		Symmetry: CategoryUnknown,
		Posture:  CategoryUnknown,
	}
}

type FacialMetrics struct {
	Symmetry    Category `json:"symmetry"`
	Tremor      Category `json:"tremors"`
	Expression  Category `json:"expression"`
	EyeDistance Number   `json:"eye_distance"`
}

func UnknownFacial() FacialMetrics {
	return FacialMetrics{
		Symmetry:   CategoryUnknown,
		Tremor:     CategoryUnknown,
		Expression: CategoryUnknown,
	}
}
