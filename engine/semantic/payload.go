package semantic

import (
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
)

// toValue converts a metadata value to a Qdrant payload value. Unknown
// types are stored as their fmt representation.
func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int32:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(tv)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case time.Time:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv.UTC().Format(time.RFC3339)}}
	case []string:
		vals := make([]*pb.Value, len(tv))
		for i, s := range tv {
			vals[i] = toValue(s)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	case []any:
		vals := make([]*pb.Value, len(tv))
		for i, x := range tv {
			vals[i] = toValue(x)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	case map[string]any:
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: toPayload(tv)}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func toPayload(m map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		out[k] = toValue(v)
	}
	return out
}

// fromValue is the inverse of toValue. Lists of strings come back as
// []string; mixed lists as []any.
func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_ListValue:
		vals := k.ListValue.GetValues()
		strs := make([]string, 0, len(vals))
		for _, x := range vals {
			s, ok := x.GetKind().(*pb.Value_StringValue)
			if !ok {
				strs = nil
				break
			}
			strs = append(strs, s.StringValue)
		}
		if strs != nil {
			return strs
		}
		out := make([]any, len(vals))
		for i, x := range vals {
			out[i] = fromValue(x)
		}
		return out
	case *pb.Value_StructValue:
		return fromPayload(k.StructValue.GetFields())
	default:
		return nil
	}
}

func fromPayload(p map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = fromValue(v)
	}
	return out
}

// splitPayload separates the chunk text from its metadata.
func splitPayload(p map[string]*pb.Value) (string, map[string]any) {
	meta := fromPayload(p)
	content, _ := meta[PayloadContent].(string)
	delete(meta, PayloadContent)
	return content, meta
}
