package ipld

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EncodeJSON renders v in the DAG-JSON convention: bytes become
// {"/": {"bytes": "<base64>"}}, links become {"/": "<cid-text>"}, and maps
// preserve their canonical key order.
func EncodeJSON(v Value) ([]byte, error) {
	node, err := toJSONNode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(node)
}

func toJSONNode(v Value) (interface{}, error) {
	switch v.Kind() {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.AsBool(), nil
	case KindInt:
		return v.AsInt(), nil
	case KindFloat:
		// keep a fraction or exponent so a whole float does not decode as Int
		s := strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEN") {
			s += ".0"
		}
		return json.Number(s), nil
	case KindString:
		return v.AsString(), nil
	case KindBytes:
		return map[string]interface{}{
			"/": map[string]interface{}{"bytes": base64.StdEncoding.EncodeToString(v.AsBytes())},
		}, nil
	case KindLink:
		return map[string]interface{}{"/": v.AsLink().String()}, nil
	case KindList:
		items := v.AsList()
		out := make([]interface{}, len(items))
		for i, it := range items {
			n, err := toJSONNode(it)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case KindMap:
		keys, vals := v.MapKeys(), v.MapValues()
		out := make(orderedJSONObject, 0, len(keys))
		for i, k := range keys {
			n, err := toJSONNode(vals[i])
			if err != nil {
				return nil, err
			}
			out = append(out, jsonField{key: k, value: n})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown value kind", ErrCanonicalization)
	}
}

// jsonField/orderedJSONObject preserve canonical map key order through
// json.Marshal, which encoding/json does not guarantee for plain maps.
type jsonField struct {
	key   string
	value interface{}
}

type orderedJSONObject []jsonField

func (o orderedJSONObject) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// DecodeJSON parses DAG-JSON bytes back into a Value.
func DecodeJSON(data []byte) (Value, error) {
	var node interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&node); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrCapsuleDecode, err)
	}
	return fromJSONNode(node)
}

func fromJSONNode(node interface{}) (Value, error) {
	switch n := node.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(n), nil
	case json.Number:
		if iv, err := n.Int64(); err == nil {
			return Int(iv), nil
		}
		fv, err := n.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrCapsuleDecode, err)
		}
		return Float(fv), nil
	case string:
		return String(n), nil
	case []interface{}:
		items := make([]Value, len(n))
		for i, it := range n {
			v, err := fromJSONNode(it)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]interface{}:
		if slash, ok := n["/"]; ok && len(n) == 1 {
			switch s := slash.(type) {
			case string:
				c, err := ParseCID(s)
				if err != nil {
					return Value{}, err
				}
				return Link(c), nil
			case map[string]interface{}:
				if b64, ok := s["bytes"].(string); ok && len(s) == 1 {
					raw, err := base64.StdEncoding.DecodeString(b64)
					if err != nil {
						return Value{}, fmt.Errorf("%w: %v", ErrCapsuleDecode, err)
					}
					return Bytes(raw), nil
				}
			}
		}
		entries := make(map[string]Value, len(n))
		for k, v := range n {
			cv, err := fromJSONNode(v)
			if err != nil {
				return Value{}, err
			}
			entries[k] = cv
		}
		return Map(entries), nil
	default:
		return Value{}, fmt.Errorf("%w: unrecognized JSON node type %T", ErrCapsuleDecode, node)
	}
}
