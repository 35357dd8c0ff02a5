package script

import (
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/AnneHtowardshaway/rust-study/pkg/runtime"
)

// ValueSpec is a runtime value written in YAML.
//
// Plain scalars map to i32 integers, f64 floats, bools and owned Strings; a
// sequence is an array; a single-key mapping selects anything else:
//
//	{int: 255, type: u8}  {float: 3.14, type: f32}  {char: z}
//	{str: literal}        {string: owned}           {tuple: [500, 6.4]}
//	{array: [1, 2]}       {vec: [1, 2]}             {unit: true}
//	{zero: usize}
type ValueSpec struct {
	Value runtime.Value
}

// Spec wraps a runtime value.
func Spec(v runtime.Value) *ValueSpec {
	return &ValueSpec{Value: v}
}

// ParseValue decodes a value from YAML flow text such as `{tuple: [1, "a"]}`.
func ParseValue(text string) (runtime.Value, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("value: empty input")
	}
	// Decode through a node so a bare `~` still reaches decodeValue.
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		return nil, err
	}
	v, err := decodeValue(&node)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("value: empty input")
	}
	return v, nil
}

func (v *ValueSpec) UnmarshalYAML(node *yaml.Node) error {
	val, err := decodeValue(node)
	if err != nil {
		return err
	}
	v.Value = val
	return nil
}

func (v ValueSpec) MarshalYAML() (any, error) {
	return encodeValue(v.Value)
}

func decodeValue(node *yaml.Node) (runtime.Value, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return decodeValue(node.Content[0])
	case yaml.AliasNode:
		return decodeValue(node.Alias)
	case yaml.ScalarNode:
		return decodeScalar(node)
	case yaml.SequenceNode:
		elems, err := decodeElements(node)
		if err != nil {
			return nil, err
		}
		return &runtime.ArrayValue{Elements: elems}, nil
	case yaml.MappingNode:
		return decodeTagged(node)
	}
	return nil, valueError(node, "unsupported value node")
}

func decodeScalar(node *yaml.Node) (runtime.Value, error) {
	switch node.ShortTag() {
	case "!!int":
		return decodeInteger(node, "")
	case "!!float":
		return decodeFloat(node, "")
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, err
		}
		return runtime.BoolValue{Val: b}, nil
	case "!!null":
		return runtime.UnitValue{}, nil
	default:
		return runtime.StringValue{Val: node.Value}, nil
	}
}

func decodeInteger(node *yaml.Node, typeName string) (runtime.Value, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(node.Value), 0)
	if !ok {
		return nil, valueError(node, "invalid integer %q", node.Value)
	}
	var suffix runtime.IntegerType
	if typeName != "" {
		if suffix, ok = runtime.ParseIntegerType(typeName); !ok {
			return nil, valueError(node, "unknown integer type %q", typeName)
		}
	}
	v := runtime.IntegerValue{Val: n, TypeSuffix: suffix}
	if err := runtime.CheckIntegerRange(v); err != nil {
		return nil, valueError(node, "%v", err)
	}
	return v, nil
}

func decodeFloat(node *yaml.Node, typeName string) (runtime.Value, error) {
	var f float64
	if err := node.Decode(&f); err != nil {
		return nil, err
	}
	v := runtime.FloatValue{Val: f, TypeSuffix: runtime.FloatF64}
	switch typeName {
	case "", "f64":
	case "f32":
		v.TypeSuffix = runtime.FloatF32
	default:
		return nil, valueError(node, "unknown float type %q", typeName)
	}
	return v, nil
}

func decodeElements(node *yaml.Node) ([]runtime.Value, error) {
	elems := make([]runtime.Value, 0, len(node.Content))
	for _, child := range node.Content {
		el, err := decodeValue(child)
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
	}
	return elems, nil
}

func decodeTagged(node *yaml.Node) (runtime.Value, error) {
	var (
		key      string
		payload  *yaml.Node
		typeName string
	)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i].Value, node.Content[i+1]
		if k == "type" {
			typeName = strings.TrimSpace(v.Value)
			continue
		}
		if payload != nil {
			return nil, valueError(node, "value mapping must have exactly one kind key (found %q and %q)", key, k)
		}
		key, payload = k, v
	}
	if payload == nil {
		return nil, valueError(node, "value mapping is missing a kind key")
	}
	switch key {
	case "int":
		return decodeInteger(payload, typeName)
	case "float":
		return decodeFloat(payload, typeName)
	case "bool":
		var b bool
		if err := payload.Decode(&b); err != nil {
			return nil, err
		}
		return runtime.BoolValue{Val: b}, nil
	case "char":
		if utf8.RuneCountInString(payload.Value) != 1 {
			return nil, valueError(payload, "char must be a single character, got %q", payload.Value)
		}
		r, _ := utf8.DecodeRuneInString(payload.Value)
		return runtime.CharValue{Val: r}, nil
	case "str":
		return runtime.StringValue{Val: payload.Value, Static: true}, nil
	case "string":
		return runtime.StringValue{Val: payload.Value}, nil
	case "tuple", "array", "vec":
		if payload.Kind != yaml.SequenceNode {
			return nil, valueError(payload, "%s expects a sequence", key)
		}
		elems, err := decodeElements(payload)
		if err != nil {
			return nil, err
		}
		if key == "tuple" {
			return &runtime.TupleValue{Elements: elems}, nil
		}
		return &runtime.ArrayValue{Elements: elems, Heap: key == "vec"}, nil
	case "unit":
		return runtime.UnitValue{}, nil
	case "zero":
		v, ok := runtime.ZeroForType(payload.Value)
		if !ok {
			return nil, valueError(payload, "no placeholder value for type %q", payload.Value)
		}
		return v, nil
	}
	return nil, valueError(node, "unknown value kind %q", key)
}

func valueError(node *yaml.Node, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if node != nil && node.Line > 0 {
		return fmt.Errorf("value: line %d: %s", node.Line, msg)
	}
	return fmt.Errorf("value: %s", msg)
}

func scalarNode(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func taggedNode(key string, value *yaml.Node, typeName string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle}
	n.Content = append(n.Content, scalarNode("!!str", key), value)
	if typeName != "" {
		n.Content = append(n.Content, scalarNode("!!str", "type"), scalarNode("!!str", typeName))
	}
	return n
}

func encodeValue(v runtime.Value) (*yaml.Node, error) {
	switch val := v.(type) {
	case nil, runtime.UnitValue:
		return scalarNode("!!null", "null"), nil
	case runtime.IntegerValue:
		n := scalarNode("!!int", runtime.Debug(val))
		if val.TypeSuffix == "" || val.TypeSuffix == runtime.IntegerI32 {
			return n, nil
		}
		return taggedNode("int", n, string(val.TypeSuffix)), nil
	case runtime.FloatValue:
		n := scalarNode("!!float", runtime.Debug(val))
		if val.TypeSuffix == runtime.FloatF32 {
			return taggedNode("float", n, string(runtime.FloatF32)), nil
		}
		return n, nil
	case runtime.BoolValue:
		return scalarNode("!!bool", runtime.Debug(val)), nil
	case runtime.CharValue:
		return taggedNode("char", scalarNode("!!str", string(val.Val)), ""), nil
	case runtime.StringValue:
		n := scalarNode("!!str", val.Val)
		n.Style = yaml.DoubleQuotedStyle
		if val.Static {
			return taggedNode("str", n, ""), nil
		}
		return n, nil
	case *runtime.TupleValue:
		seq, err := encodeSequence(val.Elements)
		if err != nil {
			return nil, err
		}
		return taggedNode("tuple", seq, ""), nil
	case *runtime.ArrayValue:
		seq, err := encodeSequence(val.Elements)
		if err != nil || !val.Heap {
			return seq, err
		}
		return taggedNode("vec", seq, ""), nil
	}
	return nil, fmt.Errorf("value: cannot encode %s", v.Kind())
}

func encodeSequence(elems []runtime.Value) (*yaml.Node, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, el := range elems {
		n, err := encodeValue(el)
		if err != nil {
			return nil, err
		}
		seq.Content = append(seq.Content, n)
	}
	return seq, nil
}
