package checkpoints

import (
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// The proto format stores a checkpoint as a google.protobuf.Struct:
//
//	{"metadata": {...}, "roles": {role: {"tensors": {name: {"shape": [...], "data": [...]}}, "scalars": {...}}}}

func numberList(values []float64) *structpb.Value {
	list := &structpb.ListValue{Values: make([]*structpb.Value, len(values))}
	for i, v := range values {
		list.Values[i] = structpb.NewNumberValue(v)
	}
	return structpb.NewListValue(list)
}

func stateToStruct(s State) *structpb.Struct {
	tensors := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(s.Tensors))}
	for name, t := range s.Tensors {
		shape := make([]float64, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = float64(d)
		}
		tensors.Fields[name] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"shape": numberList(shape),
			"data":  numberList(t.Data),
		}})
	}
	scalars := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(s.Scalars))}
	for name, v := range s.Scalars {
		scalars.Fields[name] = structpb.NewNumberValue(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"tensors": structpb.NewStructValue(tensors),
		"scalars": structpb.NewStructValue(scalars),
	}}
}

func marshalProto(cp *Checkpoint) ([]byte, error) {
	roles := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(cp.Roles))}
	for role, s := range cp.Roles {
		roles.Fields[role] = structpb.NewStructValue(stateToStruct(s))
	}
	meta := &structpb.Struct{Fields: map[string]*structpb.Value{
		"version":     structpb.NewStringValue(cp.Metadata.Version),
		"framework":   structpb.NewStringValue(cp.Metadata.Framework),
		"created_at":  structpb.NewStringValue(cp.Metadata.CreatedAt.Format(time.RFC3339Nano)),
		"description": structpb.NewStringValue(cp.Metadata.Description),
	}}
	root := &structpb.Struct{Fields: map[string]*structpb.Value{
		"roles":    structpb.NewStructValue(roles),
		"metadata": structpb.NewStructValue(meta),
	}}
	return proto.Marshal(root)
}

func numbers(v *structpb.Value) ([]float64, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, errors.New("expected a list of numbers")
	}
	out := make([]float64, len(list.Values))
	for i, e := range list.Values {
		n, ok := e.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, errors.Errorf("element %d is not a number", i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func structToState(s *structpb.Struct) (State, error) {
	state := NewState()
	for name, v := range s.GetFields()["tensors"].GetStructValue().GetFields() {
		fields := v.GetStructValue().GetFields()
		shape, err := numbers(fields["shape"])
		if err != nil {
			return State{}, errors.Wrapf(err, "tensor %q shape", name)
		}
		data, err := numbers(fields["data"])
		if err != nil {
			return State{}, errors.Wrapf(err, "tensor %q data", name)
		}
		t := TensorState{Shape: make([]int, len(shape)), Data: data}
		for i, d := range shape {
			t.Shape[i] = int(d)
		}
		state.Tensors[name] = t
	}
	for name, v := range s.GetFields()["scalars"].GetStructValue().GetFields() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return State{}, errors.Errorf("scalar %q is not a number", name)
		}
		state.Scalars[name] = n.NumberValue
	}
	return state, nil
}

func unmarshalProto(data []byte) (*Checkpoint, error) {
	var root structpb.Struct
	if err := proto.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	roles := root.GetFields()["roles"].GetStructValue()
	if roles == nil {
		return nil, errors.New("checkpoint has no roles")
	}
	cp := &Checkpoint{Roles: make(map[string]State, len(roles.GetFields()))}
	for role, v := range roles.GetFields() {
		s, err := structToState(v.GetStructValue())
		if err != nil {
			return nil, errors.Wrapf(err, "role %q", role)
		}
		cp.Roles[role] = s
	}

	meta := root.GetFields()["metadata"].GetStructValue().GetFields()
	cp.Metadata.Version = meta["version"].GetStringValue()
	cp.Metadata.Framework = meta["framework"].GetStringValue()
	cp.Metadata.Description = meta["description"].GetStringValue()
	if ts := meta["created_at"].GetStringValue(); ts != "" {
		created, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, errors.Wrap(err, "created_at")
		}
		cp.Metadata.CreatedAt = created
	}
	return cp, nil
}
