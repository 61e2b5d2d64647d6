package training

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// WriteResult stores a run's best validation score. Paths ending in .json get
// the protobuf JSON encoding, anything else the binary one.
func WriteResult(path string, score float64) error {
	msg := wrapperspb.Double(score)
	var (
		data []byte
		err  error
	)
	if isJSONPath(path) {
		data, err = protojson.MarshalOptions{Multiline: true}.Marshal(msg)
	} else {
		data, err = proto.Marshal(msg)
	}
	if err != nil {
		return errors.Wrap(err, "encoding result")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing result to %s", path)
	}
	return nil
}

// ReadResult reads a score written by WriteResult.
func ReadResult(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "reading result %s", path)
	}
	msg := &wrapperspb.DoubleValue{}
	if isJSONPath(path) {
		err = protojson.Unmarshal(data, msg)
	} else {
		err = proto.Unmarshal(data, msg)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "decoding result %s", path)
	}
	return msg.GetValue(), nil
}
