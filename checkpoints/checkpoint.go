// Package checkpoints persists the state of a training run: model parameters,
// optimizer moments and scheduler counters are saved together as one file so a
// run can resume from, or evaluate, its best epoch.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrCheckpointNotFound is returned by Load when no checkpoint has been saved yet.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// TensorState is a serialized parameter or buffer.
type TensorState struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// State is the snapshot of one checkpointed object.
type State struct {
	Tensors map[string]TensorState `json:"tensors,omitempty"`
	Scalars map[string]float64     `json:"scalars,omitempty"`
}

// NewState returns an empty state ready to be filled.
func NewState() State {
	return State{Tensors: make(map[string]TensorState), Scalars: make(map[string]float64)}
}

// Scalar returns the named scalar or an error if it is missing.
func (s State) Scalar(name string) (float64, error) {
	v, ok := s.Scalars[name]
	if !ok {
		return 0, errors.Errorf("state has no scalar %q", name)
	}
	return v, nil
}

// Tensor returns the named tensor, checking it holds n values.
func (s State) Tensor(name string, n int) (TensorState, error) {
	t, ok := s.Tensors[name]
	if !ok {
		return TensorState{}, errors.Errorf("state has no tensor %q", name)
	}
	if len(t.Data) != n {
		return TensorState{}, errors.Errorf("tensor %q has %d values, expected %d", name, len(t.Data), n)
	}
	return t, nil
}

// Stateful objects can be snapshotted and restored in place.
type Stateful interface {
	StateDict() State
	LoadStateDict(State) error
}

// Role names used by training runs.
const (
	RoleModel     = "model"
	RoleOptimizer = "optimizer"
	RoleScheduler = "scheduler"
)

// Bundle is an ordered set of named objects saved and restored together.
type Bundle struct {
	roles   []string
	objects map[string]Stateful
}

// NewBundle groups the objects of a training run. Nil objects are left out.
func NewBundle(model, optimizer, scheduler Stateful) Bundle {
	var b Bundle
	b.Add(RoleModel, model)
	b.Add(RoleOptimizer, optimizer)
	b.Add(RoleScheduler, scheduler)
	return b
}

// Add registers obj under role, replacing an earlier object with the same role.
func (b *Bundle) Add(role string, obj Stateful) {
	if obj == nil {
		return
	}
	if b.objects == nil {
		b.objects = make(map[string]Stateful)
	}
	if _, ok := b.objects[role]; !ok {
		b.roles = append(b.roles, role)
	}
	b.objects[role] = obj
}

// Roles returns the role names in registration order.
func (b Bundle) Roles() []string {
	return b.roles
}

// Get returns the object registered under role.
func (b Bundle) Get(role string) (Stateful, bool) {
	obj, ok := b.objects[role]
	return obj, ok
}

// Format selects the on-disk encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatProto
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Ext returns the file extension used for the format.
func (f Format) Ext() string {
	if f == FormatProto {
		return ".pb"
	}
	return ".json"
}

// ParseFormat maps "json" or "proto" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "proto", "protobuf":
		return FormatProto, nil
	default:
		return 0, errors.Errorf("unsupported checkpoint format %q", s)
	}
}

// Metadata describes when and by what a checkpoint was written.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is the serialized form of a Bundle.
type Checkpoint struct {
	Roles    map[string]State `json:"roles"`
	Metadata Metadata         `json:"metadata"`
}

// Store saves and restores bundles.
type Store interface {
	Save(b Bundle, description string) error
	Load(b Bundle) error
}

// FileStore keeps a single checkpoint file in a directory.
type FileStore struct {
	dir    string
	format Format
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, format Format) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create checkpoint directory")
	}
	return &FileStore{dir: dir, format: format}, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, "checkpoint"+s.format.Ext())
}

// Exists reports whether a checkpoint has been written.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Save snapshots every role of b and replaces the checkpoint file. The new file
// is written next to the old one and renamed over it, so a failed save leaves
// the previous checkpoint intact.
func (s *FileStore) Save(b Bundle, description string) error {
	cp := &Checkpoint{
		Roles: make(map[string]State, len(b.roles)),
		Metadata: Metadata{
			Version:     "1.0.0",
			Framework:   "molgat",
			CreatedAt:   time.Now(),
			Description: description,
		},
	}
	for _, role := range b.roles {
		cp.Roles[role] = b.objects[role].StateDict()
	}

	data, err := s.encode(cp)
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}

	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*")
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close checkpoint")
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return errors.Wrap(err, "failed to replace checkpoint")
	}
	return nil
}

// Load restores every role of b from the checkpoint file. A missing file yields
// an error wrapping ErrCheckpointNotFound.
func (s *FileStore) Load(b Bundle) error {
	cp, err := s.Read()
	if err != nil {
		return err
	}
	for _, role := range b.roles {
		state, ok := cp.Roles[role]
		if !ok {
			return errors.Errorf("checkpoint %s has no %q state", s.Path(), role)
		}
		if err := b.objects[role].LoadStateDict(state); err != nil {
			return errors.Wrapf(err, "failed to restore %s", role)
		}
	}
	return nil
}

// Read decodes the checkpoint file without applying it.
func (s *FileStore) Read() (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path())
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrCheckpointNotFound, "no checkpoint at %s", s.Path())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	cp, err := s.decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", s.Path())
	}
	return cp, nil
}

func (s *FileStore) encode(cp *Checkpoint) ([]byte, error) {
	switch s.format {
	case FormatJSON:
		return json.MarshalIndent(cp, "", "  ")
	case FormatProto:
		return marshalProto(cp)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}

func (s *FileStore) decode(data []byte) (*Checkpoint, error) {
	switch s.format {
	case FormatJSON:
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, err
		}
		return &cp, nil
	case FormatProto:
		return unmarshalProto(data)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}
}
