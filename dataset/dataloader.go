package dataset

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/graph"
	"github.com/molgat/molgat/tensor"
)

// Batch is a set of examples collated into one disconnected graph. Labels, Mask
// and Scale are the concatenated per-example vectors; LabelSizes records how many
// labels every example contributed.
type Batch struct {
	Graph      *graph.HeteroGraph
	Labels     []float64
	Mask       []bool
	Scale      []float64
	LabelSizes []int
	Names      []string
	Size       int
}

// Collate merges examples into a batch. Every example must carry as many mask and
// scale entries as labels, when it carries them at all.
func Collate(examples []*Example) (*Batch, error) {
	if len(examples) == 0 {
		return nil, errors.New("empty batch")
	}
	graphs := make([]*graph.HeteroGraph, len(examples))
	b := &Batch{Size: len(examples), LabelSizes: make([]int, len(examples)), Names: make([]string, len(examples))}
	for i, ex := range examples {
		n := len(ex.Label)
		if ex.Mask != nil && len(ex.Mask) != n {
			return nil, errors.Wrapf(tensor.ErrShapeMismatch, "example %d: %d mask entries for %d labels", i, len(ex.Mask), n)
		}
		if ex.Scale != nil && len(ex.Scale) != n {
			return nil, errors.Wrapf(tensor.ErrShapeMismatch, "example %d: %d scale entries for %d labels", i, len(ex.Scale), n)
		}
		graphs[i] = ex.Graph
		b.Names[i] = ex.Name
		b.LabelSizes[i] = n
		b.Labels = append(b.Labels, ex.Label...)
		for j := 0; j < n; j++ {
			b.Mask = append(b.Mask, ex.Mask == nil || ex.Mask[j])
			if ex.Scale == nil {
				b.Scale = append(b.Scale, 1)
			} else {
				b.Scale = append(b.Scale, ex.Scale[j])
			}
		}
	}
	g, err := graph.Batch(graphs)
	if err != nil {
		return nil, errors.Wrap(err, "batching graphs")
	}
	b.Graph = g
	return b, nil
}

// DataLoader provides batching and shuffling over a Dataset.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
}

// NewDataLoader creates a loader. Shuffling draws from rng, which may be nil when
// shuffle is false.
func NewDataLoader(ds Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, errors.New("shuffling loader needs a random source")
	}
	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}
	dl := &DataLoader{
		dataset:   ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   indices,
	}
	dl.Reset()
	return dl, nil
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// BatchSize returns the maximum number of examples per batch.
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Reset starts a new epoch, reshuffling if enabled.
func (dl *DataLoader) Reset() {
	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// HasNext returns true if there are more batches in the current epoch.
func (dl *DataLoader) HasNext() bool {
	return dl.position < len(dl.indices)
}

// Next returns the next batch or nil if the epoch is complete.
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, nil
	}
	end := min(dl.position+dl.batchSize, len(dl.indices))
	idx := dl.indices[dl.position:end]
	dl.position = end

	examples := make([]*Example, len(idx))
	for i, j := range idx {
		ex, err := dl.dataset.Get(j)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load sample %d", j)
		}
		examples[i] = ex
	}
	return Collate(examples)
}
