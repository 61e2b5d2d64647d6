package training

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/checkpoints"
)

// Mode tells whether lower or higher scores are better.
type Mode int

const (
	Minimize Mode = iota
	Maximize
)

func (m Mode) String() string {
	if m == Maximize {
		return "max"
	}
	return "min"
}

// EarlyStopping tracks the best validation score, checkpoints the training state
// whenever it strictly improves, and stops training once more than patience
// consecutive scores fail to improve. Stopping is terminal.
type EarlyStopping struct {
	patience int
	mode     Mode
	store    checkpoints.Store
	out      io.Writer

	best    float64
	hasBest bool
	counter int
	stopped bool
}

// NewEarlyStopping creates a controller that saves improvements to store.
func NewEarlyStopping(patience int, mode Mode, store checkpoints.Store) *EarlyStopping {
	return &EarlyStopping{
		patience: patience,
		mode:     mode,
		store:    store,
		out:      os.Stdout,
	}
}

// SetOutput redirects the status messages; nil silences them.
func (es *EarlyStopping) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	es.out = w
}

func (es *EarlyStopping) improves(score float64) bool {
	if math.IsNaN(score) {
		return false
	}
	if !es.hasBest {
		return true
	}
	if es.mode == Maximize {
		return score > es.best
	}
	return score < es.best
}

// Step records one validation score and reports whether training should stop.
// An improving score is saved with the bundle before it becomes the best; if the
// save fails the error is returned and the state is left unchanged. msg labels
// the checkpoint and the status line, e.g. "epoch 3".
func (es *EarlyStopping) Step(score float64, bundle checkpoints.Bundle, msg string) (bool, error) {
	if es.stopped {
		return true, nil
	}

	if es.improves(score) {
		if err := es.store.Save(bundle, msg); err != nil {
			return false, errors.Wrapf(err, "saving checkpoint for %s", msg)
		}
		es.best = score
		es.hasBest = true
		es.counter = 0
		return false, nil
	}

	es.counter++
	fmt.Fprintf(es.out, "EarlyStopping counter: %d out of %d (%s)\n", es.counter, es.patience, msg)
	if es.counter > es.patience {
		es.stopped = true
		fmt.Fprintf(es.out, "EarlyStopping: stopped at %s, best score %g\n", msg, es.best)
	}
	return es.stopped, nil
}

// BestScore returns the best score so far and whether there is one.
func (es *EarlyStopping) BestScore() (float64, bool) {
	return es.best, es.hasBest
}

// Counter returns the number of consecutive non-improving steps.
func (es *EarlyStopping) Counter() int {
	return es.counter
}

// Stopped reports whether training has been stopped.
func (es *EarlyStopping) Stopped() bool {
	return es.stopped
}
