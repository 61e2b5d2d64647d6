// Package training runs the optimization loop: one pass over the training set,
// evaluation of held out sets, early stopping with checkpoints, learning rate
// schedules and reporting.
package training

import (
	"time"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/checkpoints"
	"github.com/molgat/molgat/dataset"
	"github.com/molgat/molgat/tensor"
)

// Model is a trainable network over molecule batches.
type Model interface {
	Forward(b *dataset.Batch) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	checkpoints.Stateful
}

// Loader yields the batches of one epoch. Next returns nil once the epoch is done.
type Loader interface {
	Reset()
	Next() (*dataset.Batch, error)
	Len() int
}

// EpochResult summarizes one training epoch.
type EpochResult struct {
	Loss     float64 // mean of per-batch losses
	Metric   float64 // summed metric divided by the number of valid labels
	Batches  int
	Count    int
	Duration time.Duration
}

func checkSumMetric(metric ErrorMetric) error {
	if metric.Reduction != Sum {
		return errors.Errorf("epoch metrics need a sum reduction, got %s", metric.Reduction)
	}
	return nil
}

// TrainEpoch runs one pass over loader, updating model with opt after every batch.
// The loss drives the updates; the metric is only reported. Any batch failure
// aborts the epoch.
func TrainEpoch(model Model, opt Optimizer, loader Loader, loss Loss, metric ErrorMetric) (EpochResult, error) {
	if err := checkSumMetric(metric); err != nil {
		return EpochResult{}, err
	}
	start := time.Now()
	model.Train()
	loader.Reset()

	var res EpochResult
	var acc MetricAccumulator
	totalLoss := 0.0
	for {
		batch, err := loader.Next()
		if err != nil {
			return EpochResult{}, errors.Wrapf(err, "loading batch %d", res.Batches)
		}
		if batch == nil {
			break
		}

		pred, err := model.Forward(batch)
		if err != nil {
			return EpochResult{}, errors.Wrapf(err, "forward pass failed on batch %d", res.Batches)
		}
		l, err := loss.Forward(pred, batch.Labels, batch.Mask)
		if err != nil {
			return EpochResult{}, errors.Wrapf(err, "loss computation failed on batch %d", res.Batches)
		}
		opt.ZeroGrad()
		if err := l.Backward(); err != nil {
			return EpochResult{}, errors.Wrapf(err, "backward pass failed on batch %d", res.Batches)
		}
		if err := opt.Step(); err != nil {
			return EpochResult{}, errors.Wrapf(err, "optimizer step failed on batch %d", res.Batches)
		}

		lossValue, err := l.Item()
		if err != nil {
			return EpochResult{}, err
		}
		value, count, err := metric.Compute(pred.Data, batch.Labels, batch.Scale, batch.Mask)
		if err != nil {
			return EpochResult{}, errors.Wrapf(err, "metric failed on batch %d", res.Batches)
		}
		totalLoss += lossValue
		acc.Add(value, count)
		res.Batches++
	}

	if res.Batches > 0 {
		res.Loss = totalLoss / float64(res.Batches)
	}
	res.Metric = acc.Value()
	res.Count = acc.Count()
	res.Duration = time.Since(start)
	return res, nil
}

// Evaluate returns the metric of model over loader: the summed error divided by
// the number of valid labels. Nothing is recorded for backpropagation and no
// parameter changes.
func Evaluate(model Model, loader Loader, metric ErrorMetric) (float64, error) {
	if err := checkSumMetric(metric); err != nil {
		return 0, err
	}
	model.Eval()
	loader.Reset()

	var acc MetricAccumulator
	err := tensor.NoGrad(func() error {
		for i := 0; ; i++ {
			batch, err := loader.Next()
			if err != nil {
				return errors.Wrapf(err, "loading batch %d", i)
			}
			if batch == nil {
				return nil
			}
			pred, err := model.Forward(batch)
			if err != nil {
				return errors.Wrapf(err, "forward pass failed on batch %d", i)
			}
			value, count, err := metric.Compute(pred.Data, batch.Labels, batch.Scale, batch.Mask)
			if err != nil {
				return errors.Wrapf(err, "metric failed on batch %d", i)
			}
			acc.Add(value, count)
		}
	})
	if err != nil {
		return 0, err
	}
	return acc.Value(), nil
}

// Prediction holds the standardized predictions of one molecule.
type Prediction struct {
	Name   string
	Values []float64
}

// Predict runs model over loader and splits the batched output back into one
// prediction per molecule, in loader order.
func Predict(model Model, loader Loader) ([]Prediction, error) {
	model.Eval()
	loader.Reset()

	var out []Prediction
	err := tensor.NoGrad(func() error {
		for {
			batch, err := loader.Next()
			if err != nil {
				return err
			}
			if batch == nil {
				return nil
			}
			pred, err := model.Forward(batch)
			if err != nil {
				return err
			}
			rows := make([]int, len(batch.LabelSizes))
			for i, n := range batch.LabelSizes {
				if pred.Cols() == 0 || n%pred.Cols() != 0 {
					return errors.Wrapf(ErrShapeMismatch, "%d labels for prediction width %d", n, pred.Cols())
				}
				rows[i] = n / pred.Cols()
			}
			parts, err := tensor.SplitRows(pred, rows)
			if err != nil {
				return err
			}
			for i, p := range parts {
				out = append(out, Prediction{Name: batch.Names[i], Values: append([]float64(nil), p...)})
			}
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "prediction failed")
	}
	return out, nil
}
