package experiment

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/molgat/molgat/checkpoints"
	"github.com/molgat/molgat/dataset"
	"github.com/molgat/molgat/model"
	"github.com/molgat/molgat/training"
)

const sgdMomentum = 0.9

// errNoImprovement reports a run whose validation scores never produced a
// checkpoint, for example because every score was NaN. No result is written.
var errNoImprovement = errors.New("no validation score improved, nothing was checkpointed")

// Result summarizes a finished run.
type Result struct {
	BestValidation float64
	Test           float64 // NaN when the test split is empty
	Epochs         int     // epochs trained, including the one that triggered the stop
	Stopped        bool
	TrainSize      int
	ValidationSize int
	TestSize       int
	Duration       time.Duration
}

// Run executes a training run and reports to stdout.
func Run(cfg Config) (Result, error) {
	return RunTo(os.Stdout, cfg)
}

// RunTo executes a training run, writing progress to w: it builds and splits the
// dataset, trains until early stopping or the epoch limit, restores the best
// checkpoint, evaluates it on the test split and writes the best validation
// score to cfg.OutputFile.
func RunTo(w io.Writer, cfg Config) (Result, error) {
	var res Result
	if err := cfg.Validate(); err != nil {
		return res, errors.Wrap(err, "invalid configuration")
	}
	start := time.Now()
	rng := rand.New(rand.NewSource(cfg.Seed))

	ds, err := loadDataset(cfg)
	if err != nil {
		return res, err
	}
	fmt.Fprintln(w, ds)

	trainSet, valSet, testSet, err := dataset.TrainValidationTestSplit(ds, cfg.Validation, cfg.Test, rng)
	if err != nil {
		return res, err
	}
	res.TrainSize, res.ValidationSize, res.TestSize = trainSet.Len(), valSet.Len(), testSet.Len()
	fmt.Fprintf(w, "Trainset size: %d, valset size: %d, testset size: %d.\n", res.TrainSize, res.ValidationSize, res.TestSize)
	if res.TrainSize == 0 || res.ValidationSize == 0 {
		return res, errors.Errorf("dataset of %d molecules leaves an empty training or validation split", ds.Len())
	}

	trainLoader, err := dataset.NewDataLoader(trainSet, cfg.BatchSize, true, rng)
	if err != nil {
		return res, err
	}
	valLoader, err := dataset.NewDataLoader(valSet, evalBatchSize(valSet.Len()), false, nil)
	if err != nil {
		return res, err
	}

	net, err := model.New(ds.FeatureSize(), cfg.ModelConfig(ds.Task(), ds.LabelWidth()), rng)
	if err != nil {
		return res, errors.Wrap(err, "building model")
	}
	training.PrintModelSummary(w, net, net.Parameters())

	opt := newOptimizer(cfg, net)
	policy, err := training.NewLRScheduler(cfg.Scheduler, cfg.LRFactor, cfg.LRPatience, cfg.Epochs, training.Minimize)
	if err != nil {
		return res, err
	}
	scheduler := training.NewScheduler(policy, opt)

	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		return res, err
	}
	store, err := checkpoints.NewFileStore(cfg.CheckpointDir, format)
	if err != nil {
		return res, err
	}
	bundle := checkpoints.NewBundle(net, opt, scheduler)

	printer := training.NewEpochPrinter("MAE")
	printer.SetOutput(w)
	if cfg.Restore {
		if err := store.Load(bundle); err != nil {
			if !errors.Is(err, checkpoints.ErrCheckpointNotFound) {
				return res, errors.Wrap(err, "restoring checkpoint")
			}
			log.Printf("Warning: %v. Continue without loading checkpoints.", err)
		} else {
			printer.Note("Successfully loaded checkpoint %s", store.Path())
		}
	}

	stopper := training.NewEarlyStopping(cfg.Patience, training.Minimize, store)
	stopper.SetOutput(w)
	loss := training.NewMSELoss()
	metric := training.NewMAE()
	history := training.NewVisualizationCollector(fmt.Sprintf("HGAT %s", strings.ToUpper(cfg.Dataset)))

	printer.Header()
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		trainRes, err := training.TrainEpoch(net, opt, trainLoader, loss, metric)
		if err != nil {
			return res, errors.Wrapf(err, "epoch %d", epoch)
		}
		valScore, err := training.Evaluate(net, valLoader, metric)
		if err != nil {
			return res, errors.Wrapf(err, "validating epoch %d", epoch)
		}
		res.Epochs = epoch + 1

		before, hadBest := stopper.BestScore()
		stop, err := stopper.Step(valScore, bundle, fmt.Sprintf("epoch %d", epoch))
		if err != nil {
			return res, err
		}
		if stop {
			res.Stopped = true
			best, ok := stopper.BestScore()
			if !ok {
				return res, errNoImprovement
			}
			printer.Stopped(epoch, best)
			if err := training.WriteResult(cfg.OutputFile, best); err != nil {
				return res, err
			}
			break
		}

		scheduler.Step(valScore)
		after, _ := stopper.BestScore()
		printer.Row(epoch, trainRes, valScore, !hadBest || after != before)
		history.RecordEpoch(epoch, trainRes, valScore, opt.GetLR())
	}

	best, ok := stopper.BestScore()
	if !ok {
		return res, errNoImprovement
	}
	res.BestValidation = best

	// evaluate the best epoch, not the last one
	if err := store.Load(bundle); err != nil {
		return res, errors.Wrap(err, "loading best checkpoint")
	}
	res.Test = math.NaN()
	var testLoader *dataset.DataLoader
	if testSet.Len() > 0 {
		testLoader, err = dataset.NewDataLoader(testSet, evalBatchSize(testSet.Len()), false, nil)
		if err != nil {
			return res, err
		}
		if res.Test, err = training.Evaluate(net, testLoader, metric); err != nil {
			return res, errors.Wrap(err, "evaluating test set")
		}
	}

	if err := training.WriteResult(cfg.OutputFile, best); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)
	printer.Summary(res.BestValidation, res.Test, res.Duration)

	if cfg.PlotFile != "" {
		if err := savePlots(cfg.PlotFile, history, net, testSet, testLoader); err != nil {
			log.Printf("Warning: could not save plots: %v", err)
		}
	}
	return res, nil
}

func loadDataset(cfg Config) (*dataset.MoleculeDataset, error) {
	opts := dataset.Options{SelfLoop: true, Normalize: true}
	var (
		ds  *dataset.MoleculeDataset
		err error
	)
	switch cfg.Dataset {
	case DatasetQM9:
		ds, err = dataset.LoadQM9(cfg.SDFFile, cfg.LabelFile, dataset.QM9Options{
			Options:        opts,
			Properties:     cfg.Properties,
			UnitConversion: cfg.UnitConversion,
		})
	case DatasetElectrolyte:
		ds, err = dataset.LoadElectrolyte(cfg.SDFFile, cfg.LabelFile, opts)
	default:
		err = errors.Errorf("unknown dataset %q", cfg.Dataset)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s dataset", cfg.Dataset)
	}
	return ds, nil
}

// evalBatchSize splits an evaluation set into about ten batches.
func evalBatchSize(n int) int {
	return max(1, n/10)
}

func newOptimizer(cfg Config, net *model.HGATMol) training.Optimizer {
	if cfg.Optimizer == "sgd" {
		return training.NewSGD(net.Parameters(), cfg.LR, sgdMomentum, cfg.WeightDecay, 0, false)
	}
	adam := training.DefaultAdamConfig()
	adam.LearningRate = cfg.LR
	adam.WeightDecay = cfg.WeightDecay
	return training.NewAdam(net.Parameters(), adam)
}

// savePlots writes the training curves to path, the learning rate schedule next
// to it and, when a test set exists, the predicted versus true scatter.
func savePlots(path string, history *training.VisualizationCollector, net *model.HGATMol, testSet dataset.Dataset, testLoader *dataset.DataLoader) error {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if err := history.GenerateTrainingCurvesPlot().Save(path); err != nil {
		return err
	}
	if err := history.GenerateLearningRateSchedulePlot().Save(base + "_lr" + ext); err != nil {
		return err
	}
	if testLoader == nil {
		return nil
	}

	preds, err := training.Predict(net, testLoader)
	if err != nil {
		return err
	}
	var predicted, actual []float64
	for i, p := range preds {
		ex, err := testSet.Get(i)
		if err != nil {
			return err
		}
		for j, v := range p.Values {
			if ex.Mask != nil && !ex.Mask[j] {
				continue
			}
			s := 1.0
			if ex.Scale != nil {
				s = ex.Scale[j]
			}
			predicted = append(predicted, v*s)
			actual = append(actual, ex.Label[j]*s)
		}
	}
	if err := history.RecordRegressionData(predicted, actual); err != nil {
		return err
	}
	return history.GenerateRegressionScatterPlot().Save(base + "_test" + ext)
}
