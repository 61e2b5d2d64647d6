package training

import (
	"encoding/json"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
	RegressionScatter    PlotType = "regression_scatter"
)

// PlotData is the serializable description of one plot.
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name string      `json:"name"`
	Type string      `json:"type"` // "line" or "scatter"
	Data []DataPoint `json:"data"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	YAxisScale string `json:"y_axis_scale"` // "linear", "log"
	ShowLegend bool   `json:"show_legend"`
	ShowGrid   bool   `json:"show_grid"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// VisualizationCollector records per-epoch training history and test set
// predictions for plotting.
type VisualizationCollector struct {
	modelName string

	epochs         []int
	trainingLoss   []float64
	trainingMetric []float64
	validation     []float64
	learningRates  []float64

	predictions []float64
	trueValues  []float64
}

// NewVisualizationCollector creates a new visualization collector
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{modelName: modelName}
}

// RecordEpoch records epoch-level metrics
func (vc *VisualizationCollector) RecordEpoch(epoch int, train EpochResult, valMetric, learningRate float64) {
	vc.epochs = append(vc.epochs, epoch)
	vc.trainingLoss = append(vc.trainingLoss, train.Loss)
	vc.trainingMetric = append(vc.trainingMetric, train.Metric)
	vc.validation = append(vc.validation, valMetric)
	vc.learningRates = append(vc.learningRates, learningRate)
}

// RecordRegressionData records predictions against targets, both in label units.
func (vc *VisualizationCollector) RecordRegressionData(predictions, trueValues []float64) error {
	if len(predictions) != len(trueValues) {
		return errors.Wrapf(ErrShapeMismatch, "%d predictions, %d targets", len(predictions), len(trueValues))
	}
	vc.predictions = append(vc.predictions, predictions...)
	vc.trueValues = append(vc.trueValues, trueValues...)
	return nil
}

// Epochs returns the number of recorded epochs.
func (vc *VisualizationCollector) Epochs() int {
	return len(vc.epochs)
}

func (vc *VisualizationCollector) epochSeries(name string, values []float64) SeriesData {
	s := SeriesData{Name: name, Type: "line", Data: make([]DataPoint, len(values))}
	for i, v := range values {
		s.Data[i] = DataPoint{X: float64(vc.epochs[i]), Y: v}
	}
	return s
}

// GenerateTrainingCurvesPlot generates training curves plot data
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			vc.epochSeries("Training Loss", vc.trainingLoss),
			vc.epochSeries("Training MAE", vc.trainingMetric),
			vc.epochSeries("Validation MAE", vc.validation),
		},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Loss / MAE",
			YAxisScale: "log",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      800,
			Height:     600,
		},
	}
}

// GenerateLearningRateSchedulePlot generates learning rate schedule plot data
func (vc *VisualizationCollector) GenerateLearningRateSchedulePlot() PlotData {
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    []SeriesData{vc.epochSeries("Learning Rate", vc.learningRates)},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Learning Rate",
			YAxisScale: "log",
			ShowGrid:   true,
			Width:      800,
			Height:     400,
		},
	}
}

// GenerateRegressionScatterPlot generates predicted versus true plot data
func (vc *VisualizationCollector) GenerateRegressionScatterPlot() PlotData {
	points := SeriesData{Name: "Predictions", Type: "scatter", Data: make([]DataPoint, len(vc.predictions))}
	lo, hi := 0.0, 0.0
	for i, p := range vc.predictions {
		t := vc.trueValues[i]
		points.Data[i] = DataPoint{X: t, Y: p}
		if i == 0 || t < lo {
			lo = t
		}
		if i == 0 || t > hi {
			hi = t
		}
	}
	ideal := SeriesData{Name: "Ideal", Type: "line", Data: []DataPoint{{X: lo, Y: lo}, {X: hi, Y: hi}}}

	return PlotData{
		PlotType:  RegressionScatter,
		Title:     fmt.Sprintf("Predicted vs True - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    []SeriesData{points, ideal},
		Config: PlotConfig{
			XAxisLabel: "True",
			YAxisLabel: "Predicted",
			YAxisScale: "linear",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      600,
			Height:     600,
		},
	}
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal plot data to JSON")
	}
	return string(jsonData), nil
}

var seriesColors = []color.RGBA{
	{R: 255, G: 107, B: 107, A: 255},
	{R: 78, G: 205, B: 196, A: 255},
	{R: 95, G: 39, B: 205, A: 255},
	{R: 255, G: 159, B: 67, A: 255},
}

// Save writes pd to path. A .json path stores the plot description; any other
// extension supported by gonum/plot (png, svg, pdf, ...) renders the image.
func (pd PlotData) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating plot directory %s", dir)
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		s, err := pd.ToJSON()
		if err != nil {
			return err
		}
		return errors.Wrap(os.WriteFile(path, []byte(s), 0o644), "writing plot data")
	}

	p, err := pd.render()
	if err != nil {
		return err
	}
	w := vg.Length(pd.Config.Width) * vg.Inch / 100
	h := vg.Length(pd.Config.Height) * vg.Inch / 100
	if err := p.Save(w, h, path); err != nil {
		return errors.Wrapf(err, "saving plot to %s", path)
	}
	return nil
}

func (pd PlotData) render() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = pd.Title
	p.X.Label.Text = pd.Config.XAxisLabel
	p.Y.Label.Text = pd.Config.YAxisLabel
	if pd.Config.YAxisScale == "log" && pd.logScalable() {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	if pd.Config.ShowGrid {
		p.Add(plotter.NewGrid())
	}

	for i, s := range pd.Series {
		if len(s.Data) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(s.Data))
		for j, d := range s.Data {
			xys[j].X = d.X
			xys[j].Y = d.Y
		}
		col := seriesColors[i%len(seriesColors)]

		switch s.Type {
		case "scatter":
			sc, err := plotter.NewScatter(xys)
			if err != nil {
				return nil, errors.Wrapf(err, "series %q", s.Name)
			}
			sc.GlyphStyle.Color = col
			sc.GlyphStyle.Radius = vg.Points(2)
			p.Add(sc)
			if pd.Config.ShowLegend {
				p.Legend.Add(s.Name, sc)
			}
		default:
			line, err := plotter.NewLine(xys)
			if err != nil {
				return nil, errors.Wrapf(err, "series %q", s.Name)
			}
			line.Color = col
			line.Width = vg.Points(1.5)
			p.Add(line)
			if pd.Config.ShowLegend {
				p.Legend.Add(s.Name, line)
			}
		}
	}
	return p, nil
}

// logScalable reports whether the y values span a positive, non-empty range.
func (pd PlotData) logScalable() bool {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range pd.Series {
		for _, d := range s.Data {
			if d.Y <= 0 || math.IsNaN(d.Y) {
				return false
			}
			lo = math.Min(lo, d.Y)
			hi = math.Max(hi, d.Y)
		}
	}
	return lo < hi
}
