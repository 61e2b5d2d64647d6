package training

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/molgat/molgat/tensor"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "26", Dark: "81"})
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "244"})
	bestStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "250", Dark: "238"}).
			Padding(0, 1)
)

// EpochPrinter writes the per-epoch progress table.
type EpochPrinter struct {
	out         io.Writer
	metricName  string
	wroteHeader bool
}

// NewEpochPrinter creates a printer writing to stdout. metricName labels the
// accuracy columns, e.g. "MAE".
func NewEpochPrinter(metricName string) *EpochPrinter {
	return &EpochPrinter{out: os.Stdout, metricName: metricName}
}

// SetOutput redirects the table; nil silences it.
func (p *EpochPrinter) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	p.out = w
}

// Header prints the column titles once.
func (p *EpochPrinter) Header() {
	if p.wroteHeader {
		return
	}
	p.wroteHeader = true
	line := fmt.Sprintf("%5s %12s %12s %12s %9s", "Epoch", "Loss", "Train"+p.metricName, "Val"+p.metricName, "Time (s)")
	fmt.Fprintln(p.out, headerStyle.Render(line))
}

// Row prints one epoch. improved highlights epochs that produced a new best
// validation score.
func (p *EpochPrinter) Row(epoch int, train EpochResult, val float64, improved bool) {
	p.Header()
	line := fmt.Sprintf("%5d %12.6e %12.6e %12.6e %9.2f", epoch, train.Loss, train.Metric, val, train.Duration.Seconds())
	if improved {
		line = bestStyle.Render(line)
	}
	fmt.Fprintln(p.out, line)
}

// Stopped announces an early stop.
func (p *EpochPrinter) Stopped(epoch int, best float64) {
	fmt.Fprintln(p.out, warnStyle.Render(fmt.Sprintf("Early stopping at epoch %d, best validation %s %.6e", epoch, p.metricName, best)))
}

// Note prints a dimmed informational line.
func (p *EpochPrinter) Note(format string, args ...interface{}) {
	fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf(format, args...)))
}

// Summary prints the final scores in a bordered panel.
func (p *EpochPrinter) Summary(bestVal, test float64, elapsed time.Duration) {
	body := fmt.Sprintf("%s\nvalidation %s: %.6e\ntest %s:       %.6e\ntotal time:     %s",
		headerStyle.Render("Finished training"),
		p.metricName, bestVal,
		p.metricName, test,
		formatDuration(elapsed))
	fmt.Fprintln(p.out, panelStyle.Render(body))
}

// PrintModelSummary prints the model description followed by its parameter count.
func PrintModelSummary(w io.Writer, model fmt.Stringer, params []*tensor.Tensor) {
	total := 0
	for _, p := range params {
		total += p.Numel()
	}
	fmt.Fprintln(w, "Model Architecture:")
	fmt.Fprintln(w, model.String())
	fmt.Fprintf(w, "Total parameters: %s\n", formatParameterCount(total))
	fmt.Fprintf(w, "Params size (MB): %.3f\n\n", float64(total*8)/1024/1024)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
