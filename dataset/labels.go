package dataset

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HartreeToEV converts Hartree to electron volt.
const HartreeToEV = 27.211386024367243

// hartreeProperties are the QM9 columns reported in Hartree.
var hartreeProperties = map[string]bool{
	"homo": true, "lumo": true, "gap": true, "zpve": true,
	"u0": true, "u298": true, "h298": true, "g298": true,
	"u0_atom": true, "u298_atom": true, "h298_atom": true, "g298_atom": true,
}

// ReadQM9LabelsFile reads the selected property columns of a QM9 label CSV.
func ReadQM9LabelsFile(path string, properties []string, unitConversion bool) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open label file")
	}
	defer f.Close()

	labels, err := ReadQM9Labels(f, properties, unitConversion)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return labels, nil
}

// ReadQM9Labels reads a CSV with a header row and returns, for every data row, the
// values of the named property columns in the order given. With unitConversion,
// energy columns are converted from Hartree to eV.
func ReadQM9Labels(r io.Reader, properties []string, unitConversion bool) ([][]float64, error) {
	if len(properties) == 0 {
		return nil, errors.New("no properties selected")
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.TrimSpace(h)] = i
	}
	idx := make([]int, len(properties))
	for i, p := range properties {
		c, ok := columns[p]
		if !ok {
			return nil, errors.Errorf("property %q not in header %v", p, header)
		}
		idx[i] = c
	}

	var labels [][]float64
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", row)
		}
		values := make([]float64, len(idx))
		for i, c := range idx {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d column %s", row, properties[i])
			}
			if unitConversion && hartreeProperties[properties[i]] {
				v *= HartreeToEV
			}
			values[i] = v
		}
		labels = append(labels, values)
	}
	return labels, nil
}

// BondLabels holds the bond energies of one molecule and which of them are known.
type BondLabels struct {
	Energies  []float64
	Indicator []bool
}

// ReadElectrolyteLabelsFile reads a bond energy label file.
func ReadElectrolyteLabelsFile(path string) ([]BondLabels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open label file")
	}
	defer f.Close()

	labels, err := ReadElectrolyteLabels(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return labels, nil
}

// ReadElectrolyteLabels reads one line per molecule holding 2*n numbers: n bond
// energies followed by n 0/1 indicators marking which energies are known.
// Blank lines and lines starting with '#' are skipped.
func ReadElectrolyteLabels(r io.Reader) ([]BondLabels, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var labels []BondLabels
	line := 0
	for scanner.Scan() {
		line++
		s := strings.TrimSpace(scanner.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		fields := strings.Fields(s)
		if len(fields)%2 != 0 {
			return nil, errors.Errorf("line %d: expected an even number of values, got %d", line, len(fields))
		}
		n := len(fields) / 2
		bl := BondLabels{Energies: make([]float64, n), Indicator: make([]bool, n)}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d value %d", line, i)
			}
			if i < n {
				bl.Energies[i] = v
			} else {
				bl.Indicator[i-n] = v != 0
			}
		}
		labels = append(labels, bl)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading labels")
	}
	return labels, nil
}
