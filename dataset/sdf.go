package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// chargeCodes maps the V2000 atom block charge field to a formal charge.
var chargeCodes = map[int]int{0: 0, 1: 3, 2: 2, 3: 1, 5: -1, 6: -2, 7: -3}

// ReadSDFFile parses every record of a V2000 SDF file.
func ReadSDFFile(path string) ([]*Molecule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sdf file")
	}
	defer f.Close()

	mols, err := ReadSDF(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return mols, nil
}

type sdfReader struct {
	scanner *bufio.Scanner
	line    int
}

func (r *sdfReader) next() (string, bool) {
	if !r.scanner.Scan() {
		return "", false
	}
	r.line++
	return strings.TrimRight(r.scanner.Text(), "\r"), true
}

func (r *sdfReader) mustNext(what string) (string, error) {
	s, ok := r.next()
	if !ok {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.Errorf("line %d: unexpected end of file reading %s", r.line, what)
	}
	return s, nil
}

// ReadSDF parses V2000 mol records separated by "$$$$" lines.
func ReadSDF(rd io.Reader) ([]*Molecule, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	r := &sdfReader{scanner: scanner}

	var mols []*Molecule
	for {
		name, ok := r.next()
		if !ok {
			break
		}
		mol, err := r.readRecord(name)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", len(mols))
		}
		mols = append(mols, mol)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading sdf")
	}
	return mols, nil
}

func (r *sdfReader) readRecord(name string) (*Molecule, error) {
	mol := &Molecule{Name: strings.TrimSpace(name), Properties: make(map[string]string)}

	// program line, comment line, counts line. Blank lines running into the end
	// of the file are trailing whitespace, not a record.
	blank := strings.TrimSpace(name) == ""
	var header [3]string
	for i := range header {
		s, ok := r.next()
		if !ok {
			if err := r.scanner.Err(); err != nil {
				return nil, err
			}
			if blank {
				return nil, io.EOF
			}
			return nil, errors.Errorf("line %d: unexpected end of file reading header", r.line)
		}
		blank = blank && strings.TrimSpace(s) == ""
		header[i] = s
	}
	counts := header[2]
	if strings.Contains(counts, "V3000") {
		return nil, errors.Errorf("line %d: V3000 records are not supported", r.line)
	}
	numAtoms, err := fixedInt(counts, 0, 3)
	if err != nil {
		return nil, errors.Wrapf(err, "line %d: atom count", r.line)
	}
	numBonds, err := fixedInt(counts, 3, 6)
	if err != nil {
		return nil, errors.Wrapf(err, "line %d: bond count", r.line)
	}
	if numAtoms < 0 || numBonds < 0 {
		return nil, errors.Errorf("line %d: negative counts %d atoms, %d bonds", r.line, numAtoms, numBonds)
	}

	mol.Atoms = make([]Atom, numAtoms)
	for i := 0; i < numAtoms; i++ {
		s, err := r.mustNext("atom block")
		if err != nil {
			return nil, err
		}
		atom, err := parseAtomLine(s)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", r.line)
		}
		mol.Atoms[i] = atom
	}

	mol.Bonds = make([]Bond, numBonds)
	for i := 0; i < numBonds; i++ {
		s, err := r.mustNext("bond block")
		if err != nil {
			return nil, err
		}
		bond, err := parseBondLine(s, numAtoms)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", r.line)
		}
		mol.Bonds[i] = bond
	}

	// properties block up to M  END
	chargesSet := false
	for {
		s, err := r.mustNext("properties block")
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(s, "M  END") {
			break
		}
		if strings.HasPrefix(s, "M  CHG") {
			if !chargesSet {
				for i := range mol.Atoms {
					mol.Atoms[i].Charge = 0
				}
				chargesSet = true
			}
			if err := parseChargeLine(s, mol); err != nil {
				return nil, errors.Wrapf(err, "line %d", r.line)
			}
		}
	}

	// data items up to $$$$
	var key string
	for {
		s, ok := r.next()
		if !ok {
			return mol, r.scanner.Err()
		}
		switch {
		case strings.HasPrefix(s, "$$$$"):
			return mol, nil
		case strings.HasPrefix(s, ">"):
			if start := strings.Index(s, "<"); start >= 0 {
				if end := strings.Index(s[start:], ">"); end > 0 {
					key = s[start+1 : start+end]
				}
			}
		case strings.TrimSpace(s) == "":
			key = ""
		case key != "":
			if prev, ok := mol.Properties[key]; ok {
				mol.Properties[key] = prev + "\n" + s
			} else {
				mol.Properties[key] = s
			}
		}
	}
}

func fixedInt(s string, from, to int) (int, error) {
	if len(s) < to {
		if len(s) <= from {
			return 0, errors.Errorf("field [%d:%d] missing in %q", from, to, s)
		}
		to = len(s)
	}
	return strconv.Atoi(strings.TrimSpace(s[from:to]))
}

func parseAtomLine(s string) (Atom, error) {
	fields := strings.Fields(s)
	if len(fields) < 4 {
		return Atom{}, errors.Errorf("atom line has %d fields: %q", len(fields), s)
	}
	var coords [3]float64
	for i := range coords {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Atom{}, errors.Wrapf(err, "atom coordinate %d", i)
		}
		coords[i] = v
	}
	atom := Atom{Symbol: fields[3], X: coords[0], Y: coords[1], Z: coords[2]}
	if len(fields) > 5 {
		code, err := strconv.Atoi(fields[5])
		if err != nil {
			return Atom{}, errors.Wrap(err, "atom charge code")
		}
		atom.Charge = chargeCodes[code]
	}
	return atom, nil
}

func parseBondLine(s string, numAtoms int) (Bond, error) {
	begin, err := fixedInt(s, 0, 3)
	if err != nil {
		return Bond{}, errors.Wrap(err, "bond first atom")
	}
	end, err := fixedInt(s, 3, 6)
	if err != nil {
		return Bond{}, errors.Wrap(err, "bond second atom")
	}
	order, err := fixedInt(s, 6, 9)
	if err != nil {
		return Bond{}, errors.Wrap(err, "bond type")
	}
	if begin < 1 || begin > numAtoms || end < 1 || end > numAtoms {
		return Bond{}, errors.Errorf("bond %d-%d references a missing atom (%d atoms)", begin, end, numAtoms)
	}
	if order < 1 || order > BondAromatic {
		return Bond{}, errors.Errorf("unsupported bond type %d", order)
	}
	return Bond{Begin: begin - 1, End: end - 1, Order: order}, nil
}

// parseChargeLine reads "M  CHGnn8 aaa vvv ..." entries.
func parseChargeLine(s string, mol *Molecule) error {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return errors.Errorf("malformed charge line %q", s)
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil {
		return errors.Wrap(err, "charge entry count")
	}
	if len(fields) < 3+2*n {
		return errors.Errorf("charge line declares %d entries: %q", n, s)
	}
	for i := 0; i < n; i++ {
		idx, err := strconv.Atoi(fields[3+2*i])
		if err != nil {
			return errors.Wrap(err, "charge atom index")
		}
		chg, err := strconv.Atoi(fields[4+2*i])
		if err != nil {
			return errors.Wrap(err, "charge value")
		}
		if idx < 1 || idx > len(mol.Atoms) {
			return errors.Errorf("charge references atom %d (%d atoms)", idx, len(mol.Atoms))
		}
		mol.Atoms[idx-1].Charge = chg
	}
	return nil
}
