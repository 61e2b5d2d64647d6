package dataset

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

const waterBlock = `water
  molgat

  3  2  0  0  0  0  0  0  0  0999 V2000
    0.0000    0.0000    0.1173 O   0  0  0  0  0  0  0  0  0  0  0  0
    0.0000    0.7572   -0.4692 H   0  0  0  0  0  0  0  0  0  0  0  0
    0.0000   -0.7572   -0.4692 H   0  0  0  0  0  0  0  0  0  0  0  0
  1  2  1  0
  1  3  1  0
M  END
> <u0_atom>
-0.35

$$$$
`

const formaldehydeBlock = `formaldehyde
  molgat

  4  3  0  0  0  0  0  0  0  0999 V2000
    0.0000    0.0000    0.0000 C   0  0  0  0  0  0  0  0  0  0  0  0
    0.0000    0.0000    1.2050 O   0  0  0  0  0  0  0  0  0  0  0  0
    0.0000    0.9429   -0.5876 H   0  0  0  0  0  0  0  0  0  0  0  0
    0.0000   -0.9429   -0.5876 H   0  0  0  0  0  0  0  0  0  0  0  0
  1  2  2  0
  1  3  1  0
  1  4  1  0
M  END
$$$$
`

const hydroxideBlock = `
  molgat

  2  1  0  0  0  0  0  0  0  0999 V2000
    0.0000    0.0000    0.0000 O   0  0  0  0  0  0  0  0  0  0  0  0
    0.0000    0.0000    0.9700 H   0  0  0  0  0  0  0  0  0  0  0  0
  1  2  1  0
M  CHG  1   1  -1
M  END
$$$$
`

func TestReadSDF(t *testing.T) {
	mols, err := ReadSDF(strings.NewReader(waterBlock + formaldehydeBlock + hydroxideBlock + "\n\n"))
	if err != nil {
		t.Fatalf("ReadSDF failed: %v", err)
	}
	if len(mols) != 3 {
		t.Fatalf("Expected 3 molecules, got %d", len(mols))
	}

	water := mols[0]
	if water.Name != "water" || len(water.Atoms) != 3 || len(water.Bonds) != 2 {
		t.Errorf("Unexpected water record: %+v", water)
	}
	if water.Properties["u0_atom"] != "-0.35" {
		t.Errorf("Expected data item u0_atom=-0.35, got %q", water.Properties["u0_atom"])
	}
	if water.Bonds[1] != (Bond{Begin: 0, End: 2, Order: 1}) {
		t.Errorf("Expected zero-based bond 0-2, got %+v", water.Bonds[1])
	}
	if math.Abs(water.BondLength(0)-0.9572) > 1e-3 {
		t.Errorf("Expected O-H length ~0.957, got %f", water.BondLength(0))
	}

	if mols[1].Bonds[0].Order != 2 {
		t.Errorf("Expected C=O double bond, got order %d", mols[1].Bonds[0].Order)
	}

	hydroxide := mols[2]
	if hydroxide.Name != "" {
		t.Errorf("Expected empty name, got %q", hydroxide.Name)
	}
	if hydroxide.Charge() != -1 || hydroxide.Atoms[0].Charge != -1 {
		t.Errorf("Expected charge -1 from M  CHG line, got %d", hydroxide.Charge())
	}
}

func TestReadSDFErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"truncated atom block", "x\n\n\n  3  2  0\n    0.0 0.0 0.0 O 0 0\n"},
		{"bad bond atom", strings.Replace(waterBlock, "  1  3  1  0", "  1  9  1  0", 1)},
		{"bad bond type", strings.Replace(waterBlock, "  1  3  1  0", "  1  3  8  0", 1)},
		{"v3000", "x\n\n\n  0  0  0     0  0            999 V3000\nM  END\n$$$$\n"},
		{"bad counts", "x\n\n\nabc\n"},
		{"negative atom count", strings.Replace(waterBlock, "  3  2  0", " -1  2  0", 1)},
		{"negative bond count", strings.Replace(waterBlock, "  3  2  0", "  3 -2  0", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadSDF(strings.NewReader(tt.input)); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestMoleculeHelpers(t *testing.T) {
	mols, err := ReadSDF(strings.NewReader(formaldehydeBlock + waterBlock))
	if err != nil {
		t.Fatalf("ReadSDF failed: %v", err)
	}
	f := mols[0]
	if f.Degree(0) != 3 || f.Degree(1) != 1 {
		t.Errorf("Expected degrees C=3 O=1, got %d %d", f.Degree(0), f.Degree(1))
	}
	if f.NumHydrogens(0) != 2 || f.NumHydrogens(1) != 0 {
		t.Errorf("Expected hydrogens C=2 O=0, got %d %d", f.NumHydrogens(0), f.NumHydrogens(1))
	}
	if math.Abs(f.Weight()-30.026) > 1e-3 {
		t.Errorf("Expected weight 30.026, got %f", f.Weight())
	}
	if got := Species(mols); !reflect.DeepEqual(got, []string{"C", "H", "O"}) {
		t.Errorf("Expected species [C H O], got %v", got)
	}
}
