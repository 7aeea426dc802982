package cli

import "testing"

func TestParseVariantSpecs_ExplicitSplits(t *testing.T) {
	specs, err := parseVariantSpecs("popup-1:70, popup-2:30")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].CreativeID != "popup-1" || specs[0].TrafficSplit != 70 {
		t.Errorf("spec 0 = %+v, want popup-1:70", specs[0])
	}
	if specs[1].CreativeID != "popup-2" || specs[1].TrafficSplit != 30 {
		t.Errorf("spec 1 = %+v, want popup-2:30", specs[1])
	}
}

func TestParseVariantSpecs_EvenPartition(t *testing.T) {
	// 100 over 3 variants: remainder goes to the first ones.
	specs, err := parseVariantSpecs("p1,p2,p3")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	want := []int{34, 33, 33}
	total := 0
	for i, spec := range specs {
		if spec.TrafficSplit != want[i] {
			t.Errorf("spec %d split = %d, want %d", i, spec.TrafficSplit, want[i])
		}
		total += spec.TrafficSplit
	}
	if total != 100 {
		t.Errorf("splits sum to %d, want 100", total)
	}
}

func TestParseVariantSpecs_Errors(t *testing.T) {
	cases := []string{
		"popup-1",          // one variant
		"",                 // empty
		"popup-1:x,popup-2", // non-numeric split
	}
	for _, input := range cases {
		if _, err := parseVariantSpecs(input); err == nil {
			t.Errorf("parseVariantSpecs(%q) should fail", input)
		}
	}
}

func TestParseVariantSpecs_SkipsEmptyParts(t *testing.T) {
	specs, err := parseVariantSpecs("popup-1, ,popup-2,")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(specs) != 2 {
		t.Errorf("expected 2 specs, got %d", len(specs))
	}
}
