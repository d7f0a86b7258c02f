package translator

import "testing"

func TestSplitValueUnitPreservesMultiDigitUnit(t *testing.T) {
	cases := []struct {
		quantity  string
		wantValue float64
		wantUnit  string
	}{
		{"250m", 250, "m"},
		{"2Gi", 2, "Gi"},
		{"1.5Gi", 1.5, "Gi"},
		{"64Mi", 64, "Mi"},
		{"4", 4, ""},
	}

	for _, c := range cases {
		value, unit, err := splitValueUnit(c.quantity)
		if err != nil {
			t.Fatalf("splitValueUnit(%q) error: %v", c.quantity, err)
		}
		if value != c.wantValue || unit != c.wantUnit {
			t.Errorf("splitValueUnit(%q) = (%v, %q), want (%v, %q)", c.quantity, value, unit, c.wantValue, c.wantUnit)
		}
	}
}

func TestSplitValueUnitRejectsNonNumericValue(t *testing.T) {
	if _, _, err := splitValueUnit("Gi"); err == nil {
		t.Error("splitValueUnit(\"Gi\") did not error on a missing numeric value")
	}
}

func TestScaleQuantityPreservesUnitSuffix(t *testing.T) {
	scaled, err := scaleQuantity("2Gi", 0.5)
	if err != nil {
		t.Fatalf("scaleQuantity error: %v", err)
	}
	if scaled != "3Gi" {
		t.Errorf("scaleQuantity(2Gi, 0.5) = %q, want 3Gi", scaled)
	}
}

func TestScaleQuantityPreservesSignificantTrailingZero(t *testing.T) {
	scaled, err := scaleQuantity("1Gi", 9)
	if err != nil {
		t.Fatalf("scaleQuantity error: %v", err)
	}
	if scaled != "10Gi" {
		t.Errorf("scaleQuantity(1Gi, 9) = %q, want 10Gi", scaled)
	}
}

func TestComputeResourcesCPULimitsDisabled(t *testing.T) {
	spec, err := computeResources("500m", "1Gi", "", 0.5, false)
	if err != nil {
		t.Fatalf("computeResources error: %v", err)
	}
	if spec.CPURequest != "500m" {
		t.Errorf("CPURequest = %q, want 500m", spec.CPURequest)
	}
	if spec.CPULimit != "" {
		t.Errorf("CPULimit = %q, want empty when CPU_LIMITS is false", spec.CPULimit)
	}
	if spec.MemoryLimit != "1.5Gi" {
		t.Errorf("MemoryLimit = %q, want 1.5Gi", spec.MemoryLimit)
	}
	if spec.EphemeralRequest != defaultEphemeralRequest {
		t.Errorf("EphemeralRequest = %q, want %q", spec.EphemeralRequest, defaultEphemeralRequest)
	}
	if spec.EphemeralLimit != defaultEphemeralLimit {
		t.Errorf("EphemeralLimit = %q, want %q (no template override)", spec.EphemeralLimit, defaultEphemeralLimit)
	}
}

func TestComputeResourcesCPULimitsEnabled(t *testing.T) {
	spec, err := computeResources("", "2Gi", "256Mi", 0.25, true)
	if err != nil {
		t.Fatalf("computeResources error: %v", err)
	}
	if spec.CPURequest != defaultCPURequest {
		t.Errorf("CPURequest = %q, want default %q when CPUS is empty", spec.CPURequest, defaultCPURequest)
	}
	if spec.CPULimit != "312.5m" {
		t.Errorf("CPULimit = %q, want 312.5m", spec.CPULimit)
	}
	if spec.EphemeralLimit != "256Mi" {
		t.Errorf("EphemeralLimit = %q, want the template's own value 256Mi", spec.EphemeralLimit)
	}
}
