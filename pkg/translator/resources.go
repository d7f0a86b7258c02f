package translator

import (
	"fmt"
	"strconv"
)

// defaultCPURequest is applied when a step template leaves CPUS empty
// (spec §4.D.2).
const defaultCPURequest = "250m"

const (
	defaultEphemeralRequest = "64Mi"
	defaultEphemeralLimit   = "128Mi"
	dbShmVolumeSize         = "128Mi"
)

// splitValueUnit decomposes a Kubernetes-style quantity string into its
// numeric value and unit suffix. The source occasionally uses isdigit()
// filtering to do this, which silently truncates multi-digit units; this
// implementation instead treats the unit as everything from the first
// non-numeric rune onward and keeps it verbatim (spec §9, Open Questions).
func splitValueUnit(quantity string) (value float64, unit string, err error) {
	idx := len(quantity)
	for i, r := range quantity {
		if (r < '0' || r > '9') && r != '.' {
			idx = i
			break
		}
	}
	numeric := quantity[:idx]
	unit = quantity[idx:]
	value, err = strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parsing quantity %q: %w", quantity, err)
	}
	return value, unit, nil
}

// scaleQuantity multiplies a quantity string by (1 + multiplier),
// preserving its unit suffix exactly (spec §4.D.2: "Memory limit =
// template MEMORY × (1 + JOB_LIMIT_MULTIPLIER) preserving the unit
// suffix").
func scaleQuantity(quantity string, multiplier float64) (string, error) {
	value, unit, err := splitValueUnit(quantity)
	if err != nil {
		return "", err
	}
	scaled := value * (1 + multiplier)
	return formatQuantityValue(scaled) + unit, nil
}

// formatQuantityValue renders a scaled numeric value the way
// resource.ParseQuantity expects: the minimal decimal representation,
// never scientific notation. strconv.FormatFloat with precision -1
// already omits insignificant trailing zeros; trimming further would
// corrupt a value whose canonical form legitimately ends in zero.
func formatQuantityValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// resourceSpec is the fully computed set of resource requests/limits for
// one step, before conversion to corev1.ResourceRequirements (spec
// §4.D.2).
type resourceSpec struct {
	CPURequest       string
	CPULimit         string // empty when CPU_LIMITS is false
	MemoryRequest    string
	MemoryLimit      string
	EphemeralRequest string
	EphemeralLimit   string
}

// computeResources applies the template's CPUS/MEMORY/EPHEMERAL fields
// through the request/limit multiplier rule (spec §4.D.2).
func computeResources(cpus, memory, ephemeral string, limitMultiplier float64, cpuLimitsEnabled bool) (resourceSpec, error) {
	spec := resourceSpec{}

	spec.CPURequest = cpus
	if spec.CPURequest == "" {
		spec.CPURequest = defaultCPURequest
	}
	if cpuLimitsEnabled {
		limit, err := scaleQuantity(spec.CPURequest, limitMultiplier)
		if err != nil {
			return resourceSpec{}, fmt.Errorf("computing CPU limit: %w", err)
		}
		spec.CPULimit = limit
	}

	spec.MemoryRequest = memory
	memLimit, err := scaleQuantity(memory, limitMultiplier)
	if err != nil {
		return resourceSpec{}, fmt.Errorf("computing memory limit: %w", err)
	}
	spec.MemoryLimit = memLimit

	spec.EphemeralRequest = defaultEphemeralRequest
	spec.EphemeralLimit = ephemeral
	if spec.EphemeralLimit == "" {
		spec.EphemeralLimit = defaultEphemeralLimit
	}

	return spec, nil
}
