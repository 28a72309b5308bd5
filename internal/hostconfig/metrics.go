package hostconfig

import "strings"

// DefaultMetrics is collected when no metric list is configured. The set
// covers compute usage, memory bandwidth, cache efficiency, and instruction
// throughput.
var DefaultMetrics = []string{
	"gpu__time_duration.sum",
	"sm__cycles_active.avg",
	"sm__cycles_elapsed.avg",
	"sm__cycles_elapsed.avg.per_second",
	"sm__cycles_elapsed.max",
	"sm__throughput.avg.pct_of_peak_sustained_elapsed",
	"dram__cycles_elapsed.avg.per_second",
	"dram__throughput.avg.pct_of_peak_sustained_elapsed",
	"lts__throughput.avg.pct_of_peak_sustained_elapsed",
	"sm__warps_active.avg.pct_of_peak_sustained_active",
	"sm__warps_active.avg.per_cycle_active",
	"sm__inst_executed.avg.per_cycle_active",
	"sm__inst_executed.avg.per_cycle_elapsed",
	"sm__instruction_throughput.avg.pct_of_peak_sustained_active",
	"sm__pipe_alu_cycles_active.avg.pct_of_peak_sustained_active",
	"sm__pipe_fma_cycles_active.avg.pct_of_peak_sustained_active",
	"sm__pipe_fp64_cycles_active.avg.pct_of_peak_sustained_active",
	"sm__pipe_tensor_cycles_active.avg.pct_of_peak_sustained_active",
	"sm__inst_executed_pipe_alu.avg.pct_of_peak_sustained_active",
	"sm__inst_executed_pipe_fma.avg.pct_of_peak_sustained_active",
	"sm__inst_executed_pipe_fp64.avg.pct_of_peak_sustained_active",
	"sm__inst_executed_pipe_tensor.avg.pct_of_peak_sustained_active",
}

// ParseMetricList splits a comma or semicolon separated metric list,
// trimming whitespace and dropping empty segments. An empty input yields
// DefaultMetrics.
func ParseMetricList(input string) []string {
	if strings.TrimSpace(input) == "" {
		out := make([]string, len(DefaultMetrics))
		copy(out, DefaultMetrics)

		return out
	}

	parts := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ';'
	})

	metrics := make([]string, 0, len(parts))

	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			metrics = append(metrics, trimmed)
		}
	}

	return metrics
}
