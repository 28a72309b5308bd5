package sink

import (
	"time"
)

// RangeResultJSON is the JSON schema for HTTP export of range results.
type RangeResultJSON struct {
	TimestampNs        uint64             `json:"timestamp_ns"`
	WallTimestamp      string             `json:"wall_timestamp"`
	ContextID          uint32             `json:"context_id"`
	Device             int32              `json:"device"`
	Chip               string             `json:"chip,omitempty"`
	RangePath          string             `json:"range_path"`
	RangeName          string             `json:"range_name"`
	Depth              int                `json:"depth"`
	Occurrence         int                `json:"occurrence"`
	Metrics            map[string]float64 `json:"metrics"`
	KernelCount        int                `json:"kernel_count"`
	KernelDurationNs   uint64             `json:"kernel_duration_ns,omitempty"`
	MaxRegsPerThread   uint32             `json:"max_regs_per_thread,omitempty"`
	MaxThreadsPerBlock uint32             `json:"max_threads_per_block,omitempty"`
	MaxDynamicSmem     uint32             `json:"max_dynamic_smem,omitempty"`
	MetaHostName       string             `json:"meta_host_name,omitempty"`
	MetaClusterName    string             `json:"meta_cluster_name,omitempty"`
}

// toRangeResultJSON converts a RangeResult for HTTP export.
func toRangeResultJSON(r RangeResult, metaHost, metaCluster string) RangeResultJSON {
	return RangeResultJSON{
		TimestampNs:        r.TimestampNs,
		WallTimestamp:      r.WallTime.Format(time.RFC3339Nano),
		ContextID:          r.ContextID,
		Device:             r.Device,
		Chip:               r.ChipName,
		RangePath:          r.Path,
		RangeName:          r.Name,
		Depth:              r.Depth,
		Occurrence:         r.Occurrence,
		Metrics:            r.Metrics,
		KernelCount:        r.KernelCount,
		KernelDurationNs:   r.KernelDurationNs,
		MaxRegsPerThread:   r.MaxRegsPerThread,
		MaxThreadsPerBlock: r.MaxThreadsPerBlock,
		MaxDynamicSmem:     r.MaxDynamicSmem,
		MetaHostName:       metaHost,
		MetaClusterName:    metaCluster,
	}
}
