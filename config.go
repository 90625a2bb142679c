package hnsw

import (
	"fmt"
	"strconv"

	"github.com/liliang-cn/hnsw/pkg/graph"
)

// SelectPolicy chooses the neighbor selection algorithm during build.
type SelectPolicy = graph.SelectPolicy

// MergePolicy chooses the graph post-processing step.
type MergePolicy = graph.MergePolicy

// Re-exported build policies.
const (
	SelectHeuristic            = graph.SelectHeuristic
	SelectHeuristicSaveRemains = graph.SelectHeuristicSaveRemains
	SelectNaive                = graph.SelectNaive

	MergeSkip   = graph.MergeSkip
	MergeLevel0 = graph.MergeLevel0
)

// BuildOptions override the configured build parameters for a single
// Build call. Zero-valued numeric fields keep the configured values, except
// a zero Mult, which is re-derived as 1/ln(M); M also sets the higher-level
// degree cap. The policy fields and EnsureK always apply.
type BuildOptions struct {
	M              int
	MaxM0          int
	EfConstruction int
	NumThreads     int
	Mult           float64

	NeighborSelecting SelectPolicy
	GraphMerging      MergePolicy
	EnsureK           bool
}

// SetConfigs applies string key/value configuration pairs.
//
// Recognized keys: "M", "MaxM0", "efConstruction", "NumThread", "Mult",
// "NeighborSelecting" (heuristic | heuristic_save_remains | naive),
// "GraphMerging" (skip | merge_level0) and "EnsureK" (true | false).
// Any other key is rejected. Keys absent from a call keep the values set
// earlier; setting M without Mult re-derives Mult as 1/ln(M).
func (h *Hnsw) SetConfigs(configs map[string]string) error {
	params := graph.Params{}
	ensureK := h.ensureK

	for key, value := range configs {
		switch key {
		case "M":
			v, err := strconv.Atoi(value)
			if err != nil {
				return wrapError("set configs", fmt.Errorf("%w: M: %q", ErrInvalidConfig, value))
			}
			params.M = v
		case "MaxM0":
			v, err := strconv.Atoi(value)
			if err != nil {
				return wrapError("set configs", fmt.Errorf("%w: MaxM0: %q", ErrInvalidConfig, value))
			}
			params.MaxM0 = v
		case "efConstruction":
			v, err := strconv.Atoi(value)
			if err != nil {
				return wrapError("set configs", fmt.Errorf("%w: efConstruction: %q", ErrInvalidConfig, value))
			}
			params.EfConstruction = v
		case "NumThread":
			v, err := strconv.Atoi(value)
			if err != nil {
				return wrapError("set configs", fmt.Errorf("%w: NumThread: %q", ErrInvalidConfig, value))
			}
			params.NumThreads = v
		case "Mult":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return wrapError("set configs", fmt.Errorf("%w: Mult: %q", ErrInvalidConfig, value))
			}
			params.Mult = v
		case "NeighborSelecting":
			switch value {
			case "heuristic":
				params.NeighborSelecting = SelectHeuristic
			case "heuristic_save_remains":
				params.NeighborSelecting = SelectHeuristicSaveRemains
			case "naive":
				params.NeighborSelecting = SelectNaive
			default:
				return wrapError("set configs",
					fmt.Errorf("%w: NeighborSelecting: %q", ErrInvalidConfig, value))
			}
		case "GraphMerging":
			switch value {
			case "skip":
				params.GraphMerging = MergeSkip
			case "merge_level0":
				params.GraphMerging = MergeLevel0
			default:
				return wrapError("set configs",
					fmt.Errorf("%w: GraphMerging: %q", ErrInvalidConfig, value))
			}
		case "EnsureK":
			ensureK = value == "true"
		default:
			return wrapError("set configs", fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, key))
		}
	}

	// Everything parsed; commit. With a loaded model there is no builder to
	// configure, but EnsureK still applies to searches.
	h.ensureK = ensureK
	if h.model == nil {
		b, err := h.ensureBuilder()
		if err != nil {
			return wrapError("set configs", err)
		}
		cur := b.Params()
		if _, ok := configs["NeighborSelecting"]; !ok {
			params.NeighborSelecting = cur.NeighborSelecting
		}
		if _, ok := configs["GraphMerging"]; !ok {
			params.GraphMerging = cur.GraphMerging
		}
		if _, ok := configs["Mult"]; !ok && params.M == 0 {
			params.Mult = cur.Mult
		}
		b.Configure(params)
	}
	return nil
}
