// Package hnsw provides an in-process approximate nearest-neighbor index
// over fixed-dimension float32 vectors, built as a Hierarchical Navigable
// Small-World graph.
//
// The index is built once and then sealed: vectors are added, the graph is
// constructed in parallel, and the result is serialized into a single
// contiguous buffer laid out for cache-friendly search. The buffer can be
// saved to disk and opened again through a read-only memory mapping, so
// large indexes load without copying their bulk into process memory.
//
// # Quick Start
//
//	index, _ := hnsw.New(3, "angular")
//	index.AddData([]float32{0, 0, 1})
//	index.AddData([]float32{0, 1, 0})
//	index.AddData([]float32{0, 0, 1})
//	index.Build(&hnsw.BuildOptions{M: 5, MaxM0: 10})
//
//	results, _ := index.SearchByVector([]float32{3, 2, 1}, 3, 30)
//	for _, r := range results {
//	    fmt.Println(r.Id, r.Distance)
//	}
//
// # Persistence
//
//	index.SaveModel("vectors.hnsw")
//
//	fresh, _ := hnsw.New(0, "angular")
//	fresh.LoadModel("vectors.hnsw", true) // mmap-backed
//
// # Configuration
//
// Build parameters can be set through typed BuildOptions or through
// string pairs mirroring the model file's configuration vocabulary:
//
//	index.SetConfigs(map[string]string{
//	    "M":              "12",
//	    "MaxM0":          "24",
//	    "efConstruction": "150",
//	    "EnsureK":        "true",
//	})
//
// Distance metrics: "angular" (1 - cosine over normalized vectors), "L2"
// (squared Euclidean) and "dot" (negated inner product; search results
// report the true inner product).
package hnsw
