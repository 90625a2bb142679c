package main

import (
	"bufio"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/liliang-cn/hnsw"
	"github.com/liliang-cn/hnsw/internal/encoding"
)

var (
	modelPath string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "hnsw",
	Short: "CLI tool for HNSW vector indexes",
	Long:  `A command-line interface for building, inspecting and querying HNSW approximate nearest-neighbor indexes.`,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an index from a vector source and save it",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		dbPath, _ := cmd.Flags().GetString("db")
		table, _ := cmd.Flags().GetString("table")
		column, _ := cmd.Flags().GetString("column")
		metric, _ := cmd.Flags().GetString("metric")
		dim, _ := cmd.Flags().GetInt("dim")
		out, _ := cmd.Flags().GetString("out")
		configPath, _ := cmd.Flags().GetString("config")

		if out == "" {
			return fmt.Errorf("--out is required")
		}

		var vectors [][]float32
		var err error
		switch {
		case input != "":
			vectors, err = readCSVVectors(input)
		case dbPath != "":
			vectors, err = readSQLiteVectors(dbPath, table, column)
		default:
			return fmt.Errorf("either --input or --db is required")
		}
		if err != nil {
			return err
		}
		if len(vectors) == 0 {
			return fmt.Errorf("no vectors in source")
		}
		if dim == 0 {
			dim = len(vectors[0])
		}

		index, err := hnsw.New(dim, metric)
		if err != nil {
			return err
		}
		if verbose {
			index.SetLogger(hnsw.NewStdLogger(hnsw.LevelDebug))
		}

		if configPath != "" {
			configs, err := readConfigFile(configPath)
			if err != nil {
				return err
			}
			if err := index.SetConfigs(configs); err != nil {
				return err
			}
		}
		if err := applyFlagConfigs(cmd, index); err != nil {
			return err
		}

		for i, v := range vectors {
			if err := encoding.ValidateVector(v); err != nil {
				return fmt.Errorf("vector %d: %w", i, err)
			}
			if err := index.AddData(v); err != nil {
				return fmt.Errorf("vector %d: %w", i, err)
			}
		}

		if err := index.Fit(); err != nil {
			return err
		}
		if err := index.SaveModel(out); err != nil {
			return err
		}

		fmt.Printf("Indexed %d vectors (dim=%d, metric=%s) into %s\n", len(vectors), dim, metric, out)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Query a saved index",
	RunE: func(cmd *cobra.Command, args []string) error {
		useMmap, _ := cmd.Flags().GetBool("mmap")
		k, _ := cmd.Flags().GetInt("k")
		ef, _ := cmd.Flags().GetInt("ef")
		vectorStr, _ := cmd.Flags().GetString("vector")
		id, _ := cmd.Flags().GetInt("id")

		index, err := openIndex(useMmap)
		if err != nil {
			return err
		}
		defer index.UnloadModel()

		var results []hnsw.Result
		if vectorStr != "" {
			vector, err := parseVector(vectorStr)
			if err != nil {
				return err
			}
			results, err = index.SearchByVector(vector, k, ef)
			if err != nil {
				return err
			}
		} else if id >= 0 {
			results, err = index.SearchById(int32(id), k, ef)
			if err != nil {
				return err
			}
		} else {
			return fmt.Errorf("either --vector or --id is required")
		}

		for rank, r := range results {
			fmt.Printf("%d. id=%d distance=%.6f\n", rank+1, r.Id, r.Distance)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show header fields and degree distribution of a saved index",
	RunE: func(cmd *cobra.Command, args []string) error {
		useMmap, _ := cmd.Flags().GetBool("mmap")
		index, err := openIndex(useMmap)
		if err != nil {
			return err
		}
		defer index.UnloadModel()

		index.SetLogger(hnsw.NewLogger(os.Stdout, hnsw.LevelInfo))
		if err := index.PrintConfigs(); err != nil {
			return err
		}
		return index.PrintDegreeDist()
	},
}

func openIndex(useMmap bool) (*hnsw.Hnsw, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("--model is required")
	}
	index, err := hnsw.New(0, "L2") // metric is taken from the model file
	if err != nil {
		return nil, err
	}
	if err := index.LoadModel(modelPath, useMmap); err != nil {
		return nil, err
	}
	return index, nil
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vector := make([]float32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector format: %w", err)
		}
		vector = append(vector, float32(val))
	}
	return vector, nil
}

// readCSVVectors reads one comma-separated vector per line.
func readCSVVectors(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vectors [][]float32
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := parseVector(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(vectors)+1, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, scanner.Err()
}

// readSQLiteVectors loads length-prefixed little-endian float32 BLOBs from
// a SQLite table, in rowid order so ids stay stable across rebuilds.
func readSQLiteVectors(path, table, column string) ([][]float32, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", column, table))
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var vectors [][]float32
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		v, err := encoding.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(vectors)+1, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

// readConfigFile parses a YAML file of build configuration keys, the same
// vocabulary SetConfigs accepts.
func readConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	configs := make(map[string]string, len(raw))
	for key, value := range raw {
		configs[key] = fmt.Sprint(value)
	}
	return configs, nil
}

// applyFlagConfigs forwards explicitly set build flags to the index,
// overriding any config-file values.
func applyFlagConfigs(cmd *cobra.Command, index *hnsw.Hnsw) error {
	configs := make(map[string]string)
	for flag, key := range map[string]string{
		"m":               "M",
		"max-m0":          "MaxM0",
		"ef-construction": "efConstruction",
		"threads":         "NumThread",
		"selecting":       "NeighborSelecting",
		"merging":         "GraphMerging",
	} {
		if cmd.Flags().Changed(flag) {
			value, _ := cmd.Flags().GetString(flag)
			configs[key] = value
		}
	}
	if len(configs) == 0 {
		return nil
	}
	return index.SetConfigs(configs)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelPath, "model", "m", "", "Path to the model file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	buildCmd.Flags().String("input", "", "CSV file with one comma-separated vector per line")
	buildCmd.Flags().String("db", "", "SQLite database holding vector BLOBs")
	buildCmd.Flags().String("table", "embeddings", "Table to read vectors from")
	buildCmd.Flags().String("column", "vector", "BLOB column holding the vectors")
	buildCmd.Flags().String("metric", "L2", "Distance metric: angular, L2 or dot")
	buildCmd.Flags().Int("dim", 0, "Vector dimension (0 = infer from the first vector)")
	buildCmd.Flags().String("out", "", "Output model file")
	buildCmd.Flags().String("config", "", "YAML file with build configuration")
	buildCmd.Flags().String("m", "", "Max neighbors per node above level 0")
	buildCmd.Flags().String("max-m0", "", "Max neighbors per node at level 0")
	buildCmd.Flags().String("ef-construction", "", "Beam width during build")
	buildCmd.Flags().String("threads", "", "Build parallelism")
	buildCmd.Flags().String("selecting", "", "Neighbor selection: heuristic, heuristic_save_remains or naive")
	buildCmd.Flags().String("merging", "", "Post-processing: skip or merge_level0")

	searchCmd.Flags().Bool("mmap", true, "Open the model through a memory mapping")
	searchCmd.Flags().Int("k", 10, "Number of results")
	searchCmd.Flags().Int("ef", -1, "Search beam width (-1 = 50*k)")
	searchCmd.Flags().String("vector", "", "Comma-separated query vector")
	searchCmd.Flags().Int("id", -1, "Query by stored vector id")

	infoCmd.Flags().Bool("mmap", true, "Open the model through a memory mapping")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
