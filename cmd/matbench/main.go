// matbench times the tiled device matrix multiply across a range of
// square sizes and reports throughput per size, optionally checking
// every product against the BLAS reference.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aesadde/fpgpu"
)

type sizeResult struct {
	Size        int     `json:"size"`
	Tile        int     `json:"tile"`
	Seconds     float64 `json:"seconds"`
	GFLOPS      float64 `json:"gflops"`
	BandwidthGB float64 `json:"bandwidth_gb_s"`
	MaxRelError float64 `json:"max_rel_error"`
	Verified    bool    `json:"verified"`
}

type report struct {
	Device  string       `json:"device"`
	Cores   int          `json:"cores"`
	SIMD    string       `json:"simd"`
	Results []sizeResult `json:"results"`
}

var (
	flagSizes   []int
	flagTile    int
	flagSeed    uint64
	flagRepeats int
	flagVerify  bool
	flagJSON    string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "matbench",
	Short: "Benchmark the tiled device matrix multiply",
	Long: `matbench runs C = A * B through the device pipeline (upload, tiled
kernel, download) for each requested size and prints the effective
GFLOPS and transfer bandwidth. With --verify each product is checked
against a BLAS reference before it counts.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	version, _ := fpgpu.Version()
	rootCmd.Version = version
	rootCmd.Flags().IntSliceVar(&flagSizes, "sizes", []int{64, 128, 256}, "square matrix sizes to benchmark")
	rootCmd.Flags().IntVar(&flagTile, "tile", fpgpu.DefaultTileSize, "tile edge length")
	rootCmd.Flags().Uint64Var(&flagSeed, "seed", 1, "seed for input generation")
	rootCmd.Flags().IntVar(&flagRepeats, "repeats", 3, "timed runs per size, best is reported")
	rootCmd.Flags().BoolVar(&flagVerify, "verify", true, "check each product against the BLAS reference")
	rootCmd.Flags().StringVar(&flagJSON, "json", "", "write the report as JSON to this file")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("matbench failed")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dev, err := fpgpu.GetDevice()
	if err != nil {
		return err
	}
	log.Info().
		Str("device", dev.Name).
		Int("cores", dev.NumCores).
		Str("simd", dev.Features).
		Int("tile", flagTile).
		Msg("benchmarking")

	rep := report{Device: dev.Name, Cores: dev.NumCores, SIMD: dev.Features}

	fmt.Printf("%8s %6s %12s %10s %10s %10s\n",
		"SIZE", "TILE", "TIME", "GFLOPS", "GB/s", "VERIFIED")
	for _, n := range flagSizes {
		res, err := benchSize(n)
		if err != nil {
			return fmt.Errorf("size %d: %w", n, err)
		}
		rep.Results = append(rep.Results, res)
		verified := "-"
		if flagVerify {
			verified = fmt.Sprintf("%v", res.Verified)
		}
		fmt.Printf("%8d %6d %12s %10.2f %10.2f %10s\n",
			n, res.Tile, time.Duration(res.Seconds*float64(time.Second)).Round(time.Microsecond),
			res.GFLOPS, res.BandwidthGB, verified)
	}

	inUse, peak := fpgpu.MemoryStats()
	log.Debug().
		Int64("in_use", inUse).
		Int64("peak_bytes", peak).
		Msg("device memory after run")

	if flagJSON != "" {
		buf, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(flagJSON, buf, 0o644); err != nil {
			return err
		}
		log.Info().Str("path", flagJSON).Msg("wrote report")
	}
	return nil
}

func benchSize(n int) (sizeResult, error) {
	a := fpgpu.GenerateMatrix(n, n, flagSeed)
	b := fpgpu.GenerateMatrix(n, n, flagSeed+1)
	c := fpgpu.NewMatrix(n, n)

	best := time.Duration(math.MaxInt64)
	for r := 0; r < flagRepeats; r++ {
		start := time.Now()
		if err := fpgpu.MultiplyTiled(a, b, c, flagTile); err != nil {
			return sizeResult{}, err
		}
		if d := time.Since(start); d < best {
			best = d
		}
	}

	secs := best.Seconds()
	ops := 2 * float64(n) * float64(n) * float64(n)
	bytes := 3 * float64(n) * float64(n) * 8
	res := sizeResult{
		Size:        n,
		Tile:        flagTile,
		Seconds:     secs,
		GFLOPS:      ops / secs / 1e9,
		BandwidthGB: bytes / secs / 1e9,
	}

	if flagVerify {
		want := fpgpu.NewMatrix(n, n)
		fpgpu.Reference{}.BlasMatMul(a, b, want)
		v := fpgpu.VerifyFloat64s(want.Data, c.Data, fpgpu.DefaultTolerance())
		res.Verified = v.IsAcceptable()
		res.MaxRelError = maxRelError(want.Data, c.Data)
		if !res.Verified {
			return res, fmt.Errorf("verification failed: %s", v.String())
		}
	}
	return res, nil
}

func maxRelError(want, got []float64) float64 {
	var maxRel float64
	for i := range want {
		w := want[i]
		if w == 0 {
			continue
		}
		if rel := math.Abs(w-got[i]) / math.Abs(w); rel > maxRel {
			maxRel = rel
		}
	}
	return maxRel
}
