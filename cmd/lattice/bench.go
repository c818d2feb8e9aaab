package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

type profile struct {
	Name        string
	Writes      int
	ChainDepth  int
	FanoutWidth int
}

var profiles = map[string]profile{
	"fast": {
		Name:        "fast",
		Writes:      2_000,
		ChainDepth:  16,
		FanoutWidth: 32,
	},
	"standard": {
		Name:        "standard",
		Writes:      20_000,
		ChainDepth:  64,
		FanoutWidth: 256,
	},
	"stress": {
		Name:        "stress",
		Writes:      100_000,
		ChainDepth:  256,
		FanoutWidth: 1024,
	},
}

var scenarioOrder = []string{"chain", "diamond", "fanout", "dynamic"}

type benchConfig struct {
	Profile     string
	Writes      int
	ChainDepth  int
	FanoutWidth int
	Scenarios   []string
	JSONOutput  string
}

func benchCmd() *cobra.Command {
	var (
		profileFlag  string
		writesFlag   int
		depthFlag    int
		widthFlag    int
		scenarioFlag string
		jsonFlag     string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark write propagation through common graph shapes",
		Long: `Benchmark the reactive runtime.

Each scenario builds a graph, drives writes through it and reports
per-write propagation latency, throughput and recomputation counts:

  chain    one signal feeding a deep memo chain into an effect
  diamond  one signal reaching an effect over two converging memo arms
  fanout   one signal feeding many memos joined by a single effect
  dynamic  a memo that switches which signal it reads every write

A human-readable summary goes to stderr and a JSON report to --json.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveBenchConfig(profileFlag, writesFlag, depthFlag, widthFlag, scenarioFlag, jsonFlag)
			if err != nil {
				return err
			}
			return runBench(cfg)
		},
	}

	cmd.Flags().StringVar(&profileFlag, "profile", "standard", "profile: fast|standard|stress")
	cmd.Flags().IntVar(&writesFlag, "writes", -1, "writes per scenario")
	cmd.Flags().IntVar(&depthFlag, "depth", -1, "memo chain depth")
	cmd.Flags().IntVar(&widthFlag, "width", -1, "fanout width")
	cmd.Flags().StringVar(&scenarioFlag, "scenario", "all", "scenario: chain|diamond|fanout|dynamic|all")
	cmd.Flags().StringVar(&jsonFlag, "json", "-", "JSON output path ('-' for stdout)")

	return cmd
}

func resolveBenchConfig(profileName string, writes, depth, width int, scenarioName, jsonOutput string) (benchConfig, error) {
	name := strings.ToLower(strings.TrimSpace(profileName))
	if name == "" {
		name = "standard"
	}
	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{
		Profile:     base.Name,
		Writes:      base.Writes,
		ChainDepth:  base.ChainDepth,
		FanoutWidth: base.FanoutWidth,
		JSONOutput:  strings.TrimSpace(jsonOutput),
	}
	if writes != -1 {
		cfg.Writes = writes
	}
	if depth != -1 {
		cfg.ChainDepth = depth
	}
	if width != -1 {
		cfg.FanoutWidth = width
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	if cfg.Writes <= 0 {
		return benchConfig{}, errors.New("--writes must be > 0")
	}
	if cfg.ChainDepth <= 0 {
		return benchConfig{}, errors.New("--depth must be > 0")
	}
	if cfg.FanoutWidth <= 0 {
		return benchConfig{}, errors.New("--width must be > 0")
	}

	scenario := strings.ToLower(strings.TrimSpace(scenarioName))
	if scenario == "" || scenario == "all" {
		cfg.Scenarios = scenarioOrder
	} else {
		if _, ok := scenarios[scenario]; !ok {
			return benchConfig{}, fmt.Errorf("unknown scenario %q", scenario)
		}
		cfg.Scenarios = []string{scenario}
	}

	return cfg, nil
}

func runBench(cfg benchConfig) error {
	results := make([]scenarioResult, 0, len(cfg.Scenarios))
	for _, name := range cfg.Scenarios {
		results = append(results, runScenario(scenarios[name], cfg))
	}

	report := benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			GitCommit: commit,
		},
		Workload: workloadInfo{
			Profile:     cfg.Profile,
			Writes:      cfg.Writes,
			ChainDepth:  cfg.ChainDepth,
			FanoutWidth: cfg.FanoutWidth,
		},
		Scenarios: results,
	}

	writeBenchSummary(os.Stderr, report)
	return writeBenchJSON(cfg.JSONOutput, report)
}

// scenario builds a graph on the runtime and returns the write to
// drive it with, plus how many rounds to run.
type scenario struct {
	name  string
	build func(rt *reactive.Runtime, cfg benchConfig) (func(int), int)
}

var scenarios = map[string]scenario{
	"chain":   {name: "chain", build: buildChain},
	"diamond": {name: "diamond", build: buildDiamond},
	"fanout":  {name: "fanout", build: buildFanout},
	"dynamic": {name: "dynamic", build: buildDynamic},
}

func buildChain(rt *reactive.Runtime, cfg benchConfig) (func(int), int) {
	src := reactive.NewSignal(rt, 0).WithName("src")
	first := reactive.NewMemo(rt, func() int { return src.Get() + 1 })
	prev := first
	for i := 1; i < cfg.ChainDepth; i++ {
		p := prev
		prev = reactive.NewMemo(rt, func() int { return p.Get() + 1 })
	}
	last := prev
	reactive.NewEffect(rt, func() reactive.Cleanup {
		_ = last.Get()
		return nil
	}, reactive.EffectName("sink"))
	return func(i int) { src.Set(i + 1) }, cfg.Writes
}

func buildDiamond(rt *reactive.Runtime, cfg benchConfig) (func(int), int) {
	src := reactive.NewSignal(rt, 0).WithName("src")
	left := reactive.NewMemo(rt, func() int { return src.Get() * 2 }).WithName("left")
	right := reactive.NewMemo(rt, func() int { return src.Get() + 100 }).WithName("right")
	join := reactive.NewMemo(rt, func() int { return left.Get() + right.Get() }).WithName("join")
	reactive.NewEffect(rt, func() reactive.Cleanup {
		_ = join.Get()
		return nil
	}, reactive.EffectName("sink"))
	return func(i int) { src.Set(i + 1) }, cfg.Writes
}

// buildFanout runs a tenth of the profile's writes: every write
// recomputes all FanoutWidth memos, so full-length rounds would dwarf
// the other scenarios.
func buildFanout(rt *reactive.Runtime, cfg benchConfig) (func(int), int) {
	src := reactive.NewSignal(rt, 0).WithName("src")
	memos := make([]*reactive.Memo[int], cfg.FanoutWidth)
	for i := range memos {
		offset := i
		memos[i] = reactive.NewMemo(rt, func() int { return src.Get() + offset })
	}
	reactive.NewEffect(rt, func() reactive.Cleanup {
		total := 0
		for _, m := range memos {
			total += m.Get()
		}
		_ = total
		return nil
	}, reactive.EffectName("sink"))

	rounds := cfg.Writes / 10
	if rounds < 1 {
		rounds = 1
	}
	return func(i int) { src.Set(i + 1) }, rounds
}

func buildDynamic(rt *reactive.Runtime, cfg benchConfig) (func(int), int) {
	branch := reactive.NewSignal(rt, false).WithName("branch")
	a := reactive.NewSignal(rt, 1).WithName("a")
	b := reactive.NewSignal(rt, 2).WithName("b")
	pick := reactive.NewMemo(rt, func() int {
		if branch.Get() {
			return a.Get()
		}
		return b.Get()
	}).WithName("pick")
	reactive.NewEffect(rt, func() reactive.Cleanup {
		_ = pick.Get()
		return nil
	}, reactive.EffectName("sink"))

	// Flip the branch every write so the memo resubscribes each time.
	return func(i int) { branch.Set(i%2 == 0) }, cfg.Writes
}

func runScenario(sc scenario, cfg benchConfig) scenarioResult {
	rt := reactive.New(reactive.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer rt.Dispose()

	write, writes := sc.build(rt, cfg)
	built := rt.Stats()

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	samples := make([]time.Duration, 0, writes)
	start := time.Now()
	for i := 0; i < writes; i++ {
		t0 := time.Now()
		write(i)
		samples = append(samples, time.Since(t0))
	}
	elapsed := time.Since(start)

	runtime.GC()
	runtime.ReadMemStats(&after)

	st := rt.Stats()
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	elapsedSeconds := math.Max(0.001, elapsed.Seconds())
	result := scenarioResult{
		Name:           sc.name,
		Nodes:          built.Signals + built.Memos + built.Effects,
		Writes:         writes,
		DurationMS:     ms(elapsed),
		WritesPerSec:   float64(writes) / elapsedSeconds,
		MemoRecomputes: st.MemoRecomputes - built.MemoRecomputes,
		EffectRuns:     st.EffectRuns - built.EffectRuns,
		AllocMB:        float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
		NumGC:          after.NumGC - before.NumGC,
	}
	if len(samples) > 0 {
		result.LatencyUS = latencyInfo{
			Min: us(samples[0]),
			P50: us(percentile(samples, 0.50)),
			P95: us(percentile(samples, 0.95)),
			P99: us(percentile(samples, 0.99)),
			Max: us(samples[len(samples)-1]),
		}
	}
	return result
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func us(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

type benchReport struct {
	Version   string           `json:"version"`
	Run       runInfo          `json:"run"`
	Workload  workloadInfo     `json:"workload"`
	Scenarios []scenarioResult `json:"scenarios"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	GitCommit string `json:"git_commit,omitempty"`
}

type workloadInfo struct {
	Profile     string `json:"profile"`
	Writes      int    `json:"writes"`
	ChainDepth  int    `json:"chain_depth"`
	FanoutWidth int    `json:"fanout_width"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type scenarioResult struct {
	Name           string      `json:"name"`
	Nodes          int         `json:"nodes"`
	Writes         int         `json:"writes"`
	DurationMS     float64     `json:"duration_ms"`
	WritesPerSec   float64     `json:"writes_per_sec"`
	LatencyUS      latencyInfo `json:"latency_us"`
	MemoRecomputes uint64      `json:"memo_recomputes"`
	EffectRuns     uint64      `json:"effect_runs"`
	AllocMB        float64     `json:"alloc_mb"`
	NumGC          uint32      `json:"num_gc"`
}

func writeBenchSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== Lattice Runtime Benchmark ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Writes per scenario: %d\n", report.Workload.Writes)
	fmt.Fprintf(w, "Chain depth: %d\n", report.Workload.ChainDepth)
	fmt.Fprintf(w, "Fanout width: %d\n", report.Workload.FanoutWidth)
	fmt.Fprintln(w)

	for _, r := range report.Scenarios {
		perWrite := float64(r.Writes)
		if perWrite == 0 {
			perWrite = 1
		}
		fmt.Fprintf(w, "%s:\n", r.Name)
		fmt.Fprintf(w, "  nodes: %d, writes: %d, elapsed: %.1f ms\n", r.Nodes, r.Writes, r.DurationMS)
		fmt.Fprintf(w, "  throughput: %.0f writes/s\n", r.WritesPerSec)
		fmt.Fprintf(w, "  write latency: p50 %.1f us, p95 %.1f us, p99 %.1f us, max %.1f us\n",
			r.LatencyUS.P50, r.LatencyUS.P95, r.LatencyUS.P99, r.LatencyUS.Max)
		fmt.Fprintf(w, "  per write: %.2f recomputes, %.2f effect runs\n",
			float64(r.MemoRecomputes)/perWrite, float64(r.EffectRuns)/perWrite)
		fmt.Fprintf(w, "  alloc: %.2f MB, num_gc: %d\n", r.AllocMB, r.NumGC)
		fmt.Fprintln(w)
	}
}

func writeBenchJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
