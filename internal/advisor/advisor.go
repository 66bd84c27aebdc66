// Package advisor ranks candidate models for a target device and use case
// (spec.md §4.7): a calibrated memory estimator decides what fits, and a
// four-dimension weighted score decides what's best among what fits.
//
// Grounded structurally on the teacher's internal/mcp/tier/selector.go and
// internal/mcp/mcphost/calibrate.go "measure, score, rank" shape — both
// pick a best-fit option (a budget tier, a tool's QoS tier) from declared
// and/or measured signals and a weight table. This package generalizes that
// shape from "best-fit tool" to "best-fit model": it scores every candidate
// on four independent axes, applies a per-use-case weight vector, and sorts
// the result, same as calibrate.go's measuredP50-to-tier mapping generalizes
// into Score's fit/quality/speed/context mapping.
package advisor

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/edge-veda/runtime/pkg/model"
)

// UseCase is the caller's intended workload, selecting a weight vector.
type UseCase string

const (
	UseCaseChat         UseCase = "chat"
	UseCaseReasoning    UseCase = "reasoning"
	UseCaseToolCalling  UseCase = "tool-calling"
	UseCaseVision       UseCase = "vision"
	UseCaseSTT          UseCase = "stt"
	UseCaseEmbedding    UseCase = "embedding"
	UseCaseFast         UseCase = "fast"
)

// weights is {fit, quality, speed, context}, summing to 1.0, per spec.md
// §4.7's table.
type weights struct {
	fit, quality, speed, context float64
}

var weightTable = map[UseCase]weights{
	UseCaseChat:        {fit: 0.25, quality: 0.35, speed: 0.30, context: 0.10},
	UseCaseReasoning:   {fit: 0.25, quality: 0.50, speed: 0.15, context: 0.10},
	UseCaseToolCalling: {fit: 0.25, quality: 0.40, speed: 0.25, context: 0.10},
	UseCaseVision:      {fit: 0.30, quality: 0.35, speed: 0.25, context: 0.10},
	UseCaseSTT:         {fit: 0.25, quality: 0.30, speed: 0.40, context: 0.05},
	UseCaseEmbedding:   {fit: 0.30, quality: 0.25, speed: 0.40, context: 0.05},
	UseCaseFast:        {fit: 0.25, quality: 0.20, speed: 0.50, context: 0.05},
}

// requiredCapability maps a use case to the capability tag Score's
// quality dimension rewards a matching descriptor for.
var requiredCapability = map[UseCase]model.Capability{
	UseCaseChat:        model.CapChat,
	UseCaseReasoning:   model.CapReasoning,
	UseCaseToolCalling: model.CapToolCalling,
	UseCaseVision:      model.CapVision,
	UseCaseSTT:         model.CapSTT,
	UseCaseEmbedding:   model.CapEmbedding,
	UseCaseFast:        model.CapChat,
}

// familyBaseline is the per-family quality baseline (0-100) Score's quality
// dimension starts from before the parameter-count bonus and quantization
// penalty are applied. Open Question (spec.md has no declared table):
// decided by ranking the families the registry actually carries
// (DESIGN.md "Model advisor quality baselines") roughly by their published
// benchmark standing at release, lowest for the smallest/oldest family.
var familyBaseline = map[string]float64{
	"llama3":    72,
	"qwen3":     74,
	"gemma2":    68,
	"phi3":      66,
	"tinyllama": 40,
	"smolvlm":   60,
	"whisper":   75,
	"minilm":    55,
}

const defaultFamilyBaseline = 50

// quantMultiplier feeds Score's speed dimension: a heavier quantization
// decodes faster per parameter.
var quantMultiplier = map[string]float64{
	"Q4_K_M": 1.3,
	"Q8_0":   1.0,
	"F16":    0.8,
}

const defaultQuantMultiplier = 1.0

// quantPenalty feeds Score's quality dimension: a heavier quantization
// loses some fidelity relative to the family's full-precision baseline.
var quantPenalty = map[string]float64{
	"Q4_K_M": 3,
}

// kvQuantFactor is the KV-cache-size multiplier for a cache quantization
// code, per spec.md §4.7's memory estimator.
var kvQuantFactor = map[string]float64{
	"F16":  2.0,
	"Q8_0": 1.0,
}

const defaultKVQuantFactor = 1.0

// DeviceProfile describes the target device's available memory and decode
// throughput class for the speed dimension.
type DeviceProfile struct {
	TotalRAMMiB    float64
	ChipMultiplier float64 // decode-speed class relative to a baseline phone SoC; 1.0 is baseline
}

// SafeBudgetMiB returns 60% of total device RAM, per spec.md §4.7.
func (p DeviceProfile) SafeBudgetMiB() float64 {
	return p.TotalRAMMiB * 0.6
}

// Request is one recommendation query: a use case, the context length the
// caller intends to run at, and the KV-cache quantization codes the memory
// estimate should assume.
type Request struct {
	UseCase             UseCase
	TargetContextTokens int
	ContextTokens       int // context length the estimate assumes the worker is configured with; defaults to the descriptor's max if zero
	KVQuantKey          string // "F16" | "Q8_0"; defaults to "F16"
	KVQuantValue        string
}

// MemoryEstimate breaks down the estimated resident footprint of a loaded
// model, per spec.md §4.7.
type MemoryEstimate struct {
	WeightsMiB        float64
	KVCacheMiB        float64
	GPUBuffersMiB     float64
	RuntimeOverheadMiB float64
	TotalMiB          float64
}

// EstimateMemory computes d's expected resident footprint for a worker
// configured at contextTokens with the given KV-cache quantization codes.
func EstimateMemory(d model.Descriptor, contextTokens int, kvQuantKey, kvQuantValue string) MemoryEstimate {
	if contextTokens <= 0 {
		contextTokens = d.MaxContextTokens
	}

	if !isGenerative(d) {
		fileMiB := float64(d.SizeBytes) / (1024 * 1024)
		total := fileMiB + 100
		return MemoryEstimate{WeightsMiB: fileMiB, RuntimeOverheadMiB: 100, TotalMiB: total}
	}

	weightsMiB := float64(d.SizeBytes) / (1024 * 1024) * 0.15

	keyFactor := lookupFactor(kvQuantFactor, kvQuantKey, defaultKVQuantFactor)
	valueFactor := lookupFactor(kvQuantFactor, kvQuantValue, defaultKVQuantFactor)
	avgFactor := (keyFactor + valueFactor) / 2

	kvCacheMiB := d.ParamsBillions * 4 * (float64(contextTokens) / 2048) * avgFactor
	gpuBuffersMiB := d.ParamsBillions * 80
	const runtimeOverheadMiB = 150

	subtotal := weightsMiB + kvCacheMiB + gpuBuffersMiB + runtimeOverheadMiB
	return MemoryEstimate{
		WeightsMiB:         weightsMiB,
		KVCacheMiB:         kvCacheMiB,
		GPUBuffersMiB:      gpuBuffersMiB,
		RuntimeOverheadMiB: runtimeOverheadMiB,
		TotalMiB:           1.3 * subtotal,
	}
}

func isGenerative(d model.Descriptor) bool {
	return d.Family != "whisper" && d.Family != "minilm"
}

func lookupFactor(table map[string]float64, key string, fallback float64) float64 {
	if key == "" {
		key = "F16"
	}
	if v, ok := table[key]; ok {
		return v
	}
	return fallback
}

// Score holds the four 0-100 dimension scores and their weighted
// combination for one candidate, per spec.md §4.7.
type Score struct {
	Fit     float64
	Quality float64
	Speed   float64
	Context float64
	Final   float64
}

// Candidate is one scored, ranked model for a Request.
type Candidate struct {
	Descriptor model.Descriptor
	Memory     MemoryEstimate
	Score      Score
	Fits       bool // TotalMiB <= the device's safe budget
}

// scoreFit maps memory usage as a fraction of the device's safe budget to a
// 0-100 score, per spec.md §4.7's fixed breakpoints.
func scoreFit(usedFraction float64) float64 {
	switch {
	case usedFraction <= 0.50:
		return 100
	case usedFraction <= 0.70:
		return 85
	case usedFraction <= 0.85:
		return 60
	case usedFraction <= 1.00:
		return 30
	default:
		return 0
	}
}

// scoreQuality combines a per-family baseline, a log-scaled parameter-count
// bonus capped at +15, a quantization penalty, and a capability-match
// bonus, per spec.md §4.7.
func scoreQuality(d model.Descriptor, wantCap model.Capability) float64 {
	baseline, ok := familyBaseline[d.Family]
	if !ok {
		baseline = defaultFamilyBaseline
	}

	paramBonus := 0.0
	if d.ParamsBillions > 0 {
		paramBonus = math.Log2(d.ParamsBillions+1) * 5
		if paramBonus > 15 {
			paramBonus = 15
		}
	}

	penalty := quantPenalty[d.Quantization]

	capBonus := 0.0
	if wantCap != "" && d.HasCapability(wantCap) {
		capBonus = 10
	}

	q := baseline + paramBonus - penalty + capBonus
	return clamp(q, 0, 100)
}

// scoreSpeed estimates decode throughput class on a 0-100 scale, per
// spec.md §4.7: 160/params_B, scaled by chip and quantization multipliers
// and doubled into the 0-100 range.
func scoreSpeed(d model.Descriptor, profile DeviceProfile) float64 {
	if d.ParamsBillions <= 0 {
		return 0
	}
	chipMul := profile.ChipMultiplier
	if chipMul <= 0 {
		chipMul = 1.0
	}
	quantMul, ok := quantMultiplier[d.Quantization]
	if !ok {
		quantMul = defaultQuantMultiplier
	}
	raw := (160 / d.ParamsBillions) * chipMul * quantMul
	return clamp(raw*2, 0, 100)
}

// scoreContext rewards headroom over the caller's target context length,
// per spec.md §4.7's fixed breakpoints.
func scoreContext(maxContextTokens, targetTokens int) float64 {
	if targetTokens <= 0 {
		return 100
	}
	switch {
	case maxContextTokens >= 2*targetTokens:
		return 100
	case maxContextTokens >= targetTokens:
		return 80
	case maxContextTokens >= targetTokens/2:
		return 50
	default:
		return 20
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ScoreOne computes the full Candidate for a single descriptor against a
// device profile and request, without consulting a registry.
func ScoreOne(d model.Descriptor, profile DeviceProfile, req Request) Candidate {
	mem := EstimateMemory(d, req.ContextTokens, req.KVQuantKey, req.KVQuantValue)
	budget := profile.SafeBudgetMiB()
	usedFraction := 0.0
	if budget > 0 {
		usedFraction = mem.TotalMiB / budget
	}

	w := weightTable[req.UseCase]
	if w == (weights{}) {
		w = weightTable[UseCaseChat]
	}

	s := Score{
		Fit:     scoreFit(usedFraction),
		Quality: scoreQuality(d, requiredCapability[req.UseCase]),
		Speed:   scoreSpeed(d, profile),
		Context: scoreContext(d.MaxContextTokens, req.TargetContextTokens),
	}
	s.Final = s.Fit*w.fit + s.Quality*w.quality + s.Speed*w.speed + s.Context*w.context

	return Candidate{
		Descriptor: d,
		Memory:     mem,
		Score:      s,
		Fits:       usedFraction <= 1.0,
	}
}

// Recommend scores every descriptor for the given profile and request,
// sorted descending by final score. The returned slice's first fitting
// element (Fits == true) is the caller's recommended model; a caller may
// still consider a non-fitting top scorer (e.g. with quantization changed)
// but Recommend itself never excludes candidates — per spec.md §4.7,
// "all candidates sorted descending ... with the best model that fits
// highlighted", not filtered.
//
// Each candidate's memory estimate and four-dimension score is computed
// concurrently via an errgroup, the same fan-out-then-aggregate shape the
// teacher's calibrate.go uses to probe every registered tool in parallel
// before reassigning tiers.
func Recommend(descriptors []model.Descriptor, profile DeviceProfile, req Request) ([]Candidate, error) {
	if _, ok := weightTable[req.UseCase]; !ok {
		return nil, fmt.Errorf("advisor: unknown use case %q", req.UseCase)
	}

	candidates := make([]Candidate, len(descriptors))
	g, _ := errgroup.WithContext(context.Background())
	for i, d := range descriptors {
		i, d := i, d
		g.Go(func() error {
			candidates[i] = ScoreOne(d, profile, req)
			return nil
		})
	}
	// ScoreOne is pure arithmetic and never fails, so Wait's error is
	// always nil; it is still checked for symmetry with the teacher's
	// errgroup usage and in case a future dimension gains fallible I/O.
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("advisor: scoring: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score.Final > candidates[j].Score.Final
	})
	return candidates, nil
}

// BestFit returns the highest-scoring candidate that fits the device's
// safe budget, or false if none do.
func BestFit(candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if c.Fits {
			return c, true
		}
	}
	return Candidate{}, false
}
