package vastai

import (
	"context"
	"math"
	"sort"
	"strings"
)

// Per-model VRAM floors in MB, for the full-precision model. Engine
// implementations that quantize get a multiplier below.
var modelVRAM = map[string]float64{
	"tiny":     1500,
	"tiny.en":  1500,
	"base":     2000,
	"base.en":  2000,
	"small":    3500,
	"small.en": 3500,
	"medium":   6500,
	"large":    12000,
	"large-v2": 12000,
	"large-v3": 12000,
}

// Quantization multipliers per engine implementation.
var implMultiplier = map[string]float64{
	"whisper-cpp": 0.6,
	"local":       0.6,
}

// VRAMRequired returns the VRAM floor in MB for a model under an
// implementation. Unknown models get the large floor.
func VRAMRequired(implementation, model string) float64 {
	base, ok := modelVRAM[model]
	if !ok {
		// Model names like "large-v3-turbo" still prefix-match.
		for name, v := range modelVRAM {
			if strings.HasPrefix(model, name) && v > base {
				base = v
				ok = true
			}
		}
		if !ok {
			base = modelVRAM["large"]
		}
	}
	if m, ok := implMultiplier[implementation]; ok {
		base *= m
	}
	return base
}

// OfferFilter selects usable offers for the worker fleet.
type OfferFilter struct {
	VRAMRequired float64 // MB
	CudaVersion  float64
	GPUSubstring string // default "RTX"
}

// FindOffers queries the marketplace and returns offers that are rentable,
// carry exactly one GPU of the wanted family with enough VRAM, and support
// the CUDA version, sorted cheapest first.
func (c *Client) FindOffers(ctx context.Context, f OfferFilter) ([]Offer, error) {
	sub := f.GPUSubstring
	if sub == "" {
		sub = "RTX"
	}
	query := map[string]any{
		"rentable":      map[string]any{"eq": true},
		"num_gpus":      map[string]any{"eq": 1},
		"gpu_ram":       map[string]any{"gte": f.VRAMRequired},
		"cuda_max_good": map[string]any{"gte": f.CudaVersion},
		"order":         []any{[]any{"dph_total", "asc"}},
		"type":          "bid",
	}
	offers, err := c.Offers(ctx, query)
	if err != nil {
		return nil, err
	}

	// Server-side filters are advisory; enforce them here too.
	var out []Offer
	for _, o := range offers {
		if !o.Rentable || o.NumGPUs != 1 {
			continue
		}
		if !strings.Contains(o.GPUName, sub) {
			continue
		}
		if o.GPURAM < f.VRAMRequired || o.CudaMaxGood < f.CudaVersion {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DPHTotal < out[j].DPHTotal })
	return out, nil
}

// Concurrency returns how many engine processes an offer can host:
// floor(gpu_ram / vram_required), at least 1.
func Concurrency(offer *Offer, vramRequired float64) int {
	if vramRequired <= 0 {
		return 1
	}
	n := int(math.Floor(offer.GPURAM / vramRequired))
	if n < 1 {
		n = 1
	}
	return n
}

// BidPrice computes the submitted bid: 1.25x the minimum, rounded to three
// decimals, floored at 0.001.
func BidPrice(minBid float64) float64 {
	bid := math.Round(minBid*1.25*1000) / 1000
	if bid < 0.001 {
		bid = 0.001
	}
	return bid
}
