package router

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// probeTimeout bounds a single capacity probe so a slow vendor endpoint
// cannot stall a scheduler tick.
const probeTimeout = 10 * time.Second

// Prober checks a vendor's remaining capacity out of band. A false
// verdict needs positive evidence that the provider sits below the
// threshold; errors mean the probe could not tell.
type Prober interface {
	Probe(ctx context.Context, threshold float64) (bool, error)
}

// claudeProbe reads Anthropic rate-limit headers off a minimal models
// list call. Every bucket the API advertises must have at least
// threshold percent remaining. Without an API key there is nothing to
// probe with, so the verdict is available.
type claudeProbe struct{}

func (claudeProbe) Probe(ctx context.Context, threshold float64) (bool, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client := anthropic.NewClient(option.WithAPIKey(key))
	var resp *http.Response
	_, err := client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)},
		option.WithResponseInto(&resp))
	if err != nil {
		return false, err
	}
	for _, pct := range ratelimitPercentages(resp.Header) {
		if pct < threshold {
			return false, nil
		}
	}
	return true, nil
}

// ratelimitPercentages pairs each anthropic-ratelimit-<bucket>-remaining
// response header with its -limit counterpart and returns the remaining
// percentage per bucket. Buckets with a missing or zero limit are
// skipped.
func ratelimitPercentages(h http.Header) map[string]float64 {
	out := make(map[string]float64)
	for name := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "anthropic-ratelimit-") || !strings.HasSuffix(lower, "-remaining") {
			continue
		}
		bucket := strings.TrimSuffix(strings.TrimPrefix(lower, "anthropic-ratelimit-"), "-remaining")
		remaining, err := strconv.ParseFloat(h.Get(name), 64)
		if err != nil {
			continue
		}
		limit, err := strconv.ParseFloat(h.Get("anthropic-ratelimit-"+bucket+"-limit"), 64)
		if err != nil || limit <= 0 {
			continue
		}
		out[bucket] = remaining / limit * 100
	}
	return out
}
