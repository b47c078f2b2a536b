package routing

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/errgroup"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/config"
	"github.com/smartai/router/internal/modelmeta"
)

const (
	// scoreMemoTTL is how long batch score results are memoised.
	scoreMemoTTL = 300 * time.Second
	// batchThreshold is the candidate count at which the parallel path kicks in.
	batchThreshold = 5
	// scoreWorkers bounds the parallel metadata workers.
	scoreWorkers = 4
	// tieEpsilon is the total-score tolerance for hierarchical tiebreaking.
	tieEpsilon = 1e-6
	// costRefPerMillion normalises prices: a blended USD/1M-token price at or
	// above this scores 0 on the cost dimension.
	costRefPerMillion = 50.0
	// latencyMinSamples is the sample count required before rolling latency
	// replaces the declared speed score.
	latencyMinSamples = 3
)

// Scorer computes the eight score dimensions for candidate sets.
type Scorer struct {
	meta    *modelmeta.Registry
	runtime *config.RuntimeState
	memo    *otter.Cache[string, []Score]
}

// NewScorer returns a Scorer over the given metadata registry and runtime state.
func NewScorer(meta *modelmeta.Registry, runtime *config.RuntimeState) *Scorer {
	memo := otter.Must(&otter.Options[string, []Score]{
		MaximumSize:      1024,
		ExpiryCalculator: otter.ExpiryWriting[string, []Score](scoreMemoTTL),
	})
	return &Scorer{meta: meta, runtime: runtime, memo: memo}
}

// Score ranks the candidates under the given strategy. Results are memoised
// by (sorted channel ids, model, strategy) for five minutes; the reliability
// and speed dimensions inside a memoised batch age with the entry.
func (s *Scorer) Score(ctx context.Context, req *Request, candidates []Candidate, strat Strategy) ([]Score, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	memoKey := s.memoKey(req.Model, strat.Name, candidates)
	if cached, ok := s.memo.GetIfPresent(memoKey); ok {
		return cached, nil
	}

	scores := make([]Score, len(candidates))
	for i, c := range candidates {
		scores[i] = Score{
			Channel:      c.Channel,
			ChannelID:    c.Channel.ID,
			ChannelName:  c.Channel.Name,
			MatchedModel: c.MatchedModel,
		}
	}

	// The four spec-dependent dimensions (cost, quality, parameter, context)
	// require a metadata lookup per candidate; parallelise for large sets.
	if len(candidates) >= batchThreshold {
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(scoreWorkers)
		for i := range scores {
			g.Go(func() error {
				s.specDimensions(&scores[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range scores {
			s.specDimensions(&scores[i])
		}
	}

	// Fast dimensions run inline: they read in-memory runtime state only.
	for i := range scores {
		s.fastDimensions(&scores[i])
		scores[i].Total = strat.apply(&scores[i])
		scores[i].Reason = fmt.Sprintf("strategy=%s cost=%.2f quality=%.2f speed=%.2f total=%.3f",
			strat.Name, scores[i].Cost, scores[i].Quality, scores[i].Speed, scores[i].Total)
	}

	sortScores(scores)
	s.memo.Set(memoKey, scores)
	return scores, nil
}

func (s *Scorer) memoKey(model, strategy string, candidates []Candidate) string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Channel.ID + ":" + strings.ToLower(c.MatchedModel)
	}
	slices.Sort(ids)
	return strings.Join(ids, ",") + "|" + model + "|" + strategy
}

// specDimensions fills the metadata-driven dimensions.
func (s *Scorer) specDimensions(sc *Score) {
	meta, _ := s.meta.Get(sc.MatchedModel, sc.Channel.Provider, sc.Channel.ID)

	sc.Cost = costScore(sc.Channel, meta)
	sc.Quality = meta.QualityScore
	sc.Parameter = modelmeta.ParameterScore(meta.ParameterCount)
	sc.Context = modelmeta.ContextScore(meta.ContextLength)
	if meta.IsFree {
		sc.Free = 1.0
	} else {
		sc.Free = 0.1
	}
	if meta.IsLocal || isLocalChannel(sc.Channel) {
		sc.Local = 1.0
	} else {
		sc.Local = 0.1
	}
}

// fastDimensions fills the runtime-driven dimensions.
func (s *Scorer) fastDimensions(sc *Score) {
	sc.Reliability = s.runtime.HealthScore(sc.Channel.ID)

	avg, n := s.runtime.AvgLatency(sc.Channel.ID)
	switch {
	case n >= latencyMinSamples:
		sc.Speed = clamp(1-avg/2000, 0.1, 1.0)
	case sc.Channel.Performance != nil && sc.Channel.Performance.SpeedScore > 0:
		sc.Speed = clamp(sc.Channel.Performance.SpeedScore, 0, 1)
	default:
		meta, _ := s.meta.Get(sc.MatchedModel, sc.Channel.Provider, sc.Channel.ID)
		sc.Speed = meta.SpeedScore
	}
}

// costScore computes 1 - min(1, normalized blended price). Model-level pricing
// is authoritative; the channel's cost_per_token is the fallback. The channel's
// currency exchange rate applies before normalisation so cross-currency
// channels rank comparably.
func costScore(ch *gateway.Channel, meta gateway.ModelMetadata) float64 {
	in, out := meta.PricingInput, meta.PricingOutput
	if in == 0 && out == 0 && ch.CostPerToken != nil {
		in = ch.CostPerToken.Input * 1e6
		out = ch.CostPerToken.Output * 1e6
	}
	if in == 0 && out == 0 {
		return 1.0 // explicit free
	}
	blended := (in + out) / 2
	if ch.CurrencyExchange != nil && ch.CurrencyExchange.Rate > 0 {
		blended *= ch.CurrencyExchange.Rate
	}
	return 1 - min(1, blended/costRefPerMillion)
}

// localTags are channel tags that mark a channel as local.
var localTags = map[string]struct{}{
	"local":     {},
	"localhost": {},
	"ollama":    {},
	"lmstudio":  {},
	"lan":       {},
}

// isLocalChannel reports whether the channel targets local hardware, by tag
// or by a loopback/RFC1918 base URL.
func isLocalChannel(ch *gateway.Channel) bool {
	for _, t := range ch.Tags {
		if _, ok := localTags[strings.ToLower(t)]; ok {
			return true
		}
	}
	if ch.BaseURL == "" {
		return false
	}
	u, err := url.Parse(ch.BaseURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsPrivate())
}

// sortScores orders by total desc; ties within epsilon break by channel
// priority asc, then parameter score desc, then channel id asc. The ordering
// is deterministic for equal inputs.
func sortScores(scores []Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := &scores[i], &scores[j]
		if diff := a.Total - b.Total; diff > tieEpsilon || diff < -tieEpsilon {
			return diff > 0
		}
		if a.Channel.Priority != b.Channel.Priority {
			return a.Channel.Priority < b.Channel.Priority
		}
		if a.Parameter != b.Parameter {
			return a.Parameter > b.Parameter
		}
		return a.ChannelID < b.ChannelID
	})
}

func clamp(v, lo, hi float64) float64 {
	return min(hi, max(lo, v))
}
