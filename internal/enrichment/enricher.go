package enrichment

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/starforge-io/starforge/internal/dataset"
)

type (
	// Enricher joins best-effort geo coordinates onto cleaned records.
	//
	// Enrichment is a two-phase batch operation rather than a per-row lookup
	// loop: phase one computes the distinct state set and resolves it into a
	// run-scoped cache with bounded concurrency, phase two broadcast-joins
	// the cache back onto every row. This keeps the per-row work
	// embarrassingly parallel and guarantees at most one external lookup per
	// distinct state per run, failures included.
	Enricher struct {
		geocoder       Geocoder
		logger         *slog.Logger
		maxConcurrency int
	}

	// Result carries the enriched batch and the lookup failure count.
	Result struct {
		Records  []dataset.EnrichedRecord
		Failures int64 // distinct states whose lookup failed or missed
	}

	// cacheEntry is a resolved (or failed) lookup, cached for the run.
	// Negative results are cached too: a state that missed once is not
	// looked up again within the run.
	cacheEntry struct {
		coords dataset.Coordinates
		ok     bool
	}
)

// NewEnricher creates an Enricher over the given geocoder.
func NewEnricher(geocoder Geocoder, logger *slog.Logger, maxConcurrency int) *Enricher {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	return &Enricher{
		geocoder:       geocoder,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Enrich resolves coordinates for the distinct states in the batch and joins
// them onto every record.
//
// Lookup failures (timeout, not-found) never fail the batch: affected rows
// carry nil coordinates and the failure is counted once per distinct state.
// The output preserves the input's ingestion order.
func (e *Enricher) Enrich(ctx context.Context, records []dataset.CleanedRecord) (Result, error) {
	res := Result{Records: make([]dataset.EnrichedRecord, 0, len(records))}

	cache, failures, err := e.resolveDistinct(ctx, distinctStates(records))
	if err != nil {
		return Result{}, err
	}

	res.Failures = failures

	for i := range records {
		enriched := dataset.EnrichedRecord{CleanedRecord: records[i]}

		if entry, ok := cache[records[i].State]; ok && entry.ok {
			coords := entry.coords
			enriched.Coords = &coords
		}

		res.Records = append(res.Records, enriched)
	}

	return res, nil
}

// distinctStates returns the sorted distinct state values of the batch.
// Sorting makes the lookup order (and therefore logs and rate-limiter
// behavior) reproducible across runs.
func distinctStates(records []dataset.CleanedRecord) []string {
	seen := make(map[string]struct{}, len(records))

	for i := range records {
		state := records[i].State
		if state == "" {
			continue
		}

		seen[state] = struct{}{}
	}

	states := make([]string, 0, len(seen))
	for state := range seen {
		states = append(states, state)
	}

	sort.Strings(states)

	return states
}

// resolveDistinct resolves each distinct state exactly once into the cache.
//
// The cache is the single coordination point of the stage: workers resolve
// disjoint states, so each writes its own key and no state is ever looked up
// twice. Only context cancellation is returned as an error; per-state
// failures are recorded in the cache as negative entries.
func (e *Enricher) resolveDistinct(
	ctx context.Context,
	states []string,
) (map[string]cacheEntry, int64, error) {
	cache := make(map[string]cacheEntry, len(states))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures int64
	)

	sem := make(chan struct{}, e.maxConcurrency)

	for _, state := range states {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)

		go func(state string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			coords, err := e.geocoder.Resolve(ctx, state)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failures++
				cache[state] = cacheEntry{ok: false}

				e.logResolveFailure(state, err)

				return
			}

			cache[state] = cacheEntry{coords: coords, ok: true}
		}(state)
	}

	wg.Wait()

	if ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}

	return cache, failures, nil
}

func (e *Enricher) logResolveFailure(state string, err error) {
	if e.logger == nil {
		return
	}

	if errors.Is(err, ErrStateNotFound) {
		e.logger.Debug("state not found by geocoder",
			slog.String("state", state))

		return
	}

	e.logger.Warn("geo lookup failed, enriching with null coordinates",
		slog.String("state", state),
		slog.String("error", err.Error()))
}
