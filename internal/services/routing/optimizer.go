package routing

import (
	"context"
	"fmt"
	"log"
	"sync"

	"kunjungan-backend/internal/models"
)

// OptimizeOptions selects the cost model for one optimization call.
type OptimizeOptions struct {
	// UseRoadDistance prices legs with the routing service instead of
	// great-circle distance.
	UseRoadDistance bool
	// AvoidOneWay rejects orderings whose legs trip the one-way heuristic,
	// falling back to the unconstrained minimum when none survive.
	AvoidOneWay bool
}

// Optimizer finds the minimum-cost visiting order for a small set of
// destinations by exhaustive search over the (n-1)! orderings of the
// visit locations.
type Optimizer struct {
	provider        Provider
	oneWay          *OneWayFilter
	maxLocations    int
	prefetchWorkers int
}

// NewOptimizer builds an optimizer bounded to maxLocations total locations
// (start included). Leg lookups against the provider are prefetched with at
// most prefetchWorkers concurrent requests.
func NewOptimizer(provider Provider, oneWay *OneWayFilter, maxLocations, prefetchWorkers int) *Optimizer {
	if maxLocations < 1 {
		maxLocations = 10
	}
	if prefetchWorkers < 1 {
		prefetchWorkers = 1
	}
	return &Optimizer{
		provider:        provider,
		oneWay:          oneWay,
		maxLocations:    maxLocations,
		prefetchWorkers: prefetchWorkers,
	}
}

// leg is the priced edge between two locations of one optimization call.
type leg struct {
	cost     float64
	steps    []RouteStep
	violates bool
}

// Optimize returns the minimum-cost route starting at the single start-role
// location and visiting every other location exactly once.
func (o *Optimizer) Optimize(ctx context.Context, locations []models.Location, opts OptimizeOptions) (*models.Route, error) {
	if len(locations) > o.maxLocations {
		return nil, &TooManyLocationsError{Count: len(locations), Max: o.maxLocations}
	}

	var start *models.Location
	visits := make([]models.Location, 0, len(locations))
	for i := range locations {
		if locations[i].Role == models.RoleStart {
			if start != nil {
				return nil, ErrMissingStart
			}
			start = &locations[i]
		} else {
			visits = append(visits, locations[i])
		}
	}
	if start == nil {
		return nil, ErrMissingStart
	}

	if len(visits) == 0 {
		return &models.Route{Locations: []models.Location{*start}, TotalDistanceMeters: 0}, nil
	}

	legs, err := o.prefetchLegs(ctx, *start, visits, opts)
	if err != nil {
		return nil, err
	}

	// Index 0 is the start; visit i lives at index i+1.
	var (
		bestAnyCost    = -1.0
		bestAnyOrder   []int
		bestValidCost  = -1.0
		bestValidOrder []int
	)

	forEachPermutation(len(visits), func(perm []int) bool {
		cost := 0.0
		valid := true
		prev := 0
		for _, v := range perm {
			l := legs[prev][v+1]
			cost += l.cost
			if opts.AvoidOneWay && l.violates {
				valid = false
			}
			prev = v + 1
		}

		if bestAnyCost < 0 || cost < bestAnyCost {
			bestAnyCost = cost
			bestAnyOrder = append(bestAnyOrder[:0], perm...)
		}
		if valid && (bestValidCost < 0 || cost < bestValidCost) {
			bestValidCost = cost
			bestValidOrder = append(bestValidOrder[:0], perm...)
		}
		return true
	})

	order := bestValidOrder
	cost := bestValidCost
	compromised := false
	if opts.AvoidOneWay && order == nil {
		// Every ordering trips the heuristic: availability beats precision,
		// return the unconstrained minimum and flag it.
		log.Printf("[OPTIMIZER] no ordering avoids one-way violations for %d visits, using best-effort route", len(visits))
		order = bestAnyOrder
		cost = bestAnyCost
		compromised = true
	} else if !opts.AvoidOneWay {
		order = bestAnyOrder
		cost = bestAnyCost
	}

	routeLocations := make([]models.Location, 0, len(visits)+1)
	routeLocations = append(routeLocations, *start)
	for _, v := range order {
		routeLocations = append(routeLocations, visits[v])
	}

	return &models.Route{
		Locations:           routeLocations,
		TotalDistanceMeters: cost,
		OneWayCompromised:   compromised,
	}, nil
}

// prefetchLegs prices every ordered pair a candidate route can use: from the
// start to each visit and between distinct visits. Provider lookups run in a
// bounded worker pool; the pure great-circle cost model never touches the
// provider.
func (o *Optimizer) prefetchLegs(ctx context.Context, start models.Location, visits []models.Location, opts OptimizeOptions) ([][]leg, error) {
	n := len(visits) + 1
	points := make([]models.Coordinate, n)
	points[0] = start.Coordinate()
	for i, v := range visits {
		points[i+1] = v.Coordinate()
	}

	legs := make([][]leg, n)
	for i := range legs {
		legs[i] = make([]leg, n)
	}

	type pair struct{ from, to int }
	var pairs []pair
	for from := 0; from < n; from++ {
		for to := 1; to < n; to++ {
			if from == to {
				continue
			}
			pairs = append(pairs, pair{from, to})
		}
	}

	if !opts.UseRoadDistance && !opts.AvoidOneWay {
		for _, p := range pairs {
			legs[p.from][p.to] = leg{cost: HaversineMeters(points[p.from], points[p.to])}
		}
		return legs, nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		semaphore = make(chan struct{}, o.prefetchWorkers)
	)

	for _, p := range pairs {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				mu.Lock()
				if firstErr == nil {
					firstErr = ctx.Err()
				}
				mu.Unlock()
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			l, err := o.fetchLeg(ctx, points[p.from], points[p.to], opts)
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			legs[p.from][p.to] = l
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, fmt.Errorf("prefetch route legs: %w", firstErr)
	}
	return legs, nil
}

func (o *Optimizer) fetchLeg(ctx context.Context, from, to models.Coordinate, opts OptimizeOptions) (leg, error) {
	if opts.AvoidOneWay {
		// One call yields both the price and the step sequence to screen.
		info, err := o.provider.DrivingRoute(ctx, from, to)
		if err != nil {
			return leg{}, err
		}
		cost := info.DistanceMeters
		if !opts.UseRoadDistance {
			cost = HaversineMeters(from, to)
		}
		return leg{
			cost:     cost,
			steps:    info.Steps,
			violates: o.oneWay != nil && o.oneWay.ViolatesOneWay(info.Steps),
		}, nil
	}

	meters, err := o.provider.DrivingDistance(ctx, from, to)
	if err != nil {
		return leg{}, err
	}
	return leg{cost: meters}, nil
}
