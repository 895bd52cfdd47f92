package telemetry

import (
	"math"
	"time"
)

type sample struct {
	value float64
	at    time.Time
}

// samplesProcessor keeps the time ordered samples of one reader and folds
// them with the definition's algorithm.
type samplesProcessor struct {
	samples []sample
}

// add appends a sample taken at now and returns the aggregated value.
// Non numeric values clear the history and are returned unchanged.
func (p *samplesProcessor) add(v Value, now time.Time, algo CalculationAlgorithm, window time.Duration) Value {
	f, ok := v.Float()
	if !ok {
		p.samples = p.samples[:0]
		return v
	}

	p.samples = append(p.samples, sample{value: f, at: now})

	start := now.Add(-window)
	drop := 0
	for drop < len(p.samples) && p.samples[drop].at.Before(start) {
		drop++
	}
	if drop > 0 {
		p.samples = append(p.samples[:0], p.samples[drop:]...)
	}

	if len(p.samples) < 2 {
		return v
	}

	switch algo {
	case AverageOverInterval:
		return Number(p.averageOverInterval())
	case MaximumDuringInterval:
		return Number(p.fold(math.Max))
	case MinimumDuringInterval:
		return Number(p.fold(math.Min))
	default:
		return v
	}
}

// averageOverInterval integrates the piecewise linear function through the
// samples (trapezoid rule) and divides by the covered time span.
func (p *samplesProcessor) averageOverInterval() float64 {
	first, last := p.samples[0], p.samples[len(p.samples)-1]
	span := last.at.Sub(first.at).Seconds()
	if span <= 0 {
		return last.value
	}

	var area float64
	for i := 1; i < len(p.samples); i++ {
		prev, cur := p.samples[i-1], p.samples[i]
		area += (prev.value + cur.value) / 2 * cur.at.Sub(prev.at).Seconds()
	}
	return area / span
}

func (p *samplesProcessor) fold(pick func(a, b float64) float64) float64 {
	result := p.samples[0].value
	for _, s := range p.samples[1:] {
		result = pick(result, s.value)
	}
	return result
}

func (p *samplesProcessor) reset() {
	p.samples = p.samples[:0]
}

// roundToPrecision rounds numbers to the nearest multiple of precision,
// halves away from zero. Other values and non-positive precisions pass through.
func roundToPrecision(v Value, precision float64) Value {
	f, ok := v.Float()
	if !ok || precision <= 0 {
		return v
	}
	return Number(math.Round(f/precision) * precision)
}
