package telemetry

import (
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
)

// Observer is notified of processing events, e.g. to maintain counters
type Observer interface {
	CycleCompleted(changed int)
	ContextUpdated(id TypeID, refreshed bool, err error)
	ReadFailed(r Reader, err error)
}

type noopObserver struct{}

func (noopObserver) CycleCompleted(int) {}
func (noopObserver) ContextUpdated(TypeID, bool, error) {}
func (noopObserver) ReadFailed(Reader, error) {}

// ProcessorOption configures a MetricsProcessor
type ProcessorOption func(*MetricsProcessor)

// WithClock replaces the wall clock
func WithClock(c Clock) ProcessorOption {
	return func(p *MetricsProcessor) { p.clock = c }
}

// WithObserver installs o
func WithObserver(o Observer) ProcessorOption {
	return func(p *MetricsProcessor) { p.observer = o }
}

// readerGroup holds the readers of one type id and their shared Context
type readerGroup struct {
	typeID  TypeID
	members []Reader
	ctx     Context
}

// MetricsProcessor schedules readers on their sensing periods and drives the
// type groups through their Contexts. It is not safe for concurrent use.
type MetricsProcessor struct {
	ctrl     ipmi.Controller
	readers  []Reader
	groups   []*readerGroup
	clock    Clock
	observer Observer
	logger   logger.Logger
}

// NewMetricsProcessor groups readers by type id, in order of first appearance
func NewMetricsProcessor(ctrl ipmi.Controller, readers []Reader, opts ...ProcessorOption) *MetricsProcessor {
	p := &MetricsProcessor{
		ctrl:     ctrl,
		readers:  readers,
		clock:    wallClock{},
		observer: noopObserver{},
		logger:   logger.New("telemetry"),
	}
	for _, opt := range opts {
		opt(p)
	}

	index := make(map[TypeID]*readerGroup)
	for _, r := range readers {
		g, ok := index[r.TypeID()]
		if !ok {
			g = &readerGroup{typeID: r.TypeID()}
			index[r.TypeID()] = g
			p.groups = append(p.groups, g)
		}
		g.members = append(g.members, r)
	}

	return p
}

// Readers returns every reader handed to the processor
func (p *MetricsProcessor) Readers() []Reader {
	return p.readers
}

// ReadAllMetrics runs one cycle and returns the readers whose value or
// health changed.
func (p *MetricsProcessor) ReadAllMetrics() []Reader {
	now := p.clock.Now()

	var changed []Reader
	for _, g := range p.groups {
		changed = append(changed, p.processGroup(g, now)...)
	}

	p.observer.CycleCompleted(len(changed))
	return changed
}

func (p *MetricsProcessor) processGroup(g *readerGroup, now time.Time) []Reader {
	p.excludeUnsensed(g)
	if !g.anyDue(now) {
		return nil
	}

	if g.ctx == nil {
		ctx, err := g.members[0].CreateContext(p.ctrl, p.readers)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("reader", g.members[0].Info()).
				Msg("Context creation failed, retrying next cycle")
			p.observer.ContextUpdated(g.typeID, false, err)
			return nil
		}
		g.ctx = ctx
		p.validate(g)
	}

	due := g.dueMembers(now)
	if len(due) == 0 {
		return nil
	}

	refreshed, err := g.ctx.Update()
	p.observer.ContextUpdated(g.typeID, refreshed, err)
	for _, r := range due {
		r.base().advance(now, r.Definition().SensingPeriod())
	}

	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("reader", g.members[0].Info()).
			Msg("Context update failed, clearing group values")

		var changed []Reader
		for _, r := range g.members {
			b := r.base()
			if b.validated && !b.excluded && b.ClearValue() {
				changed = append(changed, r)
			}
		}
		return changed
	}

	if refreshed {
		for _, r := range g.members {
			if b := r.base(); b.validated && !b.excluded {
				b.toBeRead = true
			}
		}
	}

	var changed []Reader
	for _, r := range due {
		if p.read(g, r, now) {
			changed = append(changed, r)
		}
	}
	return changed
}

func (p *MetricsProcessor) read(g *readerGroup, r Reader, now time.Time) bool {
	b := r.base()
	if !b.toBeRead {
		return false
	}
	b.toBeRead = false
	b.now = now

	changed, err := r.Read(g.ctx, p.ctrl)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("reader", r.Info()).
			Str("resource", r.Resource().String()).
			Msg("Read failed")
		p.observer.ReadFailed(r, err)
		return b.ClearValue()
	}
	return changed
}

func (p *MetricsProcessor) validate(g *readerGroup) {
	for _, r := range g.members {
		b := r.base()
		if b.excluded || b.validated {
			continue
		}
		if !r.IsValid(g.ctx) {
			b.excluded = true
			p.logger.Error().
				Str("reader", r.Info()).
				Str("resource", r.Resource().String()).
				Msg("Reader not valid, excluded")
			continue
		}
		b.markValid()
	}
}

// excludeUnsensed drops readers without a positive sensing period
func (p *MetricsProcessor) excludeUnsensed(g *readerGroup) {
	for _, r := range g.members {
		b := r.base()
		if b.excluded || r.Definition().SensingPeriod() > 0 {
			continue
		}
		b.excluded = true
		p.logger.Warn().
			Str("reader", r.Info()).
			Str("resource", r.Resource().String()).
			Str("metric", r.Definition().Name).
			Msg("No sensing interval, reader excluded")
	}
}

func (g *readerGroup) anyDue(now time.Time) bool {
	for _, r := range g.members {
		if b := r.base(); !b.excluded && b.due(now) {
			return true
		}
	}
	return false
}

func (g *readerGroup) dueMembers(now time.Time) []Reader {
	var due []Reader
	for _, r := range g.members {
		if b := r.base(); b.validated && !b.excluded && b.due(now) {
			due = append(due, r)
		}
	}
	return due
}

// EarliestUpdateTime returns the earliest next due time over the readers
// still scheduled. Readers never read count as due now.
func (p *MetricsProcessor) EarliestUpdateTime() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, r := range p.readers {
		b := r.base()
		if b.excluded {
			continue
		}
		next := b.next
		if !b.scheduled {
			next = p.clock.Now()
		}
		if !found || next.Before(earliest) {
			earliest = next
			found = true
		}
	}
	return earliest, found
}
