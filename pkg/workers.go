package cscraw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

type EventStatus int

const (
	StatusOK EventStatus = iota
	StatusMismatch
	StatusPackRejected
	StatusUnpackRejected
	StatusPanic
)

var eventStatusStrings = []string{"OK", "Mismatch", "PackRejected", "UnpackRejected", "Panic"}

func (s EventStatus) String() string {
	if s < 0 || int(s) >= len(eventStatusStrings) {
		return "Unknown"
	}
	return eventStatusStrings[s]
}

// EventResult is everything the pipeline produced for one event.
type EventResult struct {
	Seq        int
	RunNumber  uint32
	EventID    uint32
	Status     EventStatus
	Err        error
	Record     RawEventRecord
	NumTruth   int
	NumReadout int
	NumDecoded int
	Report     *Report
	PreTrigger *PreTriggerCheck
}

// EventSource yields events until io.EOF.
type EventSource interface {
	Next() (*EventType, error)
}

type ResultSink interface {
	WriteResult(result *EventResult) error
}

// MultiSink writes every result to all its sinks.
type MultiSink []ResultSink

func (m MultiSink) WriteResult(result *EventResult) error {
	var errs []error
	for _, sink := range m {
		if err := sink.WriteResult(result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunSummary aggregates the results of a run.
type RunSummary struct {
	Events   int
	ByStatus map[EventStatus]int
	Report   *Report
	Checks   PreTriggerCheck
	Bytes    int
}

func (s *RunSummary) add(result *EventResult) {
	s.Events++
	s.ByStatus[result.Status]++
	s.Bytes += len(result.Record)
	if result.Report != nil {
		s.Report.Merge(result.Report)
	}
	if result.PreTrigger != nil {
		s.Checks.TestsRun += result.PreTrigger.TestsRun
		s.Checks.TestsPassed += result.PreTrigger.TestsPassed
		s.Checks.Failures = append(s.Checks.Failures, result.PreTrigger.Failures...)
	}
}

// Pipeline runs Pack, Unpack and Compare on every event of a source.
type Pipeline struct {
	Config   Configuration
	Geometry Geometry
	Trigger  PreTriggerLogic
	Logger   Logger
}

func NewPipeline(config Configuration, geom Geometry, log Logger) *Pipeline {
	return &Pipeline{
		Config:   config,
		Geometry: geom,
		Trigger:  NewWindowPreTrigger(config.PreTrigger),
		Logger:   orNop(log),
	}
}

type job struct {
	seq   int
	event *EventType
}

type pipelineWorker struct {
	id         int
	pipeline   *Pipeline
	packer     *Packer
	unpacker   *Unpacker
	comparator *Comparator
}

func (p *Pipeline) newWorker(id int) (*pipelineWorker, error) {
	packer, err := NewPacker(p.Config.Packer, p.Geometry, p.Trigger, p.Logger)
	if err != nil {
		return nil, err
	}
	packer.SetVerbosity(p.Config.Verbosity)
	unpacker := NewUnpacker(p.Config.Unpacker, p.Geometry, p.Logger)
	unpacker.SetVerbosity(p.Config.Verbosity)
	return &pipelineWorker{
		id:         id,
		pipeline:   p,
		packer:     packer,
		unpacker:   unpacker,
		comparator: NewComparator(p.Config.Compare, p.Geometry),
	}, nil
}

// Run feeds the events of source to NumWorkers workers and hands the results
// to sink in input order from a single goroutine. Cancelling ctx stops
// feeding; events already being processed are finished and written.
// Per event failures are reported through the results, only source and
// sink errors end the run early. A sink error stops the remaining work.
func (p *Pipeline) Run(ctx context.Context, source EventSource, sink ResultSink) (*RunSummary, error) {
	nWorkers := p.Config.NumWorkers
	if nWorkers < 1 {
		nWorkers = 1
	}
	pool := make([]*pipelineWorker, nWorkers)
	for i := range pool {
		worker, err := p.newWorker(i + 1)
		if err != nil {
			return nil, err
		}
		pool[i] = worker
	}
	jobs := make(chan job, 2*nWorkers)
	results := make(chan *EventResult, 2*nWorkers)

	// stop ends feeding and processing when the sink fails.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(jobs)
		return p.feed(gctx, source, jobs)
	})

	var workers sync.WaitGroup
	for _, worker := range pool {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for j := range jobs {
				if gctx.Err() != nil {
					continue
				}
				results <- worker.process(j)
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	summary := &RunSummary{ByStatus: make(map[EventStatus]int), Report: NewReport()}
	var sinkErr error
	pending := make(map[int]*EventResult)
	next := 0
	for result := range results {
		pending[result.Seq] = result
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if sinkErr == nil {
				if sinkErr = p.emit(r, sink, summary); sinkErr != nil {
					stop()
				}
			}
		}
	}
	// Events skipped after a cancellation leave holes in the sequence.
	left := maps.Keys(pending)
	slices.Sort(left)
	for _, seq := range left {
		if sinkErr == nil {
			sinkErr = p.emit(pending[seq], sink, summary)
		}
	}

	err := g.Wait()
	if sinkErr != nil {
		return summary, sinkErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}
	return summary, ctx.Err()
}

func (p *Pipeline) feed(ctx context.Context, source EventSource, jobs chan<- job) error {
	for seq := 0; ; seq++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		event, err := source.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading event source: %w", err)
		}
		select {
		case jobs <- job{seq: seq, event: event}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) emit(result *EventResult, sink ResultSink, summary *RunSummary) error {
	summary.add(result)
	if result.Err != nil {
		p.Logger.Error(fmt.Sprintf("event %d: %s: %v", result.EventID, result.Status, result.Err))
		if p.Config.Discard {
			return nil
		}
	} else if p.Config.Verbosity > 1 {
		p.Logger.Info(fmt.Sprintf("Event %d: %s, %s", result.EventID, result.Status, result.Report), "pipeline")
	}
	if sink == nil {
		return nil
	}
	if err := sink.WriteResult(result); err != nil {
		return fmt.Errorf("error writing result of event %d: %w", result.EventID, err)
	}
	return nil
}

func (w *pipelineWorker) process(j job) (result *EventResult) {
	event := j.event
	result = &EventResult{
		Seq:       j.seq,
		RunNumber: event.RunNumber,
		EventID:   event.EventID,
		NumTruth:  event.Digis.Count(),
	}
	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusPanic
			result.Err = fmt.Errorf("worker %d recovered from panic on event %d: %v", w.id, event.EventID, r)
			result.Record = nil
			result.Report = nil
		}
	}()

	record, err := w.packer.Pack(event)
	if err != nil {
		result.Status = StatusPackRejected
		result.Err = err
		return result
	}
	result.Record = record

	unpacked, err := w.unpacker.Unpack(record)
	if err != nil {
		result.Status = StatusUnpackRejected
		result.Err = err
		return result
	}
	result.NumDecoded = unpacked.Digis.Count()

	readout := w.packer.Readout(event)
	result.NumReadout = readout.Count()
	result.Report = w.comparator.Compare(&readout, &unpacked.Digis)

	cfg := w.pipeline.Config.Packer
	if cfg.UsePreTriggers && !cfg.PackEverything {
		check := CheckPreTriggerReadout(event, &unpacked.Digis, w.pipeline.Trigger)
		result.PreTrigger = &check
	}

	if result.Report.OK() {
		result.Status = StatusOK
	} else {
		result.Status = StatusMismatch
	}
	return result
}
