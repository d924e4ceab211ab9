package main

import (
	"fmt"

	cscraw "github.com/jmbenlloch/cscraw_go/pkg"
)

type packJob struct {
	Seq   int
	Event *cscraw.EventType
}

type packResult struct {
	Seq    int
	Record cscraw.RawEventRecord
	Err    error
}

func worker(id int, packer *cscraw.Packer, jobs <-chan packJob, results chan<- packResult) {
	for job := range jobs {
		results <- packOne(id, packer, job)
	}
}

func packOne(id int, packer *cscraw.Packer, job packJob) (result packResult) {
	result.Seq = job.Seq
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("worker %d recovered from panic on event %d: %v", id, job.Event.EventID, r)
		}
	}()
	result.Record, result.Err = packer.Pack(job.Event)
	return result
}

func sendEventsToWorkers(events []*cscraw.EventType, jobs chan<- packJob) {
	for i, event := range events {
		jobs <- packJob{Seq: i, Event: event}
	}
	close(jobs)
}

// packAll packs every event with nWorkers packers built from cfg. Records are
// returned in input order, nil for rejected events.
func packAll(events []*cscraw.EventType, cfg cscraw.Configuration, geometry cscraw.Geometry, nWorkers int) ([]cscraw.RawEventRecord, int, error) {
	trigger := cscraw.NewWindowPreTrigger(cfg.PreTrigger)
	packers := make([]*cscraw.Packer, nWorkers)
	for i := range packers {
		packer, err := cscraw.NewPacker(cfg.Packer, geometry, trigger, logger)
		if err != nil {
			return nil, 0, err
		}
		packers[i] = packer
	}

	jobs := make(chan packJob, 100)
	results := make(chan packResult, 100)
	for i, packer := range packers {
		go worker(i+1, packer, jobs, results)
	}
	go sendEventsToWorkers(events, jobs)

	records := make([]cscraw.RawEventRecord, len(events))
	rejected := 0
	for range events {
		result := <-results
		if result.Err != nil {
			rejected++
			if VerbosityLevel > 1 {
				logger.Error(result.Err.Error())
			}
			continue
		}
		records[result.Seq] = result.Record
	}
	return records, rejected, nil
}
