// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package master

import (
	"sort"
	"time"

	"github.com/pingcap/jobmesh/pkg/containers"
	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/message"
	"go.uber.org/zap"
)

// WorkerStatus is the liveness state of a worker as seen by the master.
type WorkerStatus int

// Worker states.
const (
	WorkerAvailable WorkerStatus = iota
	WorkerBusy
	WorkerPresumedDead
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerAvailable:
		return "available"
	case WorkerBusy:
		return "busy"
	case WorkerPresumedDead:
		return "presumed-dead"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s WorkerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WorkerRecord is the master's view of one worker. Records are never
// removed, a worker whose heartbeat lapsed stays as presumed dead so its
// late results can be recognized.
type WorkerRecord struct {
	ID            string       `json:"id"`
	Addr          string       `json:"addr"`
	Status        WorkerStatus `json:"status"`
	InFlightJob   string       `json:"in-flight-job,omitempty"`
	LastHeartbeat time.Time    `json:"last-heartbeat"`
	RegisteredAt  time.Time    `json:"registered-at"`
	Dispatched    int64        `json:"dispatched"`
	Completed     int64        `json:"completed"`

	// queued tells whether the available queue holds an entry of the worker.
	queued bool
}

// PendingJob is a job accepted from a client and not answered yet.
type PendingJob struct {
	CorrelationID  string    `json:"cid"`
	Function       string    `json:"function"`
	ClientAddr     string    `json:"client-addr"`
	AssignedWorker string    `json:"assigned-worker,omitempty"`
	SubmittedAt    time.Time `json:"submitted-at"`
	Redispatched   int       `json:"redispatched"`

	job *message.Message
	// deadWorkers holds the workers presumed dead while running the job.
	deadWorkers map[string]struct{}
}

// delivery is a message the master must push once the scheduler lock is
// released. workerID is set for jobs dispatched to a worker.
type delivery struct {
	addr     string
	msg      *message.Message
	workerID string
}

type schedulerConfig struct {
	name             string
	resultAddr       string
	heartbeatTimeout time.Duration
	maxRedispatch    int
	maxBacklog       int
}

// scheduler holds the worker table, the pending jobs and the backlog. It does
// no I/O and is not goroutine safe, the master serializes every call.
//
// Between calls no job waits in the backlog while a worker it may run on is
// available. A redispatched job waits for a worker other than the ones
// presumed dead while running it, unless no such worker is alive.
type scheduler struct {
	cfg    schedulerConfig
	logger *zap.Logger

	workers map[string]*WorkerRecord
	// available holds worker ids in the order they became available. Entries
	// of workers that are no longer available are skipped when popped.
	available *containers.Deque[string]

	pending map[string]*PendingJob
	// backlog holds the correlation ids of pending jobs without a worker.
	backlog *containers.Deque[string]
}

func newScheduler(cfg schedulerConfig, logger *zap.Logger) *scheduler {
	return &scheduler{
		cfg:       cfg,
		logger:    logger,
		workers:   make(map[string]*WorkerRecord),
		available: containers.NewDeque[string](),
		pending:   make(map[string]*PendingJob),
		backlog:   containers.NewDeque[string](),
	}
}

// acceptJob registers a job from a client and dispatches it when a worker is
// available.
func (s *scheduler) acceptJob(now time.Time, job *message.Message) []delivery {
	clientAddr := job.ReplyTo
	if clientAddr == "" {
		clientAddr = s.cfg.resultAddr
	}
	if clientAddr == "" {
		s.logger.Warn("dropping job without reply address",
			zap.String("cid", job.CorrelationID), zap.String("sender", job.Sender))
		jobCounter.WithLabelValues(jobEventRejected).Inc()
		return nil
	}

	if err := job.Validate(); err != nil {
		return s.reject(job, clientAddr, err)
	}
	if _, ok := s.pending[job.CorrelationID]; ok {
		return s.reject(job, clientAddr, errors.ErrDuplicateJob.GenWithStackByArgs(job.CorrelationID))
	}
	if s.cfg.maxBacklog > 0 && s.backlog.Size() >= s.cfg.maxBacklog {
		return s.reject(job, clientAddr, errors.ErrOverloaded.GenWithStackByArgs(s.cfg.maxBacklog))
	}

	s.pending[job.CorrelationID] = &PendingJob{
		CorrelationID: job.CorrelationID,
		Function:      job.Function,
		ClientAddr:    clientAddr,
		SubmittedAt:   now,
		job:           job,
	}
	s.backlog.Push(job.CorrelationID)
	jobCounter.WithLabelValues(jobEventAccepted).Inc()
	return s.drain()
}

func (s *scheduler) reject(job *message.Message, clientAddr string, err error) []delivery {
	s.logger.Warn("job rejected",
		zap.String("cid", job.CorrelationID), zap.String("sender", job.Sender), zap.Error(err))
	jobCounter.WithLabelValues(jobEventRejected).Inc()
	return []delivery{{
		addr: clientAddr,
		msg:  message.NewResult(job, s.cfg.name, nil, err),
	}}
}

// acceptResult routes a result back to the client of its job. Results of
// jobs that are no longer pending, or that were reassigned to another
// worker, are discarded.
func (s *scheduler) acceptResult(now time.Time, result *message.Message) []delivery {
	var out []delivery

	w, known := s.workers[result.Sender]
	if known && w.Status != WorkerPresumedDead {
		w.LastHeartbeat = now
	}

	cid := result.CorrelationID
	if p, ok := s.pending[cid]; ok && p.AssignedWorker == result.Sender {
		delete(s.pending, cid)
		out = append(out, delivery{addr: p.ClientAddr, msg: result})
		jobCounter.WithLabelValues(jobEventCompleted).Inc()
		jobDurationHistogram.Observe(now.Sub(p.SubmittedAt).Seconds())
	} else {
		s.logger.Info("discarding result of a job that is not assigned to its sender",
			zap.String("cid", cid), zap.String("worker", result.Sender))
		jobCounter.WithLabelValues(jobEventDiscarded).Inc()
	}

	if known && w.Status == WorkerBusy && w.InFlightJob == cid {
		w.Completed++
		s.markAvailable(w)
	}
	return append(out, s.drain()...)
}

// heartbeat registers a worker on its first heartbeat, refreshes its
// liveness afterwards and revives a worker presumed dead.
func (s *scheduler) heartbeat(now time.Time, hb *message.Message) []delivery {
	w, ok := s.workers[hb.Sender]
	if !ok {
		if hb.ReplyTo == "" {
			s.logger.Warn("ignoring heartbeat without job address", zap.String("worker", hb.Sender))
			return nil
		}
		w = &WorkerRecord{
			ID:            hb.Sender,
			Addr:          hb.ReplyTo,
			LastHeartbeat: now,
			RegisteredAt:  now,
		}
		s.workers[w.ID] = w
		s.markAvailable(w)
		s.logger.Info("worker registered", zap.String("worker", w.ID), zap.String("addr", w.Addr))
		return s.drain()
	}

	w.LastHeartbeat = now
	if hb.ReplyTo != "" && hb.ReplyTo != w.Addr {
		s.logger.Info("worker changed its job address",
			zap.String("worker", w.ID), zap.String("old", w.Addr), zap.String("new", hb.ReplyTo))
		w.Addr = hb.ReplyTo
	}
	if w.Status == WorkerPresumedDead {
		s.markAvailable(w)
		s.logger.Info("worker recovered", zap.String("worker", w.ID))
	}
	return s.drain()
}

// checkLiveness presumes dead every worker whose last heartbeat is older
// than the heartbeat timeout and queues their in-flight jobs again.
func (s *scheduler) checkLiveness(now time.Time) []delivery {
	var out []delivery
	for _, id := range s.sortedWorkerIDs() {
		w := s.workers[id]
		if w.Status == WorkerPresumedDead || now.Sub(w.LastHeartbeat) <= s.cfg.heartbeatTimeout {
			continue
		}
		err := errors.ErrWorkerUnresponsive.GenWithStackByArgs(w.ID)
		s.logger.Warn("worker presumed dead",
			zap.String("worker", w.ID),
			zap.Duration("since-last-heartbeat", now.Sub(w.LastHeartbeat)),
			zap.Error(err))
		out = append(out, s.markDead(w)...)
	}
	return append(out, s.drain()...)
}

// dispatchFailed handles a job that could not be pushed to its worker, the
// worker is treated as dead.
func (s *scheduler) dispatchFailed(workerID string, cause error) []delivery {
	w, ok := s.workers[workerID]
	if !ok || w.Status == WorkerPresumedDead {
		return s.drain()
	}
	s.logger.Warn("failed to dispatch job, worker presumed dead",
		zap.String("worker", workerID), zap.String("cid", w.InFlightJob), zap.Error(cause))
	out := s.markDead(w)
	return append(out, s.drain()...)
}

func (s *scheduler) markDead(w *WorkerRecord) []delivery {
	w.Status = WorkerPresumedDead
	cid := w.InFlightJob
	w.InFlightJob = ""
	if cid == "" {
		return nil
	}

	p, ok := s.pending[cid]
	if !ok || p.AssignedWorker != w.ID {
		return nil
	}
	p.AssignedWorker = ""
	if p.Redispatched >= s.cfg.maxRedispatch {
		delete(s.pending, cid)
		err := errors.ErrRedispatchExhausted.GenWithStackByArgs(cid, p.Redispatched)
		s.logger.Warn("giving up job", zap.String("cid", cid), zap.Error(err))
		jobCounter.WithLabelValues(jobEventRejected).Inc()
		return []delivery{{
			addr: p.ClientAddr,
			msg:  message.NewResult(p.job, s.cfg.name, nil, err),
		}}
	}
	p.Redispatched++
	if p.deadWorkers == nil {
		p.deadWorkers = make(map[string]struct{}, 1)
	}
	p.deadWorkers[w.ID] = struct{}{}
	s.backlog.PushFront(cid)
	jobCounter.WithLabelValues(jobEventRedispatched).Inc()
	s.logger.Info("job queued for redispatch",
		zap.String("cid", cid), zap.String("dead-worker", w.ID), zap.Int("redispatched", p.Redispatched))
	return nil
}

func (s *scheduler) markAvailable(w *WorkerRecord) {
	w.Status = WorkerAvailable
	w.InFlightJob = ""
	if !w.queued {
		s.available.Push(w.ID)
		w.queued = true
	}
}

func (s *scheduler) popAvailable() *WorkerRecord {
	for {
		id, ok := s.available.Pop()
		if !ok {
			return nil
		}
		w := s.workers[id]
		w.queued = false
		if w.Status == WorkerAvailable {
			return w
		}
	}
}

// hasAvailable drops the stale head entries of the available queue and
// tells whether an available worker is left.
func (s *scheduler) hasAvailable() bool {
	for {
		id, ok := s.available.Peek()
		if !ok {
			return false
		}
		w := s.workers[id]
		if w.Status == WorkerAvailable {
			return true
		}
		s.available.Pop()
		w.queued = false
	}
}

// pickWorker pops the worker that should run p. Workers presumed dead while
// running p are skipped, and only taken when no other worker is alive.
func (s *scheduler) pickWorker(p *PendingJob) *WorkerRecord {
	if len(p.deadWorkers) == 0 {
		return s.popAvailable()
	}
	var (
		picked  *WorkerRecord
		skipped []*WorkerRecord
	)
	for {
		w := s.popAvailable()
		if w == nil {
			break
		}
		if _, dead := p.deadWorkers[w.ID]; !dead {
			picked = w
			break
		}
		skipped = append(skipped, w)
	}
	if picked == nil && len(skipped) > 0 && !s.hasOtherLiveWorker(p.deadWorkers) {
		picked, skipped = skipped[0], skipped[1:]
	}
	// Put the skipped workers back in their original order.
	for i := len(skipped) - 1; i >= 0; i-- {
		s.available.PushFront(skipped[i].ID)
		skipped[i].queued = true
	}
	return picked
}

func (s *scheduler) hasOtherLiveWorker(exclude map[string]struct{}) bool {
	for id, w := range s.workers {
		if _, ok := exclude[id]; ok || w.Status == WorkerPresumedDead {
			continue
		}
		return true
	}
	return false
}

// drain dispatches backlog jobs in FIFO order to available workers in FIFO
// order. Jobs that must wait for another worker keep their place at the head
// of the backlog.
func (s *scheduler) drain() []delivery {
	var (
		out      []delivery
		deferred []string
	)
	for s.hasAvailable() {
		cid, ok := s.backlog.Pop()
		if !ok {
			break
		}
		p, ok := s.pending[cid]
		if !ok {
			continue
		}
		w := s.pickWorker(p)
		if w == nil {
			deferred = append(deferred, cid)
			continue
		}

		w.Status = WorkerBusy
		w.InFlightJob = cid
		w.Dispatched++
		p.AssignedWorker = w.ID
		out = append(out, delivery{addr: w.Addr, msg: p.job, workerID: w.ID})
		jobCounter.WithLabelValues(jobEventDispatched).Inc()
	}
	for i := len(deferred) - 1; i >= 0; i-- {
		s.backlog.PushFront(deferred[i])
	}
	s.updateGauges()
	return out
}

func (s *scheduler) updateGauges() {
	counts := make(map[WorkerStatus]int, 3)
	for _, w := range s.workers {
		counts[w.Status]++
	}
	for _, status := range []WorkerStatus{WorkerAvailable, WorkerBusy, WorkerPresumedDead} {
		workerNumGauge.WithLabelValues(status.String()).Set(float64(counts[status]))
	}
	pendingJobGauge.Set(float64(len(s.pending)))
	backlogGauge.Set(float64(s.backlog.Size()))
}

func (s *scheduler) sortedWorkerIDs() []string {
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// workerSnapshot returns copies of all worker records sorted by id.
func (s *scheduler) workerSnapshot() []WorkerRecord {
	ids := s.sortedWorkerIDs()
	records := make([]WorkerRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, *s.workers[id])
	}
	return records
}

// jobSnapshot returns copies of all pending jobs sorted by submission time.
func (s *scheduler) jobSnapshot() []PendingJob {
	jobs := make([]PendingJob, 0, len(s.pending))
	for _, p := range s.pending {
		jobs = append(jobs, *p)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].SubmittedAt.Equal(jobs[j].SubmittedAt) {
			return jobs[i].CorrelationID < jobs[j].CorrelationID
		}
		return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
	})
	return jobs
}

func (s *scheduler) backlogLen() int {
	return s.backlog.Size()
}
