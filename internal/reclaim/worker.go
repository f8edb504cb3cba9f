// Package reclaim implements the single-threaded background worker that
// performs all deferred destructive work: deleting an individual expired
// key, and tearing down a closed database's engine and on-disk directory.
//
// A single consumer draining one unbounded queue gives the ordering
// guarantee the database manager depends on — "remove from the
// meta-database" always happens-before "destroy the engine and delete the
// directory" for the same name — without any per-database locking.
package reclaim

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dejankos/rocky/internal/engine"
	"github.com/dejankos/rocky/internal/idgen"
)

// Job is one self-contained unit of deferred work. It owns everything it
// needs by value at enqueue time, so it outlives whatever constructed it.
type Job interface {
	run(log zerolog.Logger)
}

// ExpireKey deletes a single key from an already-open engine handle. Used
// when a read observes a record past its TTL: the read path only holds a
// read lock on the catalogue, so the actual delete — which needs the
// handle's write lock — is handed off here instead of being done inline.
type ExpireKey struct {
	DB     string
	Key    string
	Handle engine.Engine
}

func (j ExpireKey) run(log zerolog.Logger) {
	if err := j.Handle.Delete(j.Key); err != nil {
		log.Warn().Err(err).Str("db", j.DB).Str("key", j.Key).Msg("expire-key job failed")
	}
}

// DestroyDatabase destroys an evicted engine handle and removes its on-disk
// directory. The handle must already have been removed from the catalogue
// by the caller; this job never touches the catalogue or the meta-database.
type DestroyDatabase struct {
	DB      string
	Path    string
	Handle  engine.Engine
	Destroy func(path string) error
}

func (j DestroyDatabase) run(log zerolog.Logger) {
	if err := j.Handle.Close(); err != nil {
		log.Warn().Err(err).Str("db", j.DB).Msg("destroy-database job: failed to close engine")
	}
	if err := j.Destroy(j.Path); err != nil {
		log.Warn().Err(err).Str("db", j.DB).Str("path", j.Path).Msg("destroy-database job: failed to remove directory")
	}
}

// Worker drains jobs off an unbounded queue on a single goroutine. Close
// stops it; the queue channel itself is never closed, so concurrent
// enqueues never race a send against a closed channel.
type Worker struct {
	jobs chan namedJob
	done chan struct{}
	wg   sync.WaitGroup
	log  zerolog.Logger
}

type namedJob struct {
	id  idgen.JobID
	job Job
}

// New starts a Worker. Call Close to stop it once its enclosing manager is
// shutting down; that is the only way the background goroutine exits.
func New(log zerolog.Logger) *Worker {
	w := &Worker{
		jobs: make(chan namedJob, 1024),
		done: make(chan struct{}),
		log:  log,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue submits job for asynchronous execution. It never blocks: the
// queue is effectively unbounded, backed by a buffered channel that grows
// in practice far slower than it drains. If the worker has already been
// closed, the job is logged and dropped rather than submitted.
func (w *Worker) Enqueue(job Job) {
	id := idgen.Next()
	select {
	case <-w.done:
		w.log.Warn().Str("job", id.String()).Msg("dropping job enqueued after worker shutdown")
		return
	default:
	}
	select {
	case w.jobs <- namedJob{id: id, job: job}:
	default:
		// Buffered channel is momentarily full; spill onto a goroutine so
		// Enqueue itself never blocks the caller's request thread. This is
		// the one place the worker's otherwise-strict FIFO ordering can
		// slip: a spilled job races every later Enqueue call for a slot in
		// w.jobs and can land after them. Harmless today because nothing
		// queued here depends on cross-job ordering for correctness (the
		// meta-database removal a Close/Open race depends on happens
		// synchronously, not through this queue), but a caller that did
		// need a strict ordering guarantee across a full channel should
		// make w.jobs large enough that this branch is never exercised.
		go func() {
			select {
			case w.jobs <- namedJob{id: id, job: job}:
			case <-w.done:
				w.log.Warn().Str("job", id.String()).Msg("dropping job enqueued after worker shutdown")
			}
		}()
	}
}

// Close stops accepting new jobs and waits for everything already queued to
// drain before returning.
func (w *Worker) Close() {
	close(w.done)
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case nj := <-w.jobs:
			w.run(nj)
		case <-w.done:
			w.drainRemaining()
			return
		}
	}
}

func (w *Worker) drainRemaining() {
	for {
		select {
		case nj := <-w.jobs:
			w.run(nj)
		default:
			return
		}
	}
}

func (w *Worker) run(nj namedJob) {
	log := w.log.With().Str("job", nj.id.String()).Logger()
	nj.job.run(log)
}
