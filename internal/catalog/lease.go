package catalog

import (
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// lease is the single database worker goroutine: every Catalog operation
// that touches the live database is posted here as a closure and run to
// completion before the next one starts, so there is exactly one
// writer/reader turn at a time and release is guaranteed by construction.
// There is no acquire call a caller can forget to pair with a release.
type lease struct {
	db       *gorm.DB
	requests chan request
}

type request struct {
	run  func(db *gorm.DB) error
	done chan error
}

func newLease(db *gorm.DB) *lease {
	l := &lease{db: db, requests: make(chan request, 64)}
	go l.run()
	return l
}

func (l *lease) run() {
	for req := range l.requests {
		start := time.Now()
		err := req.run(l.db)
		if took := time.Since(start); took > 100*time.Millisecond {
			log.Tracef("catalog lease held for %v", took)
		}
		req.done <- err
	}
}

// Do runs fn with exclusive access to the database handle and blocks the
// caller until it finishes, on every exit path including panics recovered
// upstream in fn itself.
func (l *lease) Do(fn func(db *gorm.DB) error) error {
	done := make(chan error, 1)
	l.requests <- request{run: fn, done: done}
	return <-done
}

// Close stops accepting new requests. Any requests already queued still run.
func (l *lease) Close() {
	close(l.requests)
}
