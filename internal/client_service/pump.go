package client_service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/exp/rand"

	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/store"
)

const (
	pumpPollInterval = 5 * time.Second
	backoffBase      = time.Second
	backoffCap       = 60 * time.Second
)

// runPump is the background reconciler loop: whenever the client is
// not administratively offline and the journal is non-empty, it
// attempts a replay. Transport failures back off exponentially with
// full jitter until the server answers again or offline mode is
// toggled.
func (fs *Filesystem) runPump() {
	defer close(fs.pumpDone)

	rng := rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	failures := 0

	for {
		select {
		case <-fs.pumpStop:
			return
		case <-fs.pumpWake:
		case <-time.After(pumpPollInterval):
		}

		if fs.offlineMode.Load() {
			continue
		}

		pending, err := fs.JournalLength(context.Background())
		if err != nil {
			fs.ls.Error(log_service.LogEvent{
				Message:  "Journal pump cannot read the journal",
				Metadata: map[string]any{"error": err.Error()},
			})
			continue
		}
		if pending == 0 {
			fs.networkDown.Store(false)
			failures = 0
			continue
		}

		err = fs.ReplayJournal(context.Background())
		switch {
		case err == nil:
			fs.networkDown.Store(false)
			failures = 0
			continue

		case errors.Is(err, store.ErrJournalCorruption):
			// Fatal: keep the journal for manual remediation and stop
			// retrying automatically.
			fs.ls.Error(log_service.LogEvent{
				Message:  "Journal replay failed fatally; manual remediation required",
				Metadata: map[string]any{"error": err.Error()},
			})
			return

		default:
			fs.markNetworkDown()
			failures++

			backoff := backoffBase << min(failures, 10)
			if backoff > backoffCap {
				backoff = backoffCap
			}
			delay := time.Duration(rng.Float64() * float64(backoff))

			fs.ls.Debug(log_service.LogEvent{
				Message:  "Journal replay failed, backing off",
				Metadata: map[string]any{"error": err.Error(), "delay": delay.String()},
			})

			select {
			case <-fs.pumpStop:
				return
			case <-time.After(delay):
			}
		}
	}
}
