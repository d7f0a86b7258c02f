// Package supervisor is the Supervisor Loop (spec §4.G): a
// single-threaded, cooperative, indefinite control loop that refreshes
// the job-definition catalog, ingests queued run requests, advances
// every active run by one state-machine tick, and paces itself by
// poll-cadence compression during inactivity.
package supervisor

import (
	"context"
	"time"

	"github.com/apsviz/workflow-supervisor/pkg/catalog"
	"github.com/apsviz/workflow-supervisor/pkg/config"
	"github.com/apsviz/workflow-supervisor/pkg/log"
	"github.com/apsviz/workflow-supervisor/pkg/metrics"
	"github.com/apsviz/workflow-supervisor/pkg/run"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

var supervisorLog = log.WithComponent("supervisor")

// DBAdapter is the subset of the Database Adapter (spec §4.B) the
// supervisor loop needs directly; ProvenanceWriter (consumed by the
// state machine) is embedded so a single concrete *db.DB satisfies both.
type DBAdapter interface {
	run.ProvenanceWriter
	GetJobDefs(ctx context.Context) ([]byte, error)
	GetNewRuns(ctx context.Context) ([]byte, error)
	GetFirstJob(ctx context.Context, workflowType string) (types.JobType, error)
}

// Supervisor owns every piece of global state the control loop needs:
// the active-run list, the refreshed catalog, the pause sentinel state,
// and the inactivity watchdog timer (spec §9: "Global supervisor state
// ... lives in the Supervisor struct; there is no module-level state").
type Supervisor struct {
	cfg     *config.Config
	db      DBAdapter
	machine *run.Machine

	catalog *catalog.Catalog

	activeRuns map[string]*run.Run
	runOrder   []string // snapshot iteration order (spec §4.G step 4: "snapshot order")

	pause              *pauseWatcher
	wasAnnouncedPaused bool

	noActivityCounter int
	lastRunTime       time.Time
}

// New builds a Supervisor. machine must already be wired with a
// Translator and Inspector (pkg/translator, pkg/inspector); Supervisor
// only owns the catalog refresh and intake/iteration logic around it.
func New(cfg *config.Config, db DBAdapter, machine *run.Machine) (*Supervisor, error) {
	pause, err := newPauseWatcher(cfg.PauseFilePath)
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		cfg:         cfg,
		db:          db,
		machine:     machine,
		activeRuns:  make(map[string]*run.Run),
		pause:       pause,
		lastRunTime: time.Now(),
	}, nil
}

// Close releases the pause-sentinel watcher.
func (s *Supervisor) Close() error {
	return s.pause.Close()
}

// Run executes the control loop indefinitely until ctx is cancelled
// (spec §4.G, §6: "The supervisor loop never exits normally" except on
// fatal initialization error, which happens before Run is called).
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			supervisorLog.Info().Msg("supervisor loop stopping: context cancelled")
			return
		default:
		}

		sleep := s.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// Tick runs exactly one iteration of the control loop (spec §4.G steps
// 1-5) and returns the sleep interval to use before the next one.
func (s *Supervisor) Tick(ctx context.Context) time.Duration {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TickDuration)

	s.refreshCatalog(ctx)

	s.announcePauseTransition(s.pause.Paused())

	anyActivity := false
	if !s.pause.Paused() {
		anyActivity = s.intake(ctx) || anyActivity
	}

	anyActivity = s.advanceActiveRuns(ctx) || anyActivity

	metrics.ActiveRunsTotal.Set(float64(len(s.activeRuns)))

	sleep := s.paceAndWatchdog(anyActivity)
	return sleep
}

// refreshCatalog reloads the job-definition catalog at the top of every
// iteration (spec §4.G step 1, §4.C).
func (s *Supervisor) refreshCatalog(ctx context.Context) {
	raw, err := s.db.GetJobDefs(ctx)
	if err != nil {
		supervisorLog.Error().Err(err).Msg("failed to refresh job-definition catalog, keeping previous version")
		return
	}
	cat, err := catalog.Load(raw)
	if err != nil {
		supervisorLog.Error().Err(err).Msg("failed to parse job-definition catalog, keeping previous version")
		return
	}
	s.catalog = cat
	s.machine.Catalog = cat
}

// announcePauseTransition logs once, each time intake transitions in or
// out of paused mode (spec §4.G step 2: "announce once"), and updates
// the paused gauge.
func (s *Supervisor) announcePauseTransition(currentlyPaused bool) {
	metrics.PausedState.Set(boolToFloat(currentlyPaused))
	if currentlyPaused == s.wasAnnouncedPaused {
		return
	}
	if currentlyPaused {
		supervisorLog.Info().Msg("pause sentinel present, suspending DB intake")
	} else {
		supervisorLog.Info().Msg("pause sentinel removed, resuming DB intake")
	}
	s.wasAnnouncedPaused = currentlyPaused
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// intake fetches queued requests and admits or rejects each one (spec
// §4.G step 3). It returns whether any run was accepted this tick.
func (s *Supervisor) intake(ctx context.Context) bool {
	raw, err := s.db.GetNewRuns(ctx)
	if err != nil {
		supervisorLog.Error().Err(err).Msg("failed to fetch queued runs")
		return false
	}

	rawRuns, err := decodeNewRuns(raw)
	if err != nil {
		supervisorLog.Error().Err(err).Msg("failed to decode queued runs")
		return false
	}

	accepted := false
	for _, rr := range rawRuns {
		newRun, provenance, ok := s.admit(ctx, rr)
		if provenance != "" {
			if runID, perr := types.ParseRunID(rr.RunID); perr == nil {
				if werr := s.db.UpdateProvenance(ctx, runID, provenance); werr != nil {
					supervisorLog.Error().Err(werr).Str("run_id", rr.RunID).Msg("failed to write intake provenance")
				}
			}
		}
		if !ok {
			if provenance != "" {
				reason := "validation"
				if provenance == "Duplicate run rejected." {
					reason = "duplicate"
				}
				metrics.RunsRejectedTotal.WithLabelValues(reason).Inc()
			}
			continue
		}

		newRun.AppendProvenance(provenance)
		s.activeRuns[newRun.ID.String()] = newRun
		s.runOrder = append(s.runOrder, newRun.ID.String())
		metrics.RunsAcceptedTotal.Inc()
		accepted = true
	}

	return accepted
}

// advanceActiveRuns iterates the active-run list in snapshot order
// (spec §4.G step 4) and advances each one by one state-machine tick,
// recovering any run whose handler returns an unexpected error. It
// returns whether any run reported activity this tick.
func (s *Supervisor) advanceActiveRuns(ctx context.Context) bool {
	order := append([]string(nil), s.runOrder...)
	anyActivity := false

	for _, id := range order {
		r, ok := s.activeRuns[id]
		if !ok {
			continue
		}

		terminal, activity, err := s.machine.Tick(ctx, r)
		if err != nil {
			s.machine.Recover(ctx, r, err)
		}
		if activity {
			anyActivity = true
			s.lastRunTime = time.Now()
		}

		// A run only leaves the active list once handleComplete has run
		// (Tick returns terminal=true), per spec §3: "destroyed: when the
		// state machine reaches a terminal provenance". A run that just
		// transitioned into RunStatusComplete this tick is drained by
		// next tick's Complete-branch dispatch in Machine.Tick, matching
		// §4.G step 4 ("handle COMPLETE/ERROR terminals first").
		if terminal {
			delete(s.activeRuns, id)
			s.runOrder = removeID(s.runOrder, id)
		}
	}

	return anyActivity
}

func removeID(order []string, id string) []string {
	out := order[:0]
	for _, x := range order {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// paceAndWatchdog implements spec §4.G step 5: tracks the consecutive
// idle-tick counter, chooses the sleep interval, and fires the
// inactivity watchdog alert when SV_INACTIVITY hours have elapsed with
// no activity.
func (s *Supervisor) paceAndWatchdog(activity bool) time.Duration {
	if activity {
		s.noActivityCounter = 0
	} else {
		s.noActivityCounter++
	}

	sleep := s.cfg.PollShortSleep
	if s.noActivityCounter >= s.cfg.MaxNoActivityCount {
		sleep = s.cfg.PollLongSleep

		if s.cfg.SVInactivity > 0 && time.Since(s.lastRunTime) >= s.cfg.SVInactivity {
			supervisorLog.Warn().
				Dur("since_last_activity", time.Since(s.lastRunTime)).
				Msg("inactivity watchdog: no run activity within SV_INACTIVITY window")
			s.lastRunTime = time.Now()
		}
	}

	metrics.PollSleepSeconds.Set(sleep.Seconds())
	return sleep
}

// ActiveRunCount reports the current size of the active-run list, used
// by tests and the metrics gauge.
func (s *Supervisor) ActiveRunCount() int {
	return len(s.activeRuns)
}
