package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/timeline"
)

// ErrClosed is returned by Submit once the engine has stopped.
var ErrClosed = errors.New("session closed")

// DefaultSyncInterval is the periodic remote write interval.
const DefaultSyncInterval = 5 * time.Second

// writeTimeout bounds a single remote write issued from the engine.
const writeTimeout = 15 * time.Second

// CommandKind names a participant → server command.
type CommandKind string

const (
	// CmdAnswer sets the answer of a question in the active module.
	CmdAnswer CommandKind = "answer"
	// CmdHighlight replaces or, with a null payload, removes a highlight set.
	CmdHighlight CommandKind = "highlight"
	// CmdNote sets a free-text note.
	CmdNote CommandKind = "note"
	// CmdPassageEdit stores the participant's edited copy of a passage.
	CmdPassageEdit CommandKind = "passage_edit"
	// CmdFinishModule submits the active module early.
	CmdFinishModule CommandKind = "finish_module"
	// CmdRetryLoad reloads the active module after a failed load.
	CmdRetryLoad CommandKind = "retry_load"
	// CmdRetrySubmit repeats a failed final submit.
	CmdRetrySubmit CommandKind = "retry_submit"
	// CmdProctor carries a browser proctoring signal.
	CmdProctor CommandKind = "proctor"
)

// Command is one participant input.
type Command struct {
	Kind   CommandKind
	Key    string
	Value  string
	Raw    json.RawMessage
	Signal Signal
}

// EngineConfig wires an Engine. Sections must already be in canonical order.
type EngineConfig struct {
	Test         model.MockTest
	Sections     []model.Section
	UserID       uuid.UUID
	Initial      model.Snapshot
	Completed    bool
	Loader       *Loader
	Sync         *Synchronizer
	Finalizer    *Finalizer
	Monitor      *Monitor
	Activity     ActivityLog
	Emitter      Emitter
	Clock        Clock
	Log          zerolog.Logger
	SyncInterval time.Duration
}

// Engine is the per-participant state machine. All session state is owned
// by the goroutine running Run; network results re-enter through inbox and
// are dropped when the phase or section they were issued for has passed.
type Engine struct {
	cfg     EngineConfig
	log     zerolog.Logger
	monitor *Monitor

	snap   model.Snapshot
	state  model.SessionState
	module *model.Module

	completing   bool
	pushing      bool
	finalizing   bool
	submitFailed bool
	finished     bool
	exiting      bool
	trigger      Trigger

	stopped bool
	err     error

	commands chan Command
	inbox    chan func()
	done     chan struct{}
}

// NewEngine creates an Engine. Call Run to start it.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Monitor == nil {
		cfg.Monitor = NewMonitor()
	}
	return &Engine{
		cfg:      cfg,
		log:      cfg.Log,
		monitor:  cfg.Monitor,
		snap:     cfg.Initial.Clone(),
		commands: make(chan Command),
		inbox:    make(chan func()),
		done:     make(chan struct{}),
	}
}

// Submit hands a command to the engine goroutine.
func (e *Engine) Submit(ctx context.Context, cmd Command) error {
	select {
	case e.commands <- cmd:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the session until it finishes, fails fatally, or ctx ends.
// A nil error means the attempt reached its terminal state.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(e.done)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	sync := time.NewTicker(e.cfg.SyncInterval)
	defer sync.Stop()

	e.start(ctx)
	for !e.stopped {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			e.tick(ctx)
		case <-sync.C:
			e.periodicSync(ctx)
		case cmd := <-e.commands:
			e.handle(ctx, cmd)
		case fn := <-e.inbox:
			fn()
		}
	}
	return e.err
}

// TestID returns the test the engine runs.
func (e *Engine) TestID() uuid.UUID { return e.cfg.Test.ID }

// State returns the displayed state. Only safe on the engine goroutine or after Run returns.
func (e *Engine) State() model.SessionState {
	st := e.state
	st.ModuleProgress = e.snap.ModuleProgress.Clone()
	return st
}

func (e *Engine) start(ctx context.Context) {
	if e.cfg.Completed {
		e.finished = true
		e.state.Phase = model.PhaseFinished
		e.emit(EventFinished, FinishedView{})
		e.stop(nil)
		return
	}

	r := e.calculate()
	if r.Phase == model.PhaseFinished {
		e.beginFinalize(ctx, TriggerTimeline)
		return
	}
	e.apply(r)
	if r.Phase == model.PhaseExam {
		e.enterExam(ctx)
	}
	e.emitState()
}

func (e *Engine) calculate() timeline.Result {
	return timeline.Calculate(e.cfg.Clock(), e.cfg.Test.ScheduledAt, e.cfg.Sections, e.snap.ModuleProgress)
}

func (e *Engine) apply(r timeline.Result) {
	e.state.Phase = r.Phase
	e.state.ActiveIndex = r.ActiveIndex
	e.state.TimeLeft = r.Seconds()
	e.snap.TimeLeft = e.state.TimeLeft
	e.snap.ActiveSection = r.ActiveIndex
}

func (e *Engine) tick(ctx context.Context) {
	if e.closed() {
		return
	}

	now := e.cfg.Clock()
	if e.monitor.WarningExpired(now) {
		e.emit(EventWarningCleared, nil)
	}

	r := e.calculate()
	if r.Phase == model.PhaseFinished {
		// The displayed phase only changes once the final write lands.
		e.beginFinalize(ctx, TriggerTimeline)
		return
	}

	prevPhase, prevIndex := e.state.Phase, e.state.ActiveIndex
	e.apply(r)
	if r.Phase == model.PhaseExam && (prevPhase != model.PhaseExam || prevIndex != r.ActiveIndex) {
		e.enterExam(ctx)
	}
	if r.Phase != prevPhase || r.ActiveIndex != prevIndex {
		e.log.Info().
			Str("from", string(prevPhase)).
			Str("to", string(r.Phase)).
			Int("active_index", r.ActiveIndex).
			Msg("Phase changed")
	}
	e.emitState()
}

func (e *Engine) enterExam(ctx context.Context) {
	if e.monitor.Enable() {
		e.emit(EventStrict, map[string]any{"blocked_shortcuts": BlockedShortcuts()})
	}
	e.emit(EventFullscreen, map[string]bool{"enabled": true})

	e.module = nil
	sec := e.cfg.Sections[e.state.ActiveIndex]
	e.record(ctx, model.ActivityModuleStarted, map[string]any{"section": sec.Type})
	e.load(ctx)
}

// load fetches the active module. Overlapping loads for the same section
// are harmless: whichever response arrives last is shown.
func (e *Engine) load(ctx context.Context) {
	index := e.state.ActiveIndex
	sec := e.cfg.Sections[index]

	go func() {
		m, err := e.cfg.Loader.Load(ctx, sec.ID)
		e.post(func() {
			if e.state.Phase != model.PhaseExam || e.state.ActiveIndex != index {
				e.log.Debug().Int("section_index", index).Msg("Discarding stale module load")
				return
			}
			if err != nil {
				e.log.Warn().Err(err).Str("section", string(sec.Type)).Msg("Module load failed")
				e.emit(EventModuleFailed, Notice{
					Scope:     "module",
					Message:   "The module could not be loaded. Please retry.",
					Retryable: true,
				})
				return
			}
			e.module = m
			e.emit(EventModule, newModuleView(index, sec.Type, m))
		})
	}()
}

func (e *Engine) handle(ctx context.Context, cmd Command) {
	if e.finished {
		return
	}

	switch cmd.Kind {
	case CmdAnswer:
		if !e.acceptsAnswer(cmd.Key) {
			e.emit(EventError, Notice{Scope: "answer", Message: "Answers are closed for this module."})
			return
		}
		e.snap.Answers[cmd.Key] = cmd.Value
		e.cfg.Sync.Mirror(ctx, e.snap.Clone())

	case CmdHighlight, CmdNote, CmdPassageEdit:
		// The finalizer clears the mirror; a late edit must not write it back.
		if e.closed() {
			e.emit(EventError, Notice{Scope: string(cmd.Kind), Message: "The test is being submitted."})
			return
		}
		e.edit(ctx, cmd)

	case CmdFinishModule:
		e.finishModule(ctx)

	case CmdRetryLoad:
		if e.state.Phase == model.PhaseExam && !e.closed() {
			e.load(ctx)
		}

	case CmdRetrySubmit:
		if e.submitFailed {
			e.submitFailed = false
			e.beginFinalize(ctx, e.trigger)
		}

	case CmdProctor:
		if !e.closed() {
			e.proctor(ctx, cmd.Signal)
		}

	default:
		e.log.Warn().Str("kind", string(cmd.Kind)).Msg("Unknown command")
	}
}

// closed reports whether the attempt has stopped accepting participant input.
func (e *Engine) closed() bool {
	return e.finalizing || e.finished || e.submitFailed || e.exiting
}

func (e *Engine) edit(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdHighlight:
		if len(cmd.Raw) == 0 || string(cmd.Raw) == "null" {
			delete(e.snap.Highlights, cmd.Key)
		} else {
			e.snap.Highlights[cmd.Key] = append(json.RawMessage(nil), cmd.Raw...)
		}

	case CmdNote:
		e.snap.Notes[cmd.Key] = cmd.Value

	case CmdPassageEdit:
		e.snap.PassageEdits[cmd.Key] = cmd.Value
	}
	e.cfg.Sync.Mirror(ctx, e.snap.Clone())
}

// acceptsAnswer reports whether the active, loaded, unsubmitted module owns questionID.
func (e *Engine) acceptsAnswer(questionID string) bool {
	if e.state.Phase != model.PhaseExam || e.completing || e.closed() || e.module == nil {
		return false
	}
	for _, q := range e.module.Questions {
		if q.ID.String() == questionID {
			return true
		}
	}
	return false
}

// finishModule persists the submitted module before the overlay phase is shown.
func (e *Engine) finishModule(ctx context.Context) {
	if e.state.Phase != model.PhaseExam || e.completing || e.closed() {
		return
	}
	index := e.state.ActiveIndex
	sec := e.cfg.Sections[index]

	next := e.snap.Clone()
	next.ModuleProgress[sec.Type] = true
	var questions []model.Question
	if e.module != nil {
		questions = e.module.Questions
	}

	e.completing = true
	e.emit(EventSubmitting, Notice{Scope: "module", Message: "Saving your answers..."})

	go func() {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		err := e.cfg.Sync.CompleteModule(wctx, next, sec, questions)
		e.post(func() {
			e.completing = false
			if err != nil {
				if e.fatal(err) {
					return
				}
				e.log.Warn().Err(err).Str("section", string(sec.Type)).Msg("Module submit failed")
				e.emit(EventSubmitFailed, Notice{
					Scope:     "module",
					Message:   "Your module could not be submitted. Please retry.",
					Retryable: true,
				})
				return
			}
			if e.finished || e.finalizing || e.exiting {
				return
			}

			e.snap.ModuleProgress[sec.Type] = true
			e.cfg.Sync.Mirror(ctx, e.snap.Clone())
			e.record(ctx, model.ActivityModuleSubmitted, map[string]any{"section": sec.Type})

			if index == len(e.cfg.Sections)-1 {
				e.beginFinalize(ctx, TriggerManual)
				return
			}
			e.tick(ctx)
		})
	}()
}

func (e *Engine) periodicSync(ctx context.Context) {
	if e.state.Phase != model.PhaseExam || e.pushing || e.completing || e.closed() {
		return
	}
	e.pushing = true
	snap := e.snap.Clone()

	go func() {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		err := e.cfg.Sync.Push(wctx, snap)
		e.post(func() {
			e.pushing = false
			if err != nil {
				e.fatal(err)
			}
		})
	}()
}

func (e *Engine) beginFinalize(ctx context.Context, trigger Trigger) {
	if e.finalizing || e.finished {
		return
	}
	e.finalizing = true
	e.trigger = trigger
	e.emit(EventSubmitting, Notice{Scope: "final", Message: "Submitting your test..."})

	snap := e.snap.Clone()
	stats := e.monitor.Stats()
	go func() {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		final, err := e.cfg.Finalizer.Finalize(wctx, snap, trigger, stats)
		e.post(func() {
			e.finalizing = false
			if err != nil {
				if e.fatal(err) {
					return
				}
				e.submitFailed = true
				e.log.Error().Err(err).Str("trigger", string(trigger)).Msg("Final submit failed")
				e.emit(EventSubmitFailed, Notice{
					Scope:     "final",
					Message:   "Your test could not be submitted. Please retry.",
					Retryable: true,
				})
				return
			}

			e.finished = true
			e.state.Phase = model.PhaseFinished
			e.state.TimeLeft = 0
			if trigger == TriggerForcedExit {
				e.stop(ErrProctoringViolation)
				return
			}
			e.emit(EventFullscreen, map[string]bool{"enabled": false})
			completedAt := final.CompletedAt
			e.emit(EventFinished, FinishedView{
				Scores:      PresentScores(final.Scores),
				CompletedAt: &completedAt,
			})
			e.stop(nil)
		})
	}()
}

func (e *Engine) proctor(ctx context.Context, sig Signal) {
	now := e.cfg.Clock()
	v := e.monitor.Observe(now, sig)

	if v.Activity != "" {
		e.record(ctx, v.Activity, v.Detail)
	}

	if v.ForceExit {
		e.log.Warn().Int("violations", e.monitor.Violations()).Msg("Forcing session exit")
		e.record(ctx, model.ActivityForcedExit, map[string]any{"violations": e.monitor.Violations()})

		e.emit(EventForcedExit, Notice{Message: v.Warning})
		e.emit(EventFullscreen, map[string]bool{"enabled": false})
		// The attempt is closed with what was answered so far; the engine
		// stops once that write lands.
		e.beginFinalize(ctx, TriggerForcedExit)
		e.exiting = true
		return
	}

	if v.Warning != "" {
		e.emit(EventWarning, Notice{
			Scope:     "proctoring",
			Message:   v.Warning,
			ClearInMS: WarningTTL.Milliseconds(),
		})
	}
}

// fatal stops the session on an expired identity and reports whether it did.
func (e *Engine) fatal(err error) bool {
	if !errors.Is(err, ErrAuthExpired) {
		return false
	}
	e.log.Warn().Msg("Identity lost, closing session")
	e.emit(EventAuthExpired, Notice{Message: "Your session has expired. Please sign in again."})
	e.stop(ErrAuthExpired)
	return true
}

func (e *Engine) stop(err error) {
	e.stopped = true
	e.err = err
}

// post runs fn on the engine goroutine, or drops it once the engine stopped.
func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.done:
	}
}

func (e *Engine) record(ctx context.Context, kind model.ActivityKind, detail map[string]any) {
	ev := model.ActivityEvent{
		UserID:    e.cfg.UserID.String(),
		TestID:    e.cfg.Test.ID.String(),
		Kind:      kind,
		Timestamp: e.cfg.Clock().Unix(),
	}
	if detail != nil {
		ev.Detail, _ = json.Marshal(detail)
	}
	if err := e.cfg.Activity.RecordActivity(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("kind", string(kind)).Msg("Record activity failed")
	}
}

func (e *Engine) emitState() {
	var secType model.SectionType
	if e.state.ActiveIndex >= 0 && e.state.ActiveIndex < len(e.cfg.Sections) {
		secType = e.cfg.Sections[e.state.ActiveIndex].Type
	}
	e.emit(EventState, StateView{
		Phase:          e.state.Phase,
		ActiveIndex:    e.state.ActiveIndex,
		SectionType:    secType,
		TimeLeft:       e.state.TimeLeft,
		ModuleProgress: e.snap.ModuleProgress.Clone(),
		Strict:         e.monitor.Strict(),
	})
}

func (e *Engine) emit(t EventType, data any) {
	if err := e.cfg.Emitter.Emit(Event{Type: t, Data: data}); err != nil {
		e.log.Debug().Err(err).Str("event", string(t)).Msg("Emit failed")
	}
}
