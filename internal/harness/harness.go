package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/setkeep/internal/conflict"
	"github.com/roach88/setkeep/internal/engine"
	"github.com/roach88/setkeep/internal/events"
	"github.com/roach88/setkeep/internal/ids"
	"github.com/roach88/setkeep/internal/ir"
	"github.com/roach88/setkeep/internal/library"
	"github.com/roach88/setkeep/internal/quota"
	"github.com/roach88/setkeep/internal/store"
	"github.com/roach88/setkeep/internal/testutil"
)

// Outcome cases.
const (
	CaseOK                = "ok"
	CaseQuotaExceeded     = "quota_exceeded"
	CaseNotFound          = "not_found"
	CaseInvalid           = "invalid"
	CaseNoPendingConflict = "no_pending_conflict"
	CaseError             = "error"
)

// WriterID is the writer name the scenario engine stamps on saves.
const WriterID = "harness"

// Harness drives one engine through a scenario.
type Harness struct {
	eng     *engine.Engine
	remote  *remote
	storage *storage
	clock   *testutil.FakeClock
	events  *testutil.Recorder
	seen    int
	logger  *slog.Logger
}

// stepError is a malformed step rather than an engine outcome.
type stepError struct {
	step string
	msg  string
}

func (e *stepError) Error() string {
	return e.step + ": " + e.msg
}

func badStep(step, format string, args ...any) error {
	return &stepError{step: step, msg: fmt.Sprintf(format, args...)}
}

// Run executes a scenario against a fresh engine in a temporary directory.
//
// Setup steps must succeed. Flow steps are compared with their expect
// clauses, then the assertions are evaluated against the trace and the
// final store. A malformed step aborts the run with an error; failed
// expectations are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := scenario.EngineConfig()
	if err != nil {
		return nil, fmt.Errorf("scenario config: %w", err)
	}
	dir, err := os.MkdirTemp("", "setkeep-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)
	cfg.DataDir = dir
	cfg.WriterID = WriterID

	h := &Harness{
		remote:  newRemote(),
		storage: &storage{},
		clock:   testutil.NewFakeClock(time.Time{}),
		events:  &testutil.Recorder{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	eng, err := engine.Open(ctx, cfg,
		engine.WithSink(h.events),
		engine.WithClock(h.clock),
		engine.WithIDs(ids.NewSequence("id")),
		engine.WithEstimator(h.storage),
		engine.WithLogger(h.logger))
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()
	h.eng = eng
	h.storage.attach(eng.Store())

	result := NewResult()
	for i, step := range scenario.Setup {
		if _, err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Do, err)
		}
	}

	for i, step := range scenario.Flow {
		res, err := h.execute(ctx, step, result)
		var se *stepError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		h.check(i, step, classify(err), res, err, result)
	}

	actx := &AssertionContext{Engine: eng, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step, tracing it and the events it caused.
func (h *Harness) execute(ctx context.Context, step Step, result *Result) (ir.IRObject, error) {
	args, err := argsObject(step.Args)
	if err != nil {
		return nil, badStep(step.Do, "%v", err)
	}

	res, err := h.dispatch(ctx, step)
	var se *stepError
	if errors.As(err, &se) {
		return nil, err
	}
	result.AddStepTrace(step.Do, args, classify(err), res)
	for _, e := range h.newEvents() {
		result.AddEventTrace(e.Kind.String(), eventArgs(e))
	}
	return res, err
}

func (h *Harness) check(i int, step Step, got string, res ir.IRObject, err error, result *Result) {
	want := CaseOK
	var wantResult map[string]any
	if step.Expect != nil {
		if step.Expect.Case != "" {
			want = step.Expect.Case
		}
		wantResult = step.Expect.Result
	}

	if got != want {
		msg := fmt.Sprintf("flow[%d] %s: expected case %q, got %q", i, step.Do, want, got)
		if err != nil {
			msg += fmt.Sprintf(" (%v)", err)
		}
		result.AddError(msg)
		return
	}
	if len(wantResult) == 0 {
		return
	}
	expected, convErr := argsObject(wantResult)
	if convErr != nil {
		result.AddError(fmt.Sprintf("flow[%d] %s: expect.result: %v", i, step.Do, convErr))
		return
	}
	if !subsetEqual(res, expected) {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected result %s, got %s",
			i, step.Do, describe(expected), describe(res)))
	}
}

func (h *Harness) newEvents() []events.Event {
	all := h.events.Events()
	fresh := all[h.seen:]
	h.seen = len(all)
	return fresh
}

func (h *Harness) dispatch(ctx context.Context, step Step) (ir.IRObject, error) {
	a := stepArgs{step: step.Do, args: step.Args}
	repo := h.eng.Repository()

	switch step.Do {
	case StepSave:
		rec, err := a.record()
		if err != nil {
			return nil, err
		}
		saved, err := repo.Save(ctx, rec)
		if err != nil {
			return errorResult(err), err
		}
		return saveResult(saved), nil

	case StepUpdate:
		c, id, err := a.key()
		if err != nil {
			return nil, err
		}
		rec, err := repo.Get(ctx, c, id)
		if err != nil {
			return errorResult(err), err
		}
		fields, err := a.object("fields")
		if err != nil {
			return nil, err
		}
		rec.Fields = mergeFields(rec.Fields, fields)
		if v, ok, err := a.optBool("is_favorite"); err != nil {
			return nil, err
		} else if ok {
			rec.IsFavorite = v
		}
		if v, ok, err := a.optBool("is_pinned"); err != nil {
			return nil, err
		} else if ok {
			rec.IsPinned = v
		}
		saved, err := repo.Save(ctx, rec)
		if err != nil {
			return errorResult(err), err
		}
		return saveResult(saved), nil

	case StepDelete:
		c, id, err := a.key()
		if err != nil {
			return nil, err
		}
		deleted, err := repo.Delete(ctx, c, id)
		if err != nil {
			return errorResult(err), err
		}
		return ir.IRObject{"deleted": ir.IRBool(deleted)}, nil

	case StepGet:
		c, id, err := a.key()
		if err != nil {
			return nil, err
		}
		rec, err := repo.Get(ctx, c, id)
		if err != nil {
			return errorResult(err), err
		}
		return recordView(rec), nil

	case StepSeed:
		return h.seed(ctx, a)

	case StepRemote:
		reply, err := a.str("reply")
		if err != nil {
			return nil, err
		}
		if reply != "ok" && reply != "fail" {
			return nil, badStep(step.Do, "reply must be ok or fail, got %q", reply)
		}
		message, _, err := a.optStr("message")
		if err != nil {
			return nil, err
		}
		h.remote.reply(reply == "fail", message)
		return nil, nil

	case StepConflict:
		return h.scriptConflict(ctx, a)

	case StepSync:
		h.eng.SetTransport(h.remote)
		res, err := h.eng.Sync(ctx)
		h.eng.SetTransport(nil)
		if err != nil {
			return nil, err
		}
		out := ir.IRObject{
			"processed":     ir.IRInt(res.Processed),
			"succeeded":     ir.IRInt(res.Succeeded),
			"conflicts":     ir.IRInt(res.Conflicts),
			"retried":       ir.IRInt(res.Retried),
			"dead_lettered": ir.IRInt(res.DeadLettered),
			"remaining":     ir.IRInt(res.Remaining),
		}
		if res.Skipped {
			out["skipped"] = ir.IRBool(true)
		}
		return out, nil

	case StepRetry:
		n, err := h.eng.RetryFailed(ctx)
		if err != nil {
			return nil, err
		}
		return ir.IRObject{"requeued": ir.IRInt(n)}, nil

	case StepStorage:
		off, _, err := a.optBool("unsupported")
		if err != nil {
			return nil, err
		}
		if off {
			h.storage.set(false, 0, 0, 0)
			return nil, nil
		}
		capacity, err := a.integer("capacity")
		if err != nil {
			return nil, err
		}
		usage, _, err := a.optInteger("usage")
		if err != nil {
			return nil, err
		}
		per, _, err := a.optInteger("per_record")
		if err != nil {
			return nil, err
		}
		h.storage.set(true, usage, per, capacity)
		return nil, nil

	case StepAdvance:
		d, err := a.duration("by")
		if err != nil {
			return nil, err
		}
		h.clock.Advance(d)
		return nil, nil

	case StepCleanup:
		return h.cleanup(ctx, a)

	case StepConflicts:
		ps, err := h.eng.PendingConflicts(ctx)
		if err != nil {
			return nil, err
		}
		return ir.IRObject{"pending": ir.IRInt(len(ps))}, nil

	case StepResolve:
		c, id, err := a.key()
		if err != nil {
			return nil, err
		}
		keep, err := a.str("keep")
		if err != nil {
			return nil, err
		}
		w := conflict.Winner(keep)
		if w != conflict.WinnerLocal && w != conflict.WinnerRemote {
			return nil, badStep(step.Do, "keep must be local or remote, got %q", keep)
		}
		rec, err := h.eng.ResolvePending(ctx, c, id, w)
		if err != nil {
			return errorResult(err), err
		}
		return recordView(rec), nil
	}
	return nil, badStep(step.Do, "unknown step")
}

func (h *Harness) seed(ctx context.Context, a stepArgs) (ir.IRObject, error) {
	c, err := a.collection()
	if err != nil {
		return nil, err
	}
	count, err := a.integer("count")
	if err != nil {
		return nil, err
	}
	fields, err := a.object("fields")
	if err != nil {
		return nil, err
	}
	gap, _, err := a.optDuration("advance")
	if err != nil {
		return nil, err
	}
	fav, _, err := a.optBool("is_favorite")
	if err != nil {
		return nil, err
	}
	pinned, _, err := a.optBool("is_pinned")
	if err != nil {
		return nil, err
	}

	for i := range count {
		rec := ir.Record{Collection: c, Fields: fields.Clone(), IsFavorite: fav, IsPinned: pinned}
		if _, err := h.eng.Repository().Save(ctx, rec); err != nil {
			return ir.IRObject{"saved": ir.IRInt(i)}, err
		}
		h.clock.Advance(gap)
	}
	return ir.IRObject{"saved": ir.IRInt(count)}, nil
}

// scriptConflict makes the remote reject the entity's next send with a
// copy of the local record carrying the given overrides.
func (h *Harness) scriptConflict(ctx context.Context, a stepArgs) (ir.IRObject, error) {
	c, id, err := a.key()
	if err != nil {
		return nil, err
	}
	local, err := h.eng.Repository().Get(ctx, c, id)
	if err != nil {
		return nil, badStep(a.step, "no local record %s/%s to conflict with: %v", c, id, err)
	}
	fields, err := a.object("fields")
	if err != nil {
		return nil, err
	}
	later, _, err := a.optDuration("updated_after")
	if err != nil {
		return nil, err
	}
	version, hasVersion, err := a.optInteger("version")
	if err != nil {
		return nil, err
	}
	by, hasBy, err := a.optStr("modified_by")
	if err != nil {
		return nil, err
	}

	rec := local.Clone()
	rec.Fields = mergeFields(rec.Fields, fields)
	rec.UpdatedAt = local.UpdatedAt.Add(later)
	rec.SyncStatus = ir.SyncSynced
	rec.ModifiedBy = "remote"
	if hasBy {
		rec.ModifiedBy = by
	}
	if hasVersion {
		rec.Version = version
	}
	h.remote.conflict(rec)
	return nil, nil
}

func (h *Harness) cleanup(ctx context.Context, a stepArgs) (ir.IRObject, error) {
	level, ok, err := a.optStr("level")
	if err != nil {
		return nil, err
	}
	if !ok {
		level = "auto"
	}

	cleaner := h.eng.Cleaner()
	var status string
	var res cleanupResult
	switch level {
	case "auto":
		r, snap, err := h.eng.RunCleanup(ctx)
		if err != nil {
			return nil, err
		}
		res, status = cleanupResult(r), snap.Status.String()
	case "warning", "critical":
		s := quota.Warning
		if level == "critical" {
			s = quota.Critical
		}
		r, err := cleaner.Run(ctx, s)
		if err != nil {
			return nil, err
		}
		res = cleanupResult(r)
	case "emergency":
		r, err := cleaner.EmergencyCleanup(ctx)
		if err != nil {
			return nil, err
		}
		res = cleanupResult(r)
	case "repair":
		r, err := cleaner.RepairOrphans(ctx)
		if err != nil {
			return nil, err
		}
		res = cleanupResult(r)
	default:
		return nil, badStep(a.step, "unknown level %q", level)
	}

	out := res.view()
	if status != "" {
		out["status"] = ir.IRString(status)
	}
	return out, nil
}

// classify maps an engine error to its outcome case.
func classify(err error) string {
	var qe *quota.QuotaExceededError
	switch {
	case err == nil:
		return CaseOK
	case errors.As(err, &qe):
		return CaseQuotaExceeded
	case errors.Is(err, store.ErrNotFound):
		return CaseNotFound
	case library.IsInvalidFields(err):
		return CaseInvalid
	case engine.IsNoPendingConflict(err):
		return CaseNoPendingConflict
	}
	return CaseError
}

func errorResult(err error) ir.IRObject {
	var qe *quota.QuotaExceededError
	if errors.As(err, &qe) {
		return ir.IRObject{"required": ir.IRInt(qe.Required)}
	}
	return nil
}

func saveResult(rec ir.Record) ir.IRObject {
	return ir.IRObject{
		"id":          ir.IRString(rec.ID),
		"version":     ir.IRInt(rec.Version),
		"sync_status": ir.IRString(rec.SyncStatus),
	}
}

// recordView is the part of a record scenarios can match on: no
// timestamps.
func recordView(rec ir.Record) ir.IRObject {
	fields := rec.Fields
	if fields == nil {
		fields = ir.IRObject{}
	}
	return ir.IRObject{
		"exists":      ir.IRBool(true),
		"id":          ir.IRString(rec.ID),
		"version":     ir.IRInt(rec.Version),
		"sync_status": ir.IRString(rec.SyncStatus),
		"is_favorite": ir.IRBool(rec.IsFavorite),
		"is_pinned":   ir.IRBool(rec.IsPinned),
		"modified_by": ir.IRString(rec.ModifiedBy),
		"fields":      fields,
	}
}

func eventArgs(e events.Event) ir.IRObject {
	switch e.Kind {
	case events.StorageWarning, events.StorageCritical:
		return ir.IRObject{
			"usage":      ir.IRInt(e.Usage),
			"capacity":   ir.IRInt(e.Capacity),
			"percentage": ir.IRFloat(e.Percentage),
		}
	case events.SyncConflict:
		return ir.IRObject{
			"collection": ir.IRString(e.Collection),
			"entity_id":  ir.IRString(e.EntityID),
			"strategy":   ir.IRString(e.Strategy),
		}
	case events.ItemDeadLettered:
		return ir.IRObject{
			"collection": ir.IRString(e.Collection),
			"entity_id":  ir.IRString(e.EntityID),
		}
	case events.DBBlocked, events.DBBlocking:
		return ir.IRObject{
			"old_version": ir.IRInt(e.OldVersion),
			"new_version": ir.IRInt(e.NewVersion),
		}
	}
	return nil
}
