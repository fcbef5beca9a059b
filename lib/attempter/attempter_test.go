package attempter

import (
	"context"
	"errors"
	"testing"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/Cloud-Foundations/abupdate/lib/bootslot"
	"github.com/Cloud-Foundations/abupdate/lib/pipeline"
	"github.com/Cloud-Foundations/abupdate/lib/policy"
	"github.com/Cloud-Foundations/abupdate/lib/prefs"
	"github.com/Cloud-Foundations/abupdate/proto/update"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeCheck struct {
	plan *update.InstallPlan
	err  error
}

func (f *fakeCheck) CheckForUpdate(ctx context.Context, currentVersion string, interactive bool) (*update.InstallPlan, error) {
	return f.plan, f.err
}

func newStore(t *testing.T) *prefs.Store {
	t.Helper()
	s, err := prefs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	return s
}

func allowAllPolicyContext() *policy.Context {
	ctx := policy.NewContext()
	ctx.NumSlots = 2
	ctx.OOBEComplete = true
	ctx.OfficialBuild = true
	return ctx
}

func TestCheckAndApplyNoUpdateAvailable(t *testing.T) {
	store := newStore(t)
	hal := bootslot.NewFake(0)
	check := &fakeCheck{plan: nil}
	a := New(hal, store, check, func(plan *update.InstallPlan) (*pipeline.Processor, error) {
		t.Fatal("pipeline factory should not be called when no plan is returned")
		return nil, nil
	}, fakeClock{now: time.Now()}, nil)

	if err := a.CheckAndApply(context.Background(), allowAllPolicyContext()); err != nil {
		t.Fatalf("CheckAndApply: %v", err)
	}
	if a.Status().State != Idle {
		t.Errorf("got state %v, want Idle", a.Status().State)
	}
}

func TestCheckAndApplySuccess(t *testing.T) {
	store := newStore(t)
	hal := bootslot.NewFake(0)
	plan := &update.InstallPlan{
		Payloads:   []update.Payload{{TargetVersion: "2.0.0"}},
		TargetSlot: 1,
	}
	check := &fakeCheck{plan: plan}
	built := false
	a := New(hal, store, check, func(p *update.InstallPlan) (*pipeline.Processor, error) {
		built = true
		pl := pipeline.New(nil, 0, nil)
		return pipeline.NewProcessor([]*pipeline.Pipeline{pl}, 0), nil
	}, fakeClock{now: time.Now()}, nil)

	if err := a.CheckAndApply(context.Background(), allowAllPolicyContext()); err != nil {
		t.Fatalf("CheckAndApply: %v", err)
	}
	if !built {
		t.Error("pipeline factory was never called")
	}
	status := a.Status()
	if status.State != UpdatedNeedReboot {
		t.Errorf("got state %v, want UpdatedNeedReboot", status.State)
	}
	slot, _ := hal.CurrentSlot()
	if slot != 1 {
		t.Errorf("got current slot %d, want 1", slot)
	}
}

func TestCheckAndApplyCheckFails(t *testing.T) {
	store := newStore(t)
	hal := bootslot.NewFake(0)
	wantErr := errors.New("network unreachable")
	check := &fakeCheck{err: wantErr}
	a := New(hal, store, check, func(plan *update.InstallPlan) (*pipeline.Processor, error) {
		t.Fatal("pipeline factory should not be called when check fails")
		return nil, nil
	}, fakeClock{now: time.Now()}, nil)

	err := a.CheckAndApply(context.Background(), allowAllPolicyContext())
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	status := a.Status()
	if status.State != ReportingError {
		t.Errorf("got state %v, want ReportingError", status.State)
	}
	if status.ConsecutiveFailures != 1 {
		t.Errorf("got ConsecutiveFailures %d, want 1", status.ConsecutiveFailures)
	}
}

func TestCheckAndApplyDeniedByEnterprisePolicy(t *testing.T) {
	store := newStore(t)
	hal := bootslot.NewFake(0)
	check := &fakeCheck{}
	a := New(hal, store, check, func(plan *update.InstallPlan) (*pipeline.Processor, error) {
		t.Fatal("pipeline factory should not be called when policy denies the check")
		return nil, nil
	}, fakeClock{now: time.Now()}, nil)

	ctx := allowAllPolicyContext()
	ctx.EnterpriseManaged = true
	ctx.Interactive = false

	err := a.CheckAndApply(context.Background(), ctx)
	if !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("got %v, want ErrPolicyDenied", err)
	}
	if a.Status().State != DisabledForEnterprise {
		t.Errorf("got state %v, want DisabledForEnterprise", a.Status().State)
	}
}

func TestCheckAndApplyRejectsConcurrentRun(t *testing.T) {
	store := newStore(t)
	hal := bootslot.NewFake(0)
	block := make(chan struct{})
	check := &fakeCheckBlocking{block: block}
	a := New(hal, store, check, nil, fakeClock{now: time.Now()}, nil)

	done := make(chan error, 1)
	go func() {
		done <- a.CheckAndApply(context.Background(), allowAllPolicyContext())
	}()

	// Wait for the first attempt to enter CheckingForUpdate before firing
	// the second.
	for a.Status().State != CheckingForUpdate {
		time.Sleep(time.Millisecond)
	}
	if err := a.CheckAndApply(context.Background(), allowAllPolicyContext()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("got %v, want ErrAlreadyRunning", err)
	}
	close(block)
	<-done
}

type failingAction struct {
	code update.ErrorCode
}

func (a *failingAction) Name() string { return "failing-action" }

func (a *failingAction) Perform(t *tomb.Tomb) (update.ErrorCode, error) {
	return a.code, errors.New("simulated transport error")
}

func TestCheckAndApplyRetryableFailureRecordsBackoff(t *testing.T) {
	store := newStore(t)
	hal := bootslot.NewFake(0)
	plan := &update.InstallPlan{
		Payloads: []update.Payload{{TargetVersion: "2.0.0"}},
	}
	check := &fakeCheck{plan: plan}
	now := time.Now()
	a := New(hal, store, check, func(p *update.InstallPlan) (*pipeline.Processor, error) {
		pl := pipeline.New([]pipeline.Action{&failingAction{code: update.DownloadTransferError}}, 0, nil)
		return pipeline.NewProcessor([]*pipeline.Pipeline{pl}, 0), nil
	}, fakeClock{now: now}, nil)

	err := a.CheckAndApply(context.Background(), allowAllPolicyContext())
	if err == nil {
		t.Fatal("expected an error from a failing download")
	}

	attempts, ok, err := store.GetInt(prefs.PayloadAttemptNumber)
	if err != nil {
		t.Fatalf("GetInt(PayloadAttemptNumber): %v", err)
	}
	if !ok || attempts != 1 {
		t.Errorf("got PayloadAttemptNumber %d (ok=%v), want 1", attempts, ok)
	}

	expiry, ok, err := store.GetInt(prefs.BackoffExpiry)
	if err != nil {
		t.Fatalf("GetInt(BackoffExpiry): %v", err)
	}
	if !ok || expiry <= now.Unix() {
		t.Errorf("got BackoffExpiry %d (ok=%v), want > %d", expiry, ok, now.Unix())
	}
}

func TestCheckAndApplyFatalFailureDoesNotRecordBackoff(t *testing.T) {
	store := newStore(t)
	hal := bootslot.NewFake(0)
	plan := &update.InstallPlan{
		Payloads: []update.Payload{{TargetVersion: "2.0.0"}},
	}
	check := &fakeCheck{plan: plan}
	a := New(hal, store, check, func(p *update.InstallPlan) (*pipeline.Processor, error) {
		pl := pipeline.New([]pipeline.Action{&failingAction{code: update.PayloadMetadataSignatureError}}, 0, nil)
		return pipeline.NewProcessor([]*pipeline.Pipeline{pl}, 0), nil
	}, fakeClock{now: time.Now()}, nil)

	if err := a.CheckAndApply(context.Background(), allowAllPolicyContext()); err == nil {
		t.Fatal("expected an error from a fatal pipeline failure")
	}

	if _, ok, err := store.GetInt(prefs.BackoffExpiry); err != nil {
		t.Fatalf("GetInt(BackoffExpiry): %v", err)
	} else if ok {
		t.Error("a fatal failure should not record a backoff expiry")
	}
}

func TestCheckAndApplySetActiveFailureIsUpdatedButNotActive(t *testing.T) {
	store := newStore(t)
	hal := bootslot.NewFake(0)
	hal.SetActiveErr = errors.New("simulated slot-switch failure")
	plan := &update.InstallPlan{
		Payloads: []update.Payload{{TargetVersion: "2.0.0"}},
	}
	check := &fakeCheck{plan: plan}
	a := New(hal, store, check, func(p *update.InstallPlan) (*pipeline.Processor, error) {
		pl := pipeline.New(nil, 0, nil)
		return pipeline.NewProcessor([]*pipeline.Pipeline{pl}, 0), nil
	}, fakeClock{now: time.Now()}, nil)

	err := a.CheckAndApply(context.Background(), allowAllPolicyContext())
	if err == nil || !errors.Is(err, hal.SetActiveErr) {
		t.Fatalf("got %v, want wrapped %v", err, hal.SetActiveErr)
	}
	if a.Status().State != ReportingError {
		t.Errorf("got state %v, want ReportingError", a.Status().State)
	}
}

type fakeCheckBlocking struct {
	block chan struct{}
}

func (f *fakeCheckBlocking) CheckForUpdate(ctx context.Context, currentVersion string, interactive bool) (*update.InstallPlan, error) {
	<-f.block
	return nil, nil
}
