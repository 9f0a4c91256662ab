package app

import (
	"context"
	"testing"
	"time"

	"interviewprep/pkg/domain"
	"interviewprep/pkg/ledger"
)

func TestReapStaleJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.SetBalance("u1", dec("10"))
	env.store.SetBalance("u2", dec("10"))
	iv1 := env.seedInterview(t, "u1")
	iv2 := env.seedInterview(t, "u2")

	stuck, err := env.app.Dispatch(ctx, "u1", DispatchRequest{InterviewID: iv1.ID, Type: domain.JobQuestionsGenerated})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	undelivered, err := env.app.Dispatch(ctx, "u2", DispatchRequest{InterviewID: iv2.ID, Type: domain.JobQuestionsGenerated})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	// u1's job was claimed and charged, then the worker died
	env.store.ClaimJob(ctx, stuck.JobID, env.app.now())
	if ok, err := env.app.ledger.Spend(ctx, "u1", dec("3"), ledger.Entry{Key: ledger.SpendKey(stuck.JobID), JobID: stuck.JobID}); err != nil || !ok {
		t.Fatalf("spend: ok=%v err=%v", ok, err)
	}

	res, err := env.app.ReapStaleJobs(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if res.Failed != 0 {
		t.Fatalf("fresh jobs must not be reaped, got %+v", res)
	}

	env.app.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	res, err = env.app.ReapStaleJobs(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if res.Failed != 2 || res.Refunded != 1 {
		t.Fatalf("result = %+v, want 2 failed and 1 refunded", res)
	}
	if job := env.job(t, stuck.JobID); job.Status != domain.JobFailed || job.ErrorMessage != "job timed out" {
		t.Fatalf("unexpected stuck job: %+v", job)
	}
	if job := env.job(t, undelivered.JobID); job.Status != domain.JobFailed {
		t.Fatalf("unexpected undelivered job: %+v", job)
	}
	assertBalance(t, env, "u1", "10")
	assertBalance(t, env, "u2", "10")

	// a late delivery after the sweep changes nothing
	if res := env.deliver(t, stuck.JobID); res.Status != string(domain.JobFailed) {
		t.Fatalf("late delivery status = %s", res.Status)
	}
	assertBalance(t, env, "u1", "10")
}
