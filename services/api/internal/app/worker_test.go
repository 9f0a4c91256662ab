package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"interviewprep/pkg/ai"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/notify"
	"interviewprep/pkg/storage"
	"interviewprep/pkg/store"
)

func TestQuestionSetHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	env.gen.responses = []string{"```json\n" + questionSetJSON(t, questionGrid(10)) + "\n```"}

	dispatched, err := env.app.Dispatch(ctx, "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if dispatched.JobID == "" || dispatched.CreatedAt.IsZero() {
		t.Fatalf("unexpected dispatch result: %+v", dispatched)
	}
	if len(env.queue.deliveries) != 1 || env.queue.deliveries[0].JobID != dispatched.JobID {
		t.Fatalf("expected one enqueued delivery, got %+v", env.queue.deliveries)
	}
	if job := env.job(t, dispatched.JobID); job.Status != domain.JobQueued || !job.Cost.Equal(dec("3")) {
		t.Fatalf("unexpected queued job: %+v", job)
	}

	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobCompleted) || res.QAVersionID == "" {
		t.Fatalf("unexpected worker result: %+v", res)
	}
	assertBalance(t, env, "u1", "7")

	job := env.job(t, dispatched.JobID)
	if job.Status != domain.JobCompleted || job.Result == nil || job.Result.QAVersionID != res.QAVersionID {
		t.Fatalf("unexpected completed job: %+v", job)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("expected timestamps on completed job")
	}
	v, ok, _ := env.store.GetQAVersion(ctx, res.QAVersionID)
	if !ok || !v.IsDefault {
		t.Fatalf("expected new default version, got ok=%v %+v", ok, v)
	}
	if len(v.TargetItems.Questions) != 30 || len(v.TargetItems.Answers) != 0 {
		t.Fatalf("target items = %d questions, %d answers", len(v.TargetItems.Questions), len(v.TargetItems.Answers))
	}
	for _, ref := range domain.AllSlots() {
		if v.Answer(ref) != "" {
			t.Fatalf("fresh question set must start with empty answers, %s[%d]=%q", ref.Category, ref.Index, v.Answer(ref))
		}
	}
	if len(env.notifier.events) != 1 || env.notifier.events[0].Type != notify.EventJobCompleted {
		t.Fatalf("unexpected events: %+v", env.notifier.events)
	}
	if _, ok := env.objects.Get(storage.RawOutputKey("u1", iv.ID, job.ID)); !ok {
		t.Fatalf("expected raw output to be archived")
	}
}

func TestInvalidModelOutputRestoresBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	grid := questionGrid(10)
	grid[domain.CategoryGeneralPersonality] = grid[domain.CategoryGeneralPersonality][:9]
	env.gen.responses = []string{questionSetJSON(t, grid)}

	dispatched, err := env.app.Dispatch(ctx, "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobFailed) {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	assertBalance(t, env, "u1", "10")
	job := env.job(t, dispatched.JobID)
	if job.Status != domain.JobFailed || !strings.Contains(job.ErrorMessage, "9 items") {
		t.Fatalf("unexpected failed job: %+v", job)
	}
	versions, _ := env.store.ListQAVersions(ctx, iv.ID)
	if len(versions) != 0 {
		t.Fatalf("expected no versions, got %d", len(versions))
	}
	txs, _ := env.store.ListTransactions(ctx, store.TransactionFilter{UserID: "u1"})
	var kinds []domain.TransactionKind
	for _, tx := range txs {
		kinds = append(kinds, tx.Kind)
	}
	if len(txs) != 2 {
		t.Fatalf("expected spend and refund rows, got %v", kinds)
	}
}

func TestEmptyItemFailsValidation(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	grid := questionGrid(10)
	grid[domain.CategoryJobCompetency][4] = "  "
	env.gen.responses = []string{questionSetJSON(t, grid)}

	dispatched, err := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res := env.deliver(t, dispatched.JobID); res.Status != string(domain.JobFailed) {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	assertBalance(t, env, "u1", "10")
}

func TestGenerationErrorRefunds(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	env.gen.err = &ai.ProviderError{Provider: "gemini", StatusCode: 400, Message: "bad request"}

	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobFailed) || !strings.Contains(res.Error, "generation failed") {
		t.Fatalf("unexpected result: %+v", res)
	}
	assertBalance(t, env, "u1", "10")
	if len(env.notifier.events) != 1 || env.notifier.events[0].Type != notify.EventJobFailed {
		t.Fatalf("expected failed event, got %+v", env.notifier.events)
	}
}

func TestWorkerPanicIsRefunded(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	env.gen.panicMsg = "boom"

	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobFailed) {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	assertBalance(t, env, "u1", "10")
}

func TestNotifyFailureDoesNotFailJob(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	env.notifier.err = errors.New("broker down")
	env.gen.responses = []string{questionSetJSON(t, questionGrid(10))}

	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	if res := env.deliver(t, dispatched.JobID); res.Status != string(domain.JobCompleted) {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	assertBalance(t, env, "u1", "7")
}

func TestNotifierPanicAfterCompletionKeepsCharge(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	env.notifier.panicOn = notify.EventJobCompleted
	env.gen.responses = []string{questionSetJSON(t, questionGrid(10))}

	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobCompleted) || res.QAVersionID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if job := env.job(t, dispatched.JobID); job.Status != domain.JobCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}
	assertBalance(t, env, "u1", "7")
}

// spendThenFailStore commits the debit and then reports an error, like a
// connection dropped during commit.
type spendThenFailStore struct {
	*store.MemoryStore
}

func (s spendThenFailStore) SpendTokens(ctx context.Context, entry domain.TokenTransaction) (domain.TokenTransaction, error) {
	if _, err := s.MemoryStore.SpendTokens(ctx, entry); err != nil {
		return domain.TokenTransaction{}, err
	}
	return domain.TokenTransaction{}, errors.New("conn reset after commit")
}

func TestSpendErrorAfterCommitRefunds(t *testing.T) {
	env := newTestEnvWithStore(t, func(m *store.MemoryStore) store.Store { return spendThenFailStore{m} })
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")

	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobFailed) || res.Error != "token spend failed" {
		t.Fatalf("unexpected result: %+v", res)
	}
	assertBalance(t, env, "u1", "10")
	if env.gen.calls() != 0 {
		t.Fatalf("model must not be called when the spend errored")
	}

	// a second failure path must not refund again
	env.app.fail(context.Background(), env.job(t, dispatched.JobID), true, "late failure")
	assertBalance(t, env, "u1", "10")
}

func TestBalanceDroppedBeforeDeliveryFailsWithoutCharge(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	env.store.SetBalance("u1", dec("1"))

	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobFailed) || !strings.Contains(res.Error, "insufficient tokens") {
		t.Fatalf("unexpected result: %+v", res)
	}
	assertBalance(t, env, "u1", "1")
	if env.gen.calls() != 0 {
		t.Fatalf("model must not be called without a debit")
	}
}

func TestRedeliveryOfTerminalJobIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	env.gen.responses = []string{questionSetJSON(t, questionGrid(10))}
	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})

	first := env.deliver(t, dispatched.JobID)
	second := env.deliver(t, dispatched.JobID)
	if second.Status != string(domain.JobCompleted) || second.QAVersionID != first.QAVersionID {
		t.Fatalf("replay result = %+v, want %+v", second, first)
	}
	if env.gen.calls() != 1 {
		t.Fatalf("model calls = %d, want 1", env.gen.calls())
	}
	assertBalance(t, env, "u1", "7")
}

func TestDeliveryWhileProcessingIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	if ok, _ := env.store.ClaimJob(context.Background(), dispatched.JobID, env.app.now()); !ok {
		t.Fatalf("claim failed")
	}

	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobProcessing) {
		t.Fatalf("status = %s, want processing", res.Status)
	}
	if env.gen.calls() != 0 {
		t.Fatalf("model must not be called on replay")
	}
}

func TestDeliveryForCancelledJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	dispatched, _ := env.app.Dispatch(ctx, "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	if err := env.app.CancelJob(ctx, "u1", dispatched.JobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	res, err := env.app.HandleDelivery(ctx, Delivery{JobID: dispatched.JobID, UserID: "u1", InterviewID: iv.ID})
	if err != nil {
		t.Fatalf("handle delivery: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Status)
	}
	assertBalance(t, env, "u1", "10")
}

func TestDeliveryPayloadMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})

	_, err := env.app.HandleDelivery(context.Background(), Delivery{JobID: dispatched.JobID, UserID: "intruder"})
	if !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("expected ErrPayloadMismatch, got %v", err)
	}
	if job := env.job(t, dispatched.JobID); job.Status != domain.JobQueued {
		t.Fatalf("mismatched delivery must not touch the job, status=%s", job.Status)
	}
}

func TestInterviewDeletedBeforeDeliveryIsCancelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	dispatched, _ := env.app.Dispatch(ctx, "u1", DispatchRequest{InterviewID: iv.ID, Type: domain.JobQuestionsGenerated})
	if err := env.app.DeleteInterview(ctx, "u1", iv.ID); err != nil {
		t.Fatalf("delete interview: %v", err)
	}
	res, err := env.app.HandleDelivery(ctx, Delivery{JobID: dispatched.JobID})
	if err != nil || res.Status != StatusCancelled {
		t.Fatalf("result = %+v err=%v, want cancelled", res, err)
	}
	assertBalance(t, env, "u1", "10")
}

func TestQuestionRegenerateDerivesVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.SetBalance("u1", dec("1"))
	iv := env.seedInterview(t, "u1")
	src := env.seedVersion(t, iv)
	src.Answers[domain.CategoryJobCompetency][2] = "old answer"
	env.store.SaveQAVersion(src)
	env.gen.responses = []string{`{"text": "What trade-offs did you make in your last design?"}`}

	index := 2
	dispatched, err := env.app.Dispatch(ctx, "u1", DispatchRequest{
		InterviewID: iv.ID,
		Type:        domain.JobQuestion,
		Input:       domain.JobInput{Category: domain.CategoryJobCompetency, Index: &index},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobCompleted) {
		t.Fatalf("unexpected result: %+v", res)
	}
	assertBalance(t, env, "u1", "0.9")

	v, _, _ := env.store.GetQAVersion(ctx, res.QAVersionID)
	ref := domain.ItemRef{Category: domain.CategoryJobCompetency, Index: 2}
	if v.ParentID != src.ID {
		t.Fatalf("parent = %q, want %q", v.ParentID, src.ID)
	}
	if v.Question(ref) != "What trade-offs did you make in your last design?" {
		t.Fatalf("question not replaced: %q", v.Question(ref))
	}
	if v.Answer(ref) != "" {
		t.Fatalf("answer of a replaced question must be cleared, got %q", v.Answer(ref))
	}
	other := domain.ItemRef{Category: domain.CategoryGeneralPersonality, Index: 0}
	if v.Question(other) != src.Question(other) {
		t.Fatalf("untouched slot changed")
	}
	if len(v.TargetItems.Questions) != 1 || v.TargetItems.Questions[0] != ref {
		t.Fatalf("target items = %+v", v.TargetItems)
	}
	assertSingleDefault(t, env, iv.ID, v.ID)
}

func TestAnswersGeneratedFillsSelectedSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.SetBalance("u1", dec("5"))
	iv := env.seedInterview(t, "u1")
	src := env.seedVersion(t, iv)
	env.gen.responses = []string{`{"answers": [
		{"category": "general_personality", "index": 0, "answer": "I am a backend engineer."},
		{"category": "job_competency", "index": 5, "answer": "I profile before optimizing."}
	]}`}

	dispatched, err := env.app.Dispatch(ctx, "u1", DispatchRequest{
		InterviewID: iv.ID,
		Type:        domain.JobAnswersGenerated,
		Input: domain.JobInput{
			QAVersionID: src.ID,
			Items: []domain.ItemRef{
				{Category: domain.CategoryGeneralPersonality, Index: 0},
				{Category: domain.CategoryJobCompetency, Index: 5},
			},
		},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if job := env.job(t, dispatched.JobID); !job.Cost.Equal(dec("0.4")) {
		t.Fatalf("cost = %s, want 0.4", job.Cost)
	}
	res := env.deliver(t, dispatched.JobID)
	if res.Status != string(domain.JobCompleted) {
		t.Fatalf("unexpected result: %+v", res)
	}
	assertBalance(t, env, "u1", "4.6")
	v, _, _ := env.store.GetQAVersion(ctx, res.QAVersionID)
	if v.Answer(domain.ItemRef{Category: domain.CategoryJobCompetency, Index: 5}) != "I profile before optimizing." {
		t.Fatalf("answer not stored: %+v", v.Answers)
	}
	if len(v.TargetItems.Answers) != 2 {
		t.Fatalf("target answers = %+v", v.TargetItems.Answers)
	}
}

func TestAnswersGeneratedRejectsMissingAnswer(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("5"))
	iv := env.seedInterview(t, "u1")
	src := env.seedVersion(t, iv)
	env.gen.responses = []string{`{"answers": [{"category": "general_personality", "index": 0, "answer": "Hi."}]}`}

	dispatched, err := env.app.Dispatch(context.Background(), "u1", DispatchRequest{
		InterviewID: iv.ID,
		Type:        domain.JobAnswersGenerated,
		Input: domain.JobInput{QAVersionID: src.ID, Items: []domain.ItemRef{
			{Category: domain.CategoryGeneralPersonality, Index: 0},
			{Category: domain.CategoryGeneralPersonality, Index: 1},
		}},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res := env.deliver(t, dispatched.JobID); res.Status != string(domain.JobFailed) {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	assertBalance(t, env, "u1", "5")
}

func TestAvoidRepeatListsPreviousQuestions(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetBalance("u1", dec("10"))
	iv := env.seedInterview(t, "u1")
	env.seedVersion(t, iv)
	env.gen.responses = []string{questionSetJSON(t, questionGrid(10))}

	dispatched, _ := env.app.Dispatch(context.Background(), "u1", DispatchRequest{
		InterviewID: iv.ID,
		Type:        domain.JobQuestionsGenerated,
		Input:       domain.JobInput{AvoidRepeat: true, Comment: "focus on teamwork"},
	})
	env.deliver(t, dispatched.JobID)
	prompt := env.gen.prompts[0]
	if !strings.Contains(prompt, "Do not repeat") || !strings.Contains(prompt, "job_competency question 3?") {
		t.Fatalf("prompt missing previous questions:\n%s", prompt)
	}
	if !strings.Contains(prompt, "focus on teamwork") {
		t.Fatalf("prompt missing comment")
	}
}

func assertSingleDefault(t *testing.T, env *testEnv, interviewID, wantID string) {
	t.Helper()
	versions, err := env.store.ListQAVersions(context.Background(), interviewID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	var defaults []string
	for _, v := range versions {
		if v.IsDefault {
			defaults = append(defaults, v.ID)
		}
	}
	if len(defaults) != 1 || defaults[0] != wantID {
		t.Fatalf("defaults = %v, want [%s]", defaults, wantID)
	}
}
