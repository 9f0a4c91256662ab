package app

import (
	"context"
	"fmt"

	"interviewprep/internal/util"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/ledger"
	"interviewprep/pkg/notify"
)

// StatusCancelled is reported for deliveries whose job was cancelled before
// the worker saw it.
const StatusCancelled = "cancelled"

// Delivery is the webhook body sent by the relay.
type Delivery struct {
	JobID       string `json:"jobId"`
	UserID      string `json:"userId"`
	InterviewID string `json:"interviewId"`
}

// WorkerResult reports what one delivery did.
type WorkerResult struct {
	JobID       string `json:"jobId"`
	Status      string `json:"status"`
	QAVersionID string `json:"qaVersionId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// HandleDelivery runs a queued job to a terminal state. Redelivery of a job
// that is already processing or terminal has no side effects. The returned
// error is non-nil only when the delivery should be retried or rejected;
// job failures are reported through the result.
func (a *App) HandleDelivery(ctx context.Context, d Delivery) (WorkerResult, error) {
	logger := util.LoggerFromContext(ctx).With("job_id", d.JobID)
	ctx = util.ContextWithLogger(ctx, logger)

	job, ok, err := a.store.GetJob(ctx, d.JobID)
	if err != nil {
		return WorkerResult{}, fmt.Errorf("load job: %w", err)
	}
	if !ok {
		logger.Info("delivery_for_missing_job")
		return WorkerResult{JobID: d.JobID, Status: StatusCancelled}, nil
	}
	if (d.UserID != "" && d.UserID != job.UserID) || (d.InterviewID != "" && d.InterviewID != job.InterviewID) {
		return WorkerResult{}, ErrPayloadMismatch
	}
	if job.Status != domain.JobQueued {
		logger.Info("delivery_replayed", "status", job.Status)
		return resultFor(job), nil
	}

	claimed, err := a.store.ClaimJob(ctx, job.ID, a.now())
	if err != nil {
		return WorkerResult{}, fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		// cancelled or claimed by a concurrent delivery
		current, ok, err := a.store.GetJob(ctx, job.ID)
		if err != nil {
			return WorkerResult{}, fmt.Errorf("load job: %w", err)
		}
		if !ok {
			return WorkerResult{JobID: job.ID, Status: StatusCancelled}, nil
		}
		return resultFor(current), nil
	}
	job.Status = domain.JobProcessing
	logger.Info("job_claimed", "user_id", job.UserID, "type", job.Type)
	return a.run(ctx, job), nil
}

func resultFor(job domain.Job) WorkerResult {
	res := WorkerResult{JobID: job.ID, Status: string(job.Status), Error: job.ErrorMessage}
	if job.Result != nil {
		res.QAVersionID = job.Result.QAVersionID
	}
	return res
}

// run performs the paid work for a claimed job. Every failure after the
// debit refunds it.
func (a *App) run(ctx context.Context, job domain.Job) (res WorkerResult) {
	logger := util.LoggerFromContext(ctx)
	// compensation must outlive the delivery request
	bg := context.WithoutCancel(ctx)
	spent, completed := false, false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker_panic", "panic", r, "completed", completed)
			if completed {
				return
			}
			res = a.fail(bg, job, spent, fmt.Sprintf("internal error: %v", r))
		}
	}()

	enough, available, err := a.ledger.Check(ctx, job.UserID, job.Cost)
	if err != nil {
		return a.fail(bg, job, false, "balance check failed")
	}
	if !enough {
		return a.fail(bg, job, false, fmt.Sprintf("insufficient tokens: required %s, available %s", job.Cost, available))
	}
	ok, err := a.ledger.Spend(ctx, job.UserID, job.Cost, ledger.Entry{
		Key:    ledger.SpendKey(job.ID),
		Reason: string(job.Type),
		JobID:  job.ID,
	})
	if err != nil {
		// the debit may have committed before the error surfaced
		debited, lerr := a.ledger.Spent(bg, ledger.SpendKey(job.ID))
		if lerr != nil {
			logger.Error("job_spend_state_unknown", "user_id", job.UserID, "err", lerr)
		}
		return a.fail(bg, job, debited, "token spend failed")
	}
	if !ok {
		return a.fail(bg, job, false, "insufficient tokens")
	}
	spent = true

	gc, err := a.loadContext(ctx, job)
	if err != nil {
		return a.fail(bg, job, true, err.Error())
	}
	prompt, err := buildPrompt(job, gc)
	if err != nil {
		return a.fail(bg, job, true, err.Error())
	}
	genCtx, cancel := context.WithTimeout(ctx, a.generationTimeout)
	raw, err := a.generator.GenerateText(genCtx, systemPrompt, prompt)
	cancel()
	if err != nil {
		return a.fail(bg, job, true, "generation failed: "+err.Error())
	}
	a.archiveRaw(bg, job, raw)

	version, err := a.buildVersion(job, gc, raw)
	if err != nil {
		return a.fail(bg, job, true, err.Error())
	}
	result := domain.JobResult{QAVersionID: version.ID, TokensUsed: job.Cost}
	if err := a.store.CompleteJob(bg, job.ID, version, result, a.now()); err != nil {
		return a.fail(bg, job, true, "persist result failed: "+err.Error())
	}
	res = WorkerResult{JobID: job.ID, Status: string(domain.JobCompleted), QAVersionID: version.ID}
	completed = true
	logger.Info("job_completed", "qa_version_id", version.ID, "cost", job.Cost.String())
	a.notify(bg, job, notify.EventJobCompleted, version.ID, "")
	return res
}

// fail marks the job failed and, when tokens were debited, refunds them under
// the job's refund key so every failure path refunds at most once.
func (a *App) fail(ctx context.Context, job domain.Job, refund bool, msg string) WorkerResult {
	logger := util.LoggerFromContext(ctx)
	if _, err := a.store.FailJob(ctx, job.ID, msg, a.now()); err != nil {
		logger.Error("job_fail_write_failed", "err", err)
	}
	if refund {
		applied, err := a.ledger.Refund(ctx, job.UserID, job.Cost, ledger.Entry{
			Key:    ledger.JobRefundKey(job.ID),
			Reason: "job failed",
			JobID:  job.ID,
		})
		if err != nil {
			logger.Error("job_refund_failed", "user_id", job.UserID, "err", err)
		} else if applied {
			logger.Info("job_refunded", "user_id", job.UserID, "amount", job.Cost.String())
		}
	}
	logger.Warn("job_failed", "reason", msg)
	a.notify(ctx, job, notify.EventJobFailed, "", msg)
	return WorkerResult{JobID: job.ID, Status: string(domain.JobFailed), Error: msg}
}

func (a *App) loadContext(ctx context.Context, job domain.Job) (generationContext, error) {
	iv, ok, err := a.store.GetInterview(ctx, job.InterviewID)
	if err != nil {
		return generationContext{}, fmt.Errorf("load interview: %w", err)
	}
	if !ok || iv.UserID != job.UserID {
		return generationContext{}, ErrInterviewNotFound
	}
	if missing := iv.MissingFields(); len(missing) > 0 {
		return generationContext{}, invalidf("interview is missing %v", missing)
	}
	gc := generationContext{interview: iv}
	if job.Type.Canonical() == domain.JobQuestionsGenerated {
		if def, ok, err := a.store.GetDefaultQAVersion(ctx, iv.ID); err == nil && ok {
			gc.source = def
		}
		if job.Input.AvoidRepeat {
			versions, err := a.store.ListQAVersions(ctx, iv.ID)
			if err != nil {
				return generationContext{}, fmt.Errorf("load previous versions: %w", err)
			}
			gc.previous = previousQuestions(versions)
		}
		return gc, nil
	}
	src, err := a.sourceVersion(ctx, iv, job.Input.QAVersionID)
	if err != nil {
		return generationContext{}, err
	}
	gc.source = src
	return gc, nil
}

// buildVersion validates raw output and derives the new default version.
// A fresh question set starts with empty answers; derived versions copy the
// source and overwrite only the target slots.
func (a *App) buildVersion(job domain.Job, gc generationContext, raw string) (domain.QAVersion, error) {
	v := domain.QAVersion{
		ID:          util.NewID(),
		InterviewID: job.InterviewID,
		UserID:      job.UserID,
		JobID:       job.ID,
		IsDefault:   true,
		Type:        job.Type,
		ParentID:    gc.source.ID,
		TargetItems: domain.TargetItems{Questions: []domain.ItemRef{}, Answers: []domain.ItemRef{}},
		TokensUsed:  job.Cost,
		CreatedAt:   a.now(),
	}
	switch job.Type.Canonical() {
	case domain.JobQuestionsGenerated:
		questions, err := parseQuestionSet(raw)
		if err != nil {
			return domain.QAVersion{}, err
		}
		v.Questions = questions
		v.Answers = domain.EmptyAnswers()
		v.TargetItems.Questions = domain.AllSlots()
		return v, nil

	case domain.JobAnswersGenerated:
		answers, err := parseAnswers(raw, job.Input.Items)
		if err != nil {
			return domain.QAVersion{}, err
		}
		v.Questions = domain.CloneGrid(gc.source.Questions)
		v.Answers = domain.CloneGrid(gc.source.Answers)
		for ref, text := range answers {
			v.Answers[ref.Category][ref.Index] = text
		}
		v.TargetItems.Answers = append(v.TargetItems.Answers, job.Input.Items...)
		return v, nil
	}

	ref, err := job.Input.SlotRef()
	if err != nil {
		return domain.QAVersion{}, err
	}
	text, err := parseSingleItem(raw)
	if err != nil {
		return domain.QAVersion{}, err
	}
	v.Questions = domain.CloneGrid(gc.source.Questions)
	v.Answers = domain.CloneGrid(gc.source.Answers)
	if job.Type.ItemKind() == domain.ItemQuestion {
		v.Questions[ref.Category][ref.Index] = text
		// the old answer belonged to the old question
		v.Answers[ref.Category][ref.Index] = ""
		v.TargetItems.Questions = []domain.ItemRef{ref}
	} else {
		v.Answers[ref.Category][ref.Index] = text
		v.TargetItems.Answers = []domain.ItemRef{ref}
	}
	return v, nil
}

func (a *App) archiveRaw(ctx context.Context, job domain.Job, raw string) {
	if a.archive == nil {
		return
	}
	if _, err := a.archive.Save(ctx, job.UserID, job.InterviewID, job.ID, raw); err != nil {
		util.LoggerFromContext(ctx).Warn("raw_output_archive_failed", "err", err)
	}
}

// notify is best effort: errors and panics from the notifier are logged only.
func (a *App) notify(ctx context.Context, job domain.Job, eventType, versionID, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			util.LoggerFromContext(ctx).Error("job_notify_panic", "event", eventType, "panic", r)
		}
	}()
	err := a.notifier.Notify(ctx, notify.Event{
		Type:        eventType,
		JobID:       job.ID,
		UserID:      job.UserID,
		InterviewID: job.InterviewID,
		JobType:     string(job.Type),
		QAVersionID: versionID,
		Error:       errMsg,
		At:          a.now(),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("job_notify_failed", "event", eventType, "err", err)
	}
}
