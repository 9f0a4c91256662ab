package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"interviewprep/internal/util"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/queue"
	"interviewprep/pkg/store"
)

// DispatchRequest asks for one paid generation job.
type DispatchRequest struct {
	InterviewID string          `json:"interviewId"`
	Type        domain.JobType  `json:"type"`
	Input       domain.JobInput `json:"data"`
}

// DispatchResult is returned as soon as the job is queued.
type DispatchResult struct {
	JobID     string    `json:"jobId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Dispatch validates the request, checks the user's balance and queues the job.
// It never waits for generation. Tokens are debited by the worker once it
// claims the job.
func (a *App) Dispatch(ctx context.Context, userID string, req DispatchRequest) (DispatchResult, error) {
	logger := util.LoggerFromContext(ctx)
	if !req.Type.Valid() {
		return DispatchResult{}, invalidf("unknown job type %q", req.Type)
	}
	iv, err := a.GetInterview(ctx, userID, strings.TrimSpace(req.InterviewID))
	if err != nil {
		return DispatchResult{}, err
	}
	if missing := iv.MissingFields(); len(missing) > 0 {
		return DispatchResult{}, invalidf("interview is missing %s", strings.Join(missing, ", "))
	}
	if active, ok, err := a.store.GetActiveJob(ctx, userID); err != nil {
		return DispatchResult{}, err
	} else if ok {
		return DispatchResult{}, &ActiveJobError{Job: active}
	}
	input, err := a.prepareInput(ctx, iv, req.Type, req.Input)
	if err != nil {
		return DispatchResult{}, err
	}

	cost := JobCost(req.Type, input)
	enough, available, err := a.ledger.Check(ctx, userID, cost)
	if err != nil {
		return DispatchResult{}, err
	}
	if !enough {
		return DispatchResult{}, &InsufficientTokensError{Required: cost, Available: available}
	}

	now := a.now()
	job := domain.Job{
		ID:          util.NewID(),
		UserID:      userID,
		InterviewID: iv.ID,
		Type:        req.Type,
		Status:      domain.JobQueued,
		Cost:        cost,
		Input:       input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrActiveJobExists) {
			if active, ok, getErr := a.store.GetActiveJob(ctx, userID); getErr == nil && ok {
				return DispatchResult{}, &ActiveJobError{Job: active}
			}
		}
		return DispatchResult{}, fmt.Errorf("create job: %w", err)
	}
	if _, err := a.queue.Enqueue(ctx, queue.Delivery{
		JobID:       job.ID,
		UserID:      userID,
		InterviewID: iv.ID,
	}); err != nil {
		if _, failErr := a.store.FailJob(context.WithoutCancel(ctx), job.ID, "enqueue failed", a.now()); failErr != nil {
			logger.Error("job_fail_after_enqueue_error", "job_id", job.ID, "err", failErr)
		}
		return DispatchResult{}, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}
	logger.Info("job_dispatched", "job_id", job.ID, "user_id", userID, "type", job.Type, "cost", cost.String())
	return DispatchResult{JobID: job.ID, CreatedAt: job.CreatedAt}, nil
}

// prepareInput normalizes the type-specific payload and pins the source
// version so the worker sees exactly what the user priced.
func (a *App) prepareInput(ctx context.Context, iv domain.Interview, t domain.JobType, in domain.JobInput) (domain.JobInput, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	in.Category = strings.TrimSpace(in.Category)
	switch t.Canonical() {
	case domain.JobQuestionsGenerated:
		return domain.JobInput{Comment: in.Comment, AvoidRepeat: in.AvoidRepeat}, nil
	case domain.JobAnswersGenerated:
		src, err := a.sourceVersion(ctx, iv, strings.TrimSpace(in.QAVersionID))
		if err != nil {
			return domain.JobInput{}, err
		}
		items, err := answerTargets(src, in.Items)
		if err != nil {
			return domain.JobInput{}, err
		}
		return domain.JobInput{QAVersionID: src.ID, Items: items, Comment: in.Comment}, nil
	}

	ref, err := in.SlotRef()
	if err != nil {
		return domain.JobInput{}, invalidf("%v", err)
	}
	if t.NeedsComment() && in.Comment == "" {
		return domain.JobInput{}, invalidf("comment is required for %s", t)
	}
	src, err := a.sourceVersion(ctx, iv, strings.TrimSpace(in.QAVersionID))
	if err != nil {
		return domain.JobInput{}, err
	}
	if t.ItemKind() == domain.ItemAnswer && src.Question(ref) == "" {
		return domain.JobInput{}, invalidf("question %s[%d] is empty", ref.Category, ref.Index)
	}
	index := ref.Index
	out := domain.JobInput{QAVersionID: src.ID, Category: ref.Category, Index: &index}
	if t.NeedsComment() {
		out.Comment = in.Comment
	}
	return out, nil
}

// answerTargets validates selected slots against the source questions. An
// empty selection means every slot that has a question.
func answerTargets(src domain.QAVersion, selected []domain.ItemRef) ([]domain.ItemRef, error) {
	if len(selected) == 0 {
		var all []domain.ItemRef
		for _, ref := range domain.AllSlots() {
			if src.Question(ref) != "" {
				all = append(all, ref)
			}
		}
		if len(all) == 0 {
			return nil, invalidf("version %s has no questions", src.ID)
		}
		return all, nil
	}
	seen := make(map[domain.ItemRef]struct{}, len(selected))
	out := make([]domain.ItemRef, 0, len(selected))
	for _, ref := range selected {
		ref.Category = strings.TrimSpace(ref.Category)
		if !domain.ValidSlot(ref) {
			return nil, invalidf("invalid slot %s[%d]", ref.Category, ref.Index)
		}
		if src.Question(ref) == "" {
			return nil, invalidf("question %s[%d] is empty", ref.Category, ref.Index)
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out, nil
}
