package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
)

const rawOutputContentType = "application/json"

// RawOutputArchive keeps the unparsed model output of each generation job,
// keyed by user, interview and job.
type RawOutputArchive struct {
	store  ObjectStore
	expiry time.Duration
}

func NewRawOutputArchive(store ObjectStore, presignExpiry time.Duration) *RawOutputArchive {
	if presignExpiry <= 0 {
		presignExpiry = 15 * time.Minute
	}
	return &RawOutputArchive{store: store, expiry: presignExpiry}
}

func RawOutputKey(userID, interviewID, jobID string) string {
	return fmt.Sprintf("raw/%s/%s/%s.json", userID, interviewID, jobID)
}

func interviewPrefix(userID, interviewID string) string {
	return fmt.Sprintf("raw/%s/%s/", userID, interviewID)
}

// Save stores text under the job key.
func (a *RawOutputArchive) Save(ctx context.Context, userID, interviewID, jobID, text string) (string, error) {
	key := RawOutputKey(userID, interviewID, jobID)
	body := []byte(text)
	if err := a.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), rawOutputContentType); err != nil {
		return "", err
	}
	return key, nil
}

// URL returns a presigned download link for the job's raw output.
func (a *RawOutputArchive) URL(ctx context.Context, userID, interviewID, jobID string) (string, time.Time, error) {
	url, err := a.store.PresignGet(ctx, RawOutputKey(userID, interviewID, jobID), a.expiry)
	if err != nil {
		return "", time.Time{}, err
	}
	return url, time.Now().UTC().Add(a.expiry), nil
}

// DeleteInterview removes every archived output of one interview.
func (a *RawOutputArchive) DeleteInterview(ctx context.Context, userID, interviewID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(interviewID) == "" {
		return fmt.Errorf("delete interview outputs: user and interview are required")
	}
	return a.store.DeletePrefix(ctx, interviewPrefix(userID, interviewID))
}
