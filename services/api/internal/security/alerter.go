// Package security counts suspicious API activity per source and flags
// sources that cross a threshold within a window.
package security

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventWebhookVerify  = "webhook.verify"
	EventJobDispatch    = "jobs.dispatch"
	EventUserAuthorize  = "api.authorize"
	EventAdminAuthorize = "api.admin.authorize"

	OutcomeFail        = "fail"
	OutcomeRateLimited = "rate_limited"

	defaultAlertPrefix = "interviewprep:api:alerts"
)

type rule struct {
	threshold int64
	window    time.Duration
}

// An empty event matches any event with that outcome.
var rules = map[[2]string]rule{
	{"", OutcomeRateLimited}:           {threshold: 20, window: time.Minute},
	{EventWebhookVerify, OutcomeFail}:  {threshold: 5, window: 5 * time.Minute},
	{EventUserAuthorize, OutcomeFail}:  {threshold: 25, window: 5 * time.Minute},
	{EventAdminAuthorize, OutcomeFail}: {threshold: 10, window: 5 * time.Minute},
}

func lookupRule(event, outcome string) (rule, bool) {
	if r, ok := rules[[2]string{event, outcome}]; ok {
		return r, true
	}
	r, ok := rules[[2]string{"", outcome}]
	return r, ok
}

var incrWithTTL = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// AlertResult is the counter state after one observation.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter keeps fixed-window counters in Redis. A nil *AuditAlerter is
// valid and observes nothing.
type AuditAlerter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewAuditAlerter returns nil when addr is empty.
func NewAuditAlerter(addr, password, prefix string) *AuditAlerter {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = defaultAlertPrefix
	}
	return &AuditAlerter{
		rdb:    redis.NewClient(&redis.Options{Addr: strings.TrimSpace(addr), Password: password}),
		prefix: prefix,
		now:    time.Now,
	}
}

// Observe counts one event from source. Events without a rule are ignored.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, source string) (AlertResult, error) {
	if a == nil {
		return AlertResult{}, nil
	}
	r, ok := lookupRule(strings.TrimSpace(event), strings.TrimSpace(outcome))
	if !ok {
		return AlertResult{}, nil
	}
	slot := a.now().UnixMilli() / r.window.Milliseconds()
	key := strings.Join([]string{
		a.prefix, segment(event), segment(outcome), segment(source), strconv.FormatInt(slot, 10),
	}, ":")

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := incrWithTTL.Run(ctx, a.rdb, []string{key}, r.window.Milliseconds()).Int64()
	if err != nil {
		return AlertResult{}, err
	}
	return AlertResult{Triggered: n >= r.threshold, Count: n, Threshold: r.threshold, Window: r.window}, nil
}

func (a *AuditAlerter) Close() error {
	if a == nil {
		return nil
	}
	return a.rdb.Close()
}

var segmentReplacer = strings.NewReplacer(":", "_", "|", "_", " ", "_")

// segment makes s safe to embed in a colon-delimited key.
func segment(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return segmentReplacer.Replace(s)
}
