package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/store"
)

// dangerousPatterns is the fixed, small rule set spec.md §4.F's
// ValidateCodeContent checks for — content matching any of these requires
// an AI security review before it may be accepted.
var dangerousPatterns = []string{
	"eval(",
	"exec(",
	"child_process",
	"rm -rf",
	"process.exit",
	"spawn(",
	"execSync(",
}

// dynamicRequirePattern matches a require() call built from string
// concatenation, e.g. require('./' + mod), the one pattern in spec.md
// §4.F's rule set that needs more than a substring check.
var dynamicRequirePattern = regexp.MustCompile(`require\(\s*[^)]*\+`)

// DetectDangerousPatterns reports which entries of spec.md §4.F's fixed
// pattern set appear in content: the eval/exec/process-control family,
// dynamic require(...+, writes under /etc, and file:// fetches.
func DetectDangerousPatterns(content string) []string {
	var warnings []string
	for _, p := range dangerousPatterns {
		if strings.Contains(content, p) {
			warnings = append(warnings, p)
		}
	}
	if dynamicRequirePattern.MatchString(content) {
		warnings = append(warnings, "dynamic require(...+")
	}
	if strings.Contains(content, "/etc/") {
		warnings = append(warnings, "write to /etc")
	}
	if strings.Contains(content, "file://") {
		warnings = append(warnings, "file:// fetch")
	}
	return warnings
}

// AIReviewer is a single provider's security-review capability: given a
// file, its proposed content, and the dangerous patterns Guard already
// detected, it renders a verdict. *ChatReviewer adapts an
// internal/aiprovider.LLMClient (or any equivalent chat client) to this
// shape by prompting it with the policy rubric and parsing its JSON
// {approved, reason} response.
type AIReviewer interface {
	ReviewChange(file, content string, warnings []string) (approved bool, reason string, err error)
}

// ChatClient is the narrow AI surface ChatReviewer needs, satisfied by
// *aiprovider.LLMClient (same shape as every other package's local
// ChatClient interface in this codebase).
type ChatClient interface {
	Chat(ctx context.Context, req aiprovider.Request) (*aiprovider.Response, error)
}

// ChatReviewer adapts a ChatClient into an AIReviewer by prompting it with
// spec.md §4.F's security-review rubric and parsing its verdict.
type ChatReviewer struct {
	client ChatClient
	model  string
}

// NewChatReviewer creates a ChatReviewer. model may be empty to use the
// client's own default.
func NewChatReviewer(client ChatClient, model string) *ChatReviewer {
	return &ChatReviewer{client: client, model: model}
}

const reviewSystemPrompt = `You are a security reviewer for an autonomous code-improvement agent.
Judge whether the proposed file content is safe to write. Respond with
strict JSON only: {"approved": bool, "reason": "one sentence"}.`

func (c *ChatReviewer) ReviewChange(file, content string, warnings []string) (bool, string, error) {
	prompt := fmt.Sprintf(
		"File: %s\nDetected warnings: %v\n\n--- content ---\n%s",
		file, warnings, content,
	)
	resp, err := c.client.Chat(context.Background(), aiprovider.Request{
		SystemMsg: reviewSystemPrompt,
		Prompt:    prompt,
		Model:     c.model,
	})
	if err != nil {
		return false, "", fmt.Errorf("safety: chat reviewer: %w", err)
	}

	var verdict struct {
		Approved bool   `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &verdict); err != nil {
		return false, "", fmt.Errorf("safety: parse review verdict: %w", err)
	}
	return verdict.Approved, verdict.Reason, nil
}

// reviewRecord is one persisted AI security review (spec.md §6
// "workspace/ai-review-log.json (AI security reviews, 30-day retention)").
type reviewRecord struct {
	Timestamp           time.Time `json:"timestamp"`
	File                string    `json:"file"`
	Warnings            []string  `json:"warnings"`
	PrimaryAvailable    bool      `json:"primaryAvailable"`
	PrimaryApproved     bool      `json:"primaryApproved"`
	PrimaryReason       string    `json:"primaryReason"`
	SecondaryAvailable  bool      `json:"secondaryAvailable"`
	SecondaryApproved   bool      `json:"secondaryApproved"`
	SecondaryReason     string    `json:"secondaryReason"`
	Decision            bool      `json:"decision"`
	DecisionReason      string    `json:"decisionReason"`
}

type reviewLogDocument struct {
	Reviews []reviewRecord `json:"reviews"`
}

const reviewLogRetention = 30 * 24 * time.Hour

// trustScoreWindow is how many of the most recent dual-verdict reviews
// the agreement-rate trust score is computed over (spec.md §4.F "the
// agreement rate of Claude vs. secondary over the last 20 reviews").
const trustScoreWindow = 20

// trustScoreMinSamples is the minimum number of dual-verdict reviews
// needed before the trust score is anything but 0.0 (spec.md §4.F
// "0.0 if fewer than 5 samples").
const trustScoreMinSamples = 5

// DualReviewer implements Reviewer by running spec.md §4.F's dual-review
// decision table over a high-trust primary provider ("Claude") and a
// secondary one, persisting every review (and every outright policy
// rejection) to an append-only, 30-day-retained log.
type DualReviewer struct {
	primary   AIReviewer
	secondary AIReviewer
	log       *store.AtomicStore
	logger    *logrus.Logger
	mu        sync.Mutex
}

// NewDualReviewer creates a DualReviewer whose log is persisted at
// logPath. Either provider may be nil: a nil secondary makes this
// primary-only (the shape ReviewProtectedFileChange needs); a nil primary
// with a non-nil secondary falls back to the trust-score gate.
func NewDualReviewer(primary, secondary AIReviewer, logPath string, logger *logrus.Logger) *DualReviewer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DualReviewer{
		primary:   primary,
		secondary: secondary,
		log:       store.New(logPath, nil, logger),
		logger:    logger,
	}
}

// ReviewChange runs the dual-review decision table (spec.md §4.F):
//   - both approve → approved
//   - primary approves, secondary rejects → approved (primary trumps)
//   - both reject, or primary rejects → rejected
//   - only secondary verdict available → approved iff trust score ≥ 0.8
//   - only primary verdict available → approved iff primary approved
//   - neither available → rejected, fails closed
func (d *DualReviewer) ReviewChange(file, content string, warnings []string) (bool, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := reviewRecord{Timestamp: time.Now(), File: file, Warnings: warnings}

	if d.primary != nil {
		approved, reason, err := d.primary.ReviewChange(file, content, warnings)
		if err == nil {
			rec.PrimaryAvailable = true
			rec.PrimaryApproved = approved
			rec.PrimaryReason = reason
		} else {
			d.logger.WithError(err).Warn("safety: primary reviewer unavailable")
		}
	}
	if d.secondary != nil {
		approved, reason, err := d.secondary.ReviewChange(file, content, warnings)
		if err == nil {
			rec.SecondaryAvailable = true
			rec.SecondaryApproved = approved
			rec.SecondaryReason = reason
		} else {
			d.logger.WithError(err).Warn("safety: secondary reviewer unavailable")
		}
	}

	trust := d.trustScoreLocked()
	rec.Decision, rec.DecisionReason = decide(rec, trust)

	if err := d.appendLocked(rec); err != nil {
		return rec.Decision, rec.DecisionReason, err
	}
	return rec.Decision, rec.DecisionReason, nil
}

// ReviewProtectedFile runs the Claude-only review spec.md §4.F's
// ReviewProtectedFileChange needs: without a primary reviewer it rejects.
func (d *DualReviewer) ReviewProtectedFile(file, description string) (bool, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := reviewRecord{Timestamp: time.Now(), File: file}

	if d.primary == nil {
		rec.Decision = false
		rec.DecisionReason = "no primary reviewer configured for protected file change"
		_ = d.appendLocked(rec)
		return false, rec.DecisionReason, nil
	}

	approved, reason, err := d.primary.ReviewChange(file, description, nil)
	if err != nil {
		return false, "", fmt.Errorf("safety: protected file review: %w", err)
	}
	rec.PrimaryAvailable = true
	rec.PrimaryApproved = approved
	rec.PrimaryReason = reason
	rec.Decision = approved
	rec.DecisionReason = reason

	if err := d.appendLocked(rec); err != nil {
		return approved, reason, err
	}
	return approved, reason, nil
}

// LogRejection records an outright policy rejection (one that never
// reaches a reviewer, e.g. a strictly protected file) so the review log
// reflects every security decision, per spec.md §8 scenario 4 ("the AI
// review log records the rejection with decisionReason:'Protected file'").
func (d *DualReviewer) LogRejection(file, decisionReason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := reviewRecord{
		Timestamp:      time.Now(),
		File:           file,
		Decision:       false,
		DecisionReason: decisionReason,
	}
	if err := d.appendLocked(rec); err != nil {
		d.logger.WithError(err).Warn("safety: append review log rejection")
	}
}

func decide(rec reviewRecord, trust float64) (bool, string) {
	switch {
	case rec.PrimaryAvailable && rec.SecondaryAvailable:
		switch {
		case rec.PrimaryApproved && rec.SecondaryApproved:
			return true, "both reviewers approved"
		case rec.PrimaryApproved && !rec.SecondaryApproved:
			return true, "primary approved, secondary rejected (primary trumps)"
		default:
			return false, "rejected by primary reviewer"
		}
	case rec.SecondaryAvailable:
		if trust >= 0.8 {
			return true, fmt.Sprintf("only secondary verdict available, trust score %.2f >= 0.8", trust)
		}
		return false, fmt.Sprintf("only secondary verdict available, trust score %.2f < 0.8", trust)
	case rec.PrimaryAvailable:
		if rec.PrimaryApproved {
			return true, rec.PrimaryReason
		}
		return false, "rejected by primary reviewer"
	default:
		return false, "no reviewer verdict available"
	}
}

// trustScoreLocked computes the agreement rate of primary vs. secondary
// over the last trustScoreWindow dual-verdict reviews, 0.0 if fewer than
// trustScoreMinSamples exist. Callers must hold d.mu.
func (d *DualReviewer) trustScoreLocked() float64 {
	var doc reviewLogDocument
	if err := d.log.Load(&doc); err != nil {
		return 0.0
	}

	var dual []reviewRecord
	for _, r := range doc.Reviews {
		if r.PrimaryAvailable && r.SecondaryAvailable {
			dual = append(dual, r)
		}
	}
	sort.Slice(dual, func(i, j int) bool { return dual[i].Timestamp.After(dual[j].Timestamp) })
	if len(dual) > trustScoreWindow {
		dual = dual[:trustScoreWindow]
	}
	if len(dual) < trustScoreMinSamples {
		return 0.0
	}

	agree := 0
	for _, r := range dual {
		if r.PrimaryApproved == r.SecondaryApproved {
			agree++
		}
	}
	return float64(agree) / float64(len(dual))
}

// appendLocked appends rec to the review log, pruning entries older than
// reviewLogRetention. Callers must hold d.mu.
func (d *DualReviewer) appendLocked(rec reviewRecord) error {
	var doc reviewLogDocument
	if err := d.log.Load(&doc); err != nil {
		return fmt.Errorf("safety: load review log: %w", err)
	}

	cutoff := time.Now().Add(-reviewLogRetention)
	kept := doc.Reviews[:0]
	for _, r := range doc.Reviews {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	doc.Reviews = append(kept, rec)

	if err := d.log.Save(&doc); err != nil {
		return fmt.Errorf("safety: save review log: %w", err)
	}
	return nil
}
