package dispatch

import (
	"fmt"
	"strings"
)

// Policy selects how successful responses are reduced to one answer.
type Policy string

const (
	PolicyConcatenate  Policy = "concatenate"
	PolicyFirstSuccess Policy = "first-success"
	PolicyMajorityVote Policy = "majority-vote"
	// PolicyBestScore answers with the most capable successful client.
	PolicyBestScore    Policy = "best-score"
)

// ParsePolicy validates a policy name. Empty selects concatenate.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyConcatenate, nil
	case PolicyConcatenate, PolicyFirstSuccess, PolicyMajorityVote, PolicyBestScore:
		return p, nil
	}
	return "", fmt.Errorf("unknown aggregation policy %q", s)
}

// Aggregate reduces outcomes under the policy. Every outcome is preserved in
// the given order; with no successes the combined answer is empty.
func Aggregate(queryID string, outcomes []ClientOutcome, p Policy) AggregateResult {
	res := AggregateResult{
		QueryID:            queryID,
		Outcomes:           outcomes,
		ParticipatingCount: len(outcomes),
		Policy:             p,
	}
	var ok []ClientOutcome
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			ok = append(ok, o)
		}
	}
	res.SuccessCount = len(ok)
	if len(ok) == 0 {
		return res
	}
	switch p {
	case PolicyFirstSuccess:
		res.CombinedAnswer = ok[0].ResponseText
	case PolicyMajorityVote:
		res.CombinedAnswer = majority(ok)
	case PolicyBestScore:
		res.CombinedAnswer = bestScore(ok)
	default:
		res.CombinedAnswer = concatenate(ok)
	}
	return res
}

func concatenate(ok []ClientOutcome) string {
	parts := make([]string, 0, len(ok))
	for _, o := range ok {
		label := o.ClientID
		if o.Model != "" {
			label += " (" + o.Model + ")"
		}
		parts = append(parts, "["+label+"]\n"+strings.TrimSpace(o.ResponseText))
	}
	return strings.Join(parts, "\n\n")
}

// majority picks the response whose normalized text occurs most often.
// Ties go to the earliest outcome.
func majority(ok []ClientOutcome) string {
	counts := make(map[string]int, len(ok))
	for _, o := range ok {
		counts[normalize(o.ResponseText)]++
	}
	best, bestN := 0, 0
	for i, o := range ok {
		if n := counts[normalize(o.ResponseText)]; n > bestN {
			best, bestN = i, n
		}
	}
	return ok[best].ResponseText
}

// bestScore picks the response of the highest scoring client. Ties go to the
// earliest outcome.
func bestScore(ok []ClientOutcome) string {
	best := 0
	for i, o := range ok {
		if o.Score > ok[best].Score {
			best = i
		}
	}
	return ok[best].ResponseText
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
