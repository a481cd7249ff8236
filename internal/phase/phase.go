// Package phase decides which stage of a contest a topic is in.
//
// Evaluation is a pure function of the topic's three instants and the
// current time. Callers re-evaluate on a clock so a phase boundary is
// crossed without any change to the topic itself.
package phase

import (
	"fmt"
	"time"
)

type Phase string

const (
	Pending Phase = "pending"
	Upload  Phase = "upload"
	Voting  Phase = "voting"
	Results Phase = "results"
	Unknown Phase = "unknown"
)

// Advisory flags topics whose schedule is incomplete.
type Advisory string

const (
	AdvisoryNone    Advisory = ""
	AdvisoryLegacy  Advisory = "legacy_schedule"
	AdvisoryPartial Advisory = "partial_schedule"
)

// Message is the user-facing notice for the advisory.
func (a Advisory) Message() string {
	switch a {
	case AdvisoryLegacy:
		return "このお題は旧フォーマットです（日時未設定）。暫定的にアップロード期間として表示します。"
	case AdvisoryPartial:
		return "一部日時が未設定です。時間推定で表示しています。"
	default:
		return ""
	}
}

// Window holds the three optional instants that bound a topic's phases.
type Window struct {
	PublishAt   *time.Time
	UploadEndAt *time.Time
	VotingEndAt *time.Time
}

type Result struct {
	Phase    Phase
	Advisory Advisory
	// Deadline is the boundary that ends the current phase, nil when none applies.
	Deadline *time.Time
}

type boundary struct {
	at    *time.Time
	phase Phase
}

// Evaluate returns the phase of w at now.
func Evaluate(w Window, now time.Time) Result {
	if now.IsZero() {
		return Result{Phase: Unknown}
	}

	bounds := []boundary{
		{at: w.PublishAt, phase: Pending},
		{at: w.UploadEndAt, phase: Upload},
		{at: w.VotingEndAt, phase: Voting},
	}

	present := 0
	for _, b := range bounds {
		if b.at != nil {
			present++
		}
	}

	advisory := AdvisoryNone
	switch present {
	case 0:
		return Result{Phase: Upload, Advisory: AdvisoryLegacy}
	case len(bounds):
	default:
		advisory = AdvisoryPartial
	}

	for _, b := range bounds {
		if b.at == nil {
			continue
		}
		if now.Before(*b.at) {
			deadline := *b.at
			return Result{Phase: b.phase, Advisory: advisory, Deadline: &deadline}
		}
	}
	return Result{Phase: Results, Advisory: advisory}
}

// Countdown renders the time left until target the way the contest UI shows
// it: "N日 HH:MM:SS" when a day or more remains, "HH:MM:SS" otherwise.
// ended is true once target has been reached.
func Countdown(target, now time.Time) (text string, ended bool) {
	left := int64(target.Sub(now) / time.Second)
	if left <= 0 {
		return "", true
	}

	days := left / 86400
	hours := (left % 86400) / 3600
	minutes := (left % 3600) / 60
	seconds := left % 60

	clock := fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	if days > 0 {
		return fmt.Sprintf("%d日 %s", days, clock), false
	}
	return clock, false
}
