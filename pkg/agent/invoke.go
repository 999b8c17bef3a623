// Elaj - conversational assistant for Adjara realty listings
// License: MIT
//
// Copyright (c) 2026 Elaj contributors

package agent

import (
	"context"
	"time"

	"github.com/elajbot/elaj/pkg/logger"
	"github.com/elajbot/elaj/pkg/providers"
)

// Outcome classifies one assistant invocation.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Invoker runs the submit/poll/fetch protocol against the backend under a
// hard deadline. The clock is injectable so the timing laws are testable
// without real sleeps.
type Invoker struct {
	backend providers.AssistantBackend

	pollInterval   time.Duration
	deadline       time.Duration
	typingInterval time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

func NewInvoker(backend providers.AssistantBackend, pollInterval, deadline, typingInterval time.Duration) *Invoker {
	return &Invoker{
		backend:        backend,
		pollInterval:   pollInterval,
		deadline:       deadline,
		typingInterval: typingInterval,
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// Run submits input and polls until a terminal status or the deadline.
// onWorking fires at most once per typing interval while the backend is
// busy (and once up front), so the user sees a live indicator without the
// channel rate-limiting us. A timed-out invocation is abandoned: no
// server-side cancel, no further polls.
func (inv *Invoker) Run(ctx context.Context, input string, onWorking func()) (Outcome, string) {
	start := inv.now()
	lastWorking := start
	if onWorking != nil {
		onWorking()
	}

	handle, err := inv.backend.Submit(ctx, input)
	if err != nil {
		logger.ErrorCF("invoke", "Submit failed", map[string]interface{}{"error": err.Error()})
		return OutcomeFailed, ""
	}

	for inv.now().Sub(start) < inv.deadline {
		status, err := inv.backend.Poll(ctx, handle)
		if err != nil {
			logger.ErrorCF("invoke", "Poll failed", map[string]interface{}{
				"run": handle.RunID, "error": err.Error(),
			})
			return OutcomeFailed, ""
		}

		switch status {
		case providers.StatusCompleted:
			reply, err := inv.backend.Fetch(ctx, handle)
			if err != nil {
				logger.ErrorCF("invoke", "Fetch failed", map[string]interface{}{
					"run": handle.RunID, "error": err.Error(),
				})
				return OutcomeFailed, ""
			}
			return OutcomeCompleted, reply
		case providers.StatusFailed, providers.StatusCancelled, providers.StatusExpired:
			logger.WarnCF("invoke", "Run ended without a reply", map[string]interface{}{
				"run": handle.RunID, "status": string(status),
			})
			return OutcomeFailed, ""
		}

		if onWorking != nil && inv.now().Sub(lastWorking) >= inv.typingInterval {
			onWorking()
			lastWorking = inv.now()
		}
		inv.sleep(inv.pollInterval)
	}

	logger.WarnCF("invoke", "Invocation abandoned at deadline", map[string]interface{}{
		"run": handle.RunID, "deadline": inv.deadline.String(),
	})
	return OutcomeTimedOut, ""
}
