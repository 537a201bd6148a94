package recovery

import (
	"context"
	"errors"

	"github.com/rzbill/claimq/internal/queue"
	"github.com/rzbill/claimq/pkg/log"
)

// Handler adapts a Policy and a Log into the repository's Recoverer hook.
// Every permitted repair is appended to the log regardless of policy;
// only the user-facing verbosity differs.
type Handler struct {
	policy Policy
	log    *Log
	logger log.Logger
}

// NewHandler builds a Handler. The log may be nil in tests.
func NewHandler(policy Policy, recLog *Log, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.WarnLevel))
	}
	return &Handler{policy: policy, log: recLog, logger: logger.WithComponent("recovery")}
}

// Policy returns the configured policy.
func (h *Handler) Policy() Policy { return h.policy }

// Recover implements queue.Recoverer.
func (h *Handler) Recover(ctx context.Context, action, detail string) error {
	if h.policy == PolicyFailFast {
		return &queue.Error{
			Kind: queue.KindFatal,
			Op:   "recover",
			Err:  errors.New("corruption detected with fail-fast policy: " + detail),
		}
	}
	if h.log != nil {
		if _, err := h.log.Append(ctx, action, detail, h.policy, 0); err != nil {
			h.logger.Error("recovery log append failed", log.Err(err))
		}
	}
	if h.policy == PolicyWarn {
		h.logger.Warn("repaired inconsistent queue state",
			log.F("action", action), log.F("detail", detail))
	}
	return nil
}
