package pipeline

import "github.com/latticeforge/coregate/pkg/apierr"

// validateRequest enforces spec §3's Request invariants: either prompt xor
// messages non-empty, maxTokens>=1, timeoutMs>0.
func validateRequest(r Request) error {
	hasPrompt := r.Prompt != ""
	hasMessages := len(r.Messages) > 0
	if hasPrompt == hasMessages {
		return apierr.New(apierr.KindInvalidRequest, "request must set exactly one of prompt or messages")
	}
	if r.Options.MaxTokens < 1 {
		return apierr.New(apierr.KindInvalidRequest, "options.maxTokens must be >= 1")
	}
	if r.Options.TimeoutMs <= 0 {
		return apierr.New(apierr.KindInvalidRequest, "options.timeoutMs must be > 0")
	}
	return nil
}

// normalize fills derived defaults: UserKey falls back to Principal.
func normalize(r *Request) {
	if r.UserKey == "" {
		r.UserKey = r.Principal
	}
}
