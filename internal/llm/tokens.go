package llm

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// estimator lazily builds a tiktoken encoding once per process, used to
// estimate token counts when the provider reports no usage.
var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// EstimateTokens returns a best-effort token count for messages. The
// orchestrator adds it to total_tokens_used in place of the provider's
// usage.total_tokens when a response carries no usage. Returns 0 if the
// encoding could not be loaded.
func EstimateTokens(messages []Message) int {
	e := encoding()
	if e == nil {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += len(e.Encode(m.Content, nil, nil))
	}
	return total
}
