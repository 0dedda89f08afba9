package agent

import "strings"

// CompletionCheck decides from the observation text whether the task is done.
type CompletionCheck func(observation string) bool

// CompletionKeywords are matched case-insensitively against observations.
var CompletionKeywords = []string{"完成", "成功", "finished", "done", "completed"}

// ObservationSignalsCompletion is the default CompletionCheck.
func ObservationSignalsCompletion(observation string) bool {
	lower := strings.ToLower(observation)
	for _, kw := range CompletionKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
