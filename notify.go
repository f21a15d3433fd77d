package main

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"
)

// Notifier posts job outcome messages to a Slack channel. A nil
// Notifier (Slack not configured) is safe to call and does nothing.
type Notifier struct {
	api     *slack.Client
	channel string
}

func NewNotifier(cfg Config) *Notifier {
	if !cfg.SlackConfigured() {
		return nil
	}
	return &Notifier{
		api:     slack.New(cfg.SlackBotToken),
		channel: cfg.SlackChannelID,
	}
}

// NotifyJobResult posts a short summary of a finished analysis job.
// Failures are logged, never fatal.
func (n *Notifier) NotifyJobResult(sourceFile string, result *JobResult) {
	if n == nil || result == nil {
		return
	}
	var msg string
	switch result.State {
	case JobCompleted:
		msg = fmt.Sprintf(":white_check_mark: Analysis of `%s` completed: %d comments classified (job %s, %d tokens, ~$%.4f).",
			sourceFile, len(result.Records), result.JobID, result.Usage.TotalTokens, result.Usage.EstimatedCostUSD())
	case JobCancelled:
		msg = fmt.Sprintf(":octagonal_sign: Analysis of `%s` was cancelled after %d comments (job %s). Resume to continue.",
			sourceFile, len(result.Records), result.JobID)
	case JobFailed:
		msg = fmt.Sprintf(":x: Analysis of `%s` failed (job %s). Progress is checkpointed.",
			sourceFile, result.JobID)
	default:
		return
	}
	if _, _, err := n.api.PostMessage(n.channel, slack.MsgOptionText(msg, false)); err != nil {
		log.Printf("slack notify failed: %v", err)
	}
}
