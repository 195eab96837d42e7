// Package notify posts run summaries to a Slack incoming webhook.
//
// Notifications are best-effort: delivery failures are logged, never returned
// to the caller of the Notify* methods.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const (
	colorOK      = "#4bb543"
	colorWarning = "#f2c744"
	colorAlert   = "#d50200"

	// Slack rejects section texts over 3000 characters
	maxSectionText = 2900
	maxListedItems = 20

	fence = "```"
)

// Option for the notifier
type Option func(*Notifier)

// WithHTTPClient sets the HTTP client used to post messages
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithLogger sets the logger
func WithLogger(zlg *zap.Logger) Option {
	return func(n *Notifier) {
		if zlg != nil {
			n.l = zlg
		}
	}
}

// Notifier posts to a Slack webhook
type Notifier struct {
	webhook string
	client  *http.Client
	l       *zap.Logger
}

// New notifier. An empty webhook disables notifications.
func New(webhook string, opts ...Option) *Notifier {
	n := &Notifier{
		webhook: webhook,
		client:  &http.Client{Timeout: 30 * time.Second},
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(n)
	}
	return n
}

// Enabled tells if a webhook is configured
func (n *Notifier) Enabled() bool {
	return n != nil && n.webhook != ""
}

// Post a message to the webhook
func (n *Notifier) Post(ctx context.Context, msg *slack.WebhookMessage) error {
	return slack.PostWebhookCustomHTTPContext(ctx, n.webhook, n.client, msg)
}

// NotifyRun posts the summary of a recipe run
func (n *Notifier) NotifyRun(ctx context.Context, report model.RunReport) {
	n.deliver(ctx, "run summary", RunMessage(report))
}

// NotifySync posts an alert about a partially applied sync
func (n *Notifier) NotifySync(ctx context.Context, alert SyncAlert) {
	n.deliver(ctx, "sync alert", SyncMessage(alert))
}

func (n *Notifier) deliver(ctx context.Context, what string, msg *slack.WebhookMessage) {
	if !n.Enabled() {
		if n != nil {
			n.l.Info("slack webhook not set: no notification sent", zap.String("notification", what))
		}
		return
	}
	if err := n.Post(ctx, msg); err != nil {
		n.l.Warn("could not post slack notification", zap.String("notification", what), zap.Error(err))
		return
	}
	n.l.Info("slack notification sent", zap.String("notification", what))
}

// SyncAlert describes a sync that could not be fully applied
type SyncAlert struct {
	Target  string
	Applied int
	Failed  int
	Errors  []string
}

func markdown(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, truncate(text), false, false), nil, nil)
}

func plain(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, truncate(text), false, false), nil, nil)
}

// code renders text in a code block after a prefix. Only the text is truncated, so the closing fence is kept.
func code(prefix, text string) *slack.SectionBlock {
	limit := maxSectionText - utf8.RuneCountInString(prefix) - 2*len(fence) - 1
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, prefix+fence+truncateTo(text, limit)+fence, false, false), nil, nil)
}

func truncate(text string) string {
	return truncateTo(text, maxSectionText)
}

// truncateTo cuts text to limit characters, on a rune boundary
func truncateTo(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	if limit < 0 {
		limit = 0
	}
	return string([]rune(text)[:limit]) + "…"
}

// RunMessage formats the summary of a recipe run
func RunMessage(report model.RunReport) *slack.WebhookMessage {
	header := []slack.Block{
		markdown(":package: *AutoPkg has finished running*"),
	}
	if len(report.Published) == 0 {
		header = append(header, markdown("There are no new items to be imported into Munki"))
	} else {
		header = append(header, plain("The following items will be imported into Munki after approval"))
		for i, pub := range report.Published {
			if i == maxListedItems {
				header = append(header, markdown(fmt.Sprintf("… and %d more", len(report.Published)-maxListedItems)))
				break
			}
			name := pub.Import.Recipe.Slug()
			if pub.ReviewURL != "" {
				name = fmt.Sprintf("<%s|%s>", pub.ReviewURL, name)
			}
			header = append(header, markdown(fmt.Sprintf("• %s version %s", name, pub.Import.Version)))
		}
	}
	if len(report.Skipped) > 0 {
		header = append(header, markdown(fmt.Sprintf("%d item(s) already merged or awaiting review were left untouched", len(report.Skipped))))
	}

	msg := &slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Color:  colorOK,
			Blocks: slack.Blocks{BlockSet: header},
		}},
	}

	if len(report.Failures) > 0 {
		blocks := []slack.Block{
			slack.NewDividerBlock(),
			markdown(":warning: *The following recipes failed*"),
		}
		for _, failure := range report.Failures {
			blocks = append(blocks,
				markdown(failure.Recipe),
				code("", failure.Message),
			)
		}
		msg.Attachments = append(msg.Attachments, slack.Attachment{Color: colorWarning, Blocks: slack.Blocks{BlockSet: blocks}})
	}

	if len(report.GitErrors) > 0 {
		blocks := []slack.Block{
			slack.NewDividerBlock(),
			markdown(":github: *Git errors*"),
		}
		for _, gitErr := range report.GitErrors {
			blocks = append(blocks, code(fmt.Sprintf("error publishing branch: %s ", gitErr.Branch), gitErr.Error))
		}
		msg.Attachments = append(msg.Attachments, slack.Attachment{Color: colorWarning, Blocks: slack.Blocks{BlockSet: blocks}})
	}

	return msg
}

// SyncMessage formats an alert about a partially applied sync
func SyncMessage(alert SyncAlert) *slack.WebhookMessage {
	blocks := []slack.Block{
		markdown(":rotating_light: *Munki repository sync partially failed*"),
		markdown(fmt.Sprintf("Target: `%s`\nApplied: %d\nFailed: %d\nThe next sync will retry the remaining changes.", alert.Target, alert.Applied, alert.Failed)),
	}
	for i, e := range alert.Errors {
		if i == maxListedItems {
			blocks = append(blocks, markdown(fmt.Sprintf("… and %d more", len(alert.Errors)-maxListedItems)))
			break
		}
		blocks = append(blocks, code("", e))
	}
	return &slack.WebhookMessage{
		Attachments: []slack.Attachment{{Color: colorAlert, Blocks: slack.Blocks{BlockSet: blocks}}},
	}
}
