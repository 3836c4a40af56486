package alert

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

// httpDoer is the transport seam for HTTP-backed channels.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func postJSON(client httpDoer, url string, headers map[string]string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return nil
}

func eventText(ev Event) string {
	return fmt.Sprintf("[%s] %s: %s -> %s %s", ev.Severity, ev.RuleName, ev.PrevState, ev.State, ev.Message)
}

// SlackChannel posts alert transitions to a Slack channel.
type SlackChannel struct {
	channelBase
	channelID string
	client    interface {
		PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	}
}

// NewSlackChannel creates a Slack channel using a bot token.
func NewSlackChannel(name, token, channelID string, maxPerHour int) *SlackChannel {
	return &SlackChannel{
		channelBase: newChannelBase(name, maxPerHour),
		channelID:   channelID,
		client:      slack.New(token),
	}
}

func (c *SlackChannel) Send(ev Event) bool {
	return c.send(func() error {
		_, _, err := c.client.PostMessage(c.channelID,
			slack.MsgOptionText(eventText(ev), false),
			slack.MsgOptionAttachments(slack.Attachment{
				Color:  slackColor(ev),
				Fields: slackFields(ev),
			}))
		return err
	})
}

func slackColor(ev Event) string {
	switch {
	case ev.State == StateResolved:
		return "good"
	case ev.Severity == SeverityCritical, ev.Severity == SeverityError:
		return "danger"
	default:
		return "warning"
	}
}

func slackFields(ev Event) []slack.AttachmentField {
	fields := []slack.AttachmentField{
		{Title: "Rule", Value: ev.RuleID, Short: true},
		{Title: "State", Value: string(ev.State), Short: true},
	}
	for q, v := range ev.Values {
		fields = append(fields, slack.AttachmentField{Title: q, Value: fmt.Sprintf("%g", v), Short: true})
	}
	return fields
}

// WebhookChannel POSTs the alert event as JSON, optionally HMAC-signed with
// the same header scheme webhook triggers verify.
type WebhookChannel struct {
	channelBase
	url    string
	secret string
	client httpDoer
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(name, url, secret string, maxPerHour int) *WebhookChannel {
	return &WebhookChannel{
		channelBase: newChannelBase(name, maxPerHour),
		url:         url,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) Send(ev Event) bool {
	return c.send(func() error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.secret != "" {
			mac := hmac.New(sha256.New, []byte(c.secret))
			mac.Write(payload)
			req.Header.Set("X-Webhook-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook %s: status %d", c.url, resp.StatusCode)
		}
		return nil
	})
}

// EmailSender delivers a composed message. Implementations wrap SMTP or an
// email API; tests inject fakes.
type EmailSender func(to []string, subject, body string) error

// EmailChannel mails alert transitions.
type EmailChannel struct {
	channelBase
	to     []string
	sender EmailSender
}

// NewEmailChannel creates an email channel with the given sender.
func NewEmailChannel(name string, to []string, sender EmailSender, maxPerHour int) *EmailChannel {
	return &EmailChannel{channelBase: newChannelBase(name, maxPerHour), to: to, sender: sender}
}

func (c *EmailChannel) Send(ev Event) bool {
	return c.send(func() error {
		subject := fmt.Sprintf("[%s] %s is %s", ev.Severity, ev.RuleName, ev.State)
		return c.sender(c.to, subject, eventText(ev))
	})
}

// TeamsChannel posts a MessageCard to a Microsoft Teams incoming webhook.
type TeamsChannel struct {
	channelBase
	url    string
	client httpDoer
}

func NewTeamsChannel(name, url string, maxPerHour int) *TeamsChannel {
	return &TeamsChannel{
		channelBase: newChannelBase(name, maxPerHour),
		url:         url,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *TeamsChannel) Send(ev Event) bool {
	return c.send(func() error {
		return postJSON(c.client, c.url, nil, map[string]any{
			"@type":    "MessageCard",
			"@context": "https://schema.org/extensions",
			"title":    fmt.Sprintf("%s is %s", ev.RuleName, ev.State),
			"text":     eventText(ev),
		})
	})
}

// PagerDutyChannel sends events to the PagerDuty Events v2 API: firing
// transitions trigger an incident, resolved transitions resolve it.
type PagerDutyChannel struct {
	channelBase
	routingKey string
	url        string
	client     httpDoer
}

func NewPagerDutyChannel(name, routingKey string, maxPerHour int) *PagerDutyChannel {
	return &PagerDutyChannel{
		channelBase: newChannelBase(name, maxPerHour),
		routingKey:  routingKey,
		url:         "https://events.pagerduty.com/v2/enqueue",
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *PagerDutyChannel) Send(ev Event) bool {
	return c.send(func() error {
		action := "trigger"
		if ev.State == StateResolved {
			action = "resolve"
		}
		return postJSON(c.client, c.url, nil, map[string]any{
			"routing_key":  c.routingKey,
			"event_action": action,
			"dedup_key":    ev.RuleID,
			"payload": map[string]any{
				"summary":  eventText(ev),
				"severity": string(ev.Severity),
				"source":   ev.RuleID,
			},
		})
	})
}

// SMSSender delivers a text message to one recipient.
type SMSSender func(to, message string) error

// SMSChannel texts alert transitions.
type SMSChannel struct {
	channelBase
	to     []string
	sender SMSSender
}

func NewSMSChannel(name string, to []string, sender SMSSender, maxPerHour int) *SMSChannel {
	return &SMSChannel{channelBase: newChannelBase(name, maxPerHour), to: to, sender: sender}
}

func (c *SMSChannel) Send(ev Event) bool {
	return c.send(func() error {
		for _, recipient := range c.to {
			if err := c.sender(recipient, eventText(ev)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DiscordChannel posts to a Discord webhook.
type DiscordChannel struct {
	channelBase
	url    string
	client httpDoer
}

func NewDiscordChannel(name, url string, maxPerHour int) *DiscordChannel {
	return &DiscordChannel{
		channelBase: newChannelBase(name, maxPerHour),
		url:         url,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *DiscordChannel) Send(ev Event) bool {
	return c.send(func() error {
		return postJSON(c.client, c.url, nil, map[string]any{
			"content": eventText(ev),
		})
	})
}
