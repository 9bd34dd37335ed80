package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gravitalia/signaly/pkg/robusthttp"
	"github.com/gravitalia/signaly/platform"
)

const discordEmbedColor = 3353411

// Posts to a Discord channel webhook, optionally mentioning a role.
type DiscordNotifier struct {
	WebhookURL string
	// role ID mentioned for actionable notifications; empty disables mentions
	MentionRole string
	// public web base used to link accounts and posts
	ProfileBaseURL string
	Client         *http.Client
	Clock          func() time.Time
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp"`
}

type DiscordWebhookBody struct {
	Content     string         `json:"content"`
	Embeds      []discordEmbed `json:"embeds"`
	Attachments []any          `json:"attachments"`
}

func (d *DiscordNotifier) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d *DiscordNotifier) baseURL() string {
	if d.ProfileBaseURL == "" {
		return "https://www.gravitalia.com"
	}
	return d.ProfileBaseURL
}

func (d *DiscordNotifier) link(n Notification) string {
	base := d.baseURL()
	if platform.IsPostID(n.AffectedSubject) {
		return fmt.Sprintf("%s/p/%s", base, n.AffectedSubject)
	}
	return fmt.Sprintf("%s/%s", base, n.AffectedSubject)
}

func (d *DiscordNotifier) body(n Notification) DiscordWebhookBody {
	prefix := ""
	if n.Mention && d.MentionRole != "" {
		prefix = fmt.Sprintf("<@&%s> ", d.MentionRole)
	}
	content := fmt.Sprintf("%sNew report request from [%s](%s/%s) for the `%s` platform, against [%s](%s) for **%s**.",
		prefix, n.Actor, d.baseURL(), n.Actor, n.Platform, n.AffectedSubject, d.link(n), n.Reason)

	return DiscordWebhookBody{
		Content: content,
		Embeds: []discordEmbed{{
			Color: discordEmbedColor,
			Fields: []discordField{
				{Name: "Author", Value: n.Actor, Inline: true},
				{Name: "Affected user", Value: n.AffectedSubject, Inline: true},
				{Name: "Reason", Value: n.Reason, Inline: true},
				{Name: "Action taken", Value: n.ActionTaken},
			},
			Timestamp: d.now().UTC().Format(time.RFC3339),
		}},
		Attachments: []any{},
	}
}

func (d *DiscordNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(d.body(n))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()
	if err := robusthttp.CheckResponse(resp); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
