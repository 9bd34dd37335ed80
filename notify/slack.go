package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) Send(ctx context.Context, notif Notification) error {
	return n.sendSlackMsg(ctx, slackBody(notif))
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode != http.StatusOK || string(respBody) != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(n Notification) string {
	msg := "Moderation report\n"
	if n.Mention {
		msg = "⚠️ Moderation Action ⚠️\n"
	}
	msg += fmt.Sprintf("`%s` reported `%s` on `%s`\n", n.Actor, n.AffectedSubject, n.Platform)
	msg += fmt.Sprintf("Reason: %s\n", n.Reason)
	msg += fmt.Sprintf("Action taken: %s\n", n.ActionTaken)
	return msg
}
