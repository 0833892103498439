package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/socialcommunity/moderation/models"
	"github.com/socialcommunity/moderation/util"
)

type SlackWebhookBody struct {
	Text string `json:"text"`
}

// Posts a one-line summary of each flagged post to a slack "incoming webhook". Other event types are ignored.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
}

var _ Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Client:     util.RobustHTTPClient(),
	}
}

func slackMessage(payload any) string {
	switch v := payload.(type) {
	case *models.Post:
		reason := ""
		if v.AIReason != nil {
			reason = *v.AIReason
		}
		return fmt.Sprintf("post `%s` by `%s` moved to %s: %s", v.ID, v.AuthorID, v.Status, reason)
	case ImageRemoved:
		return fmt.Sprintf("image removed from post `%s`", v.PostID)
	case *ImageRemoved:
		return fmt.Sprintf("image removed from post `%s`", v.PostID)
	}
	return ""
}

func (sn *SlackNotifier) Publish(ctx context.Context, name string, payload any) error {
	if name != EventNewFlaggedPost {
		return nil
	}
	msg := slackMessage(payload)
	if msg == "" {
		return nil
	}
	return sn.SendSlackMsg(ctx, msg)
}

// The slack incoming webhook must be already configured in the slack workplace.
func (sn *SlackNotifier) SendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sn.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Set("User-Agent", util.UserAgent("moderation-slack"))
	resp, err := sn.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}
