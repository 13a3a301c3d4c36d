package notify

import (
	"context"
	"fmt"
	"net/http"
)

// Discord embed descriptions are capped at 4096 characters.
const discordMaxDescription = 4096

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: sendTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Send posts the alert as a single embed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	if len(message) > discordMaxDescription {
		message = message[:discordMaxDescription-3] + "..."
	}
	payload := map[string]any{
		"embeds": []discordEmbed{{Title: title, Description: message}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
