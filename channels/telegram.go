package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// telegramMaxLength is the bot API message size limit. Kept slightly under
// the documented 4096 so marker prefixes and encoding never tip a chunk over.
const telegramMaxLength = 4000

// TelegramConfig is the per-channel JSON config for Telegram delivery.
type TelegramConfig struct {
	// BotToken is the Telegram bot API token (from @BotFather).
	BotToken string `json:"bot_token"`
	// ChatID is the target chat (user, group, or channel id).
	ChatID string `json:"chat_id"`
	// APIBase overrides the bot API base URL. Used in tests.
	APIBase string `json:"api_base,omitempty"`
	// MaxLength overrides the chunking limit. Zero uses the default.
	MaxLength int `json:"max_length,omitempty"`
}

// TelegramFactory returns a Factory for Telegram delivery via the bot API
// sendMessage method.
//
// Config example:
//
//	{"bot_token": "123456:ABC-DEF", "chat_id": "-1001234567890"}
func TelegramFactory() Factory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg TelegramConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("telegram: parse config: %w", err)
		}
		if cfg.BotToken == "" {
			return nil, fmt.Errorf("telegram: bot_token is required")
		}
		if cfg.ChatID == "" {
			return nil, fmt.Errorf("telegram: chat_id is required")
		}
		if cfg.APIBase == "" {
			cfg.APIBase = "https://api.telegram.org"
		}
		if cfg.MaxLength <= 0 {
			cfg.MaxLength = telegramMaxLength
		}
		return &telegramChannel{
			name:   name,
			config: cfg,
			client: &http.Client{Timeout: 30 * time.Second},
		}, nil
	}
}

type telegramChannel struct {
	name   string
	config TelegramConfig
	client *http.Client
}

func (c *telegramChannel) Name() string          { return c.name }
func (c *telegramChannel) Kind() string          { return "telegram" }
func (c *telegramChannel) MaxMessageLength() int { return c.config.MaxLength }

func (c *telegramChannel) SendChunk(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage",
		strings.TrimRight(c.config.APIBase, "/"), c.config.BotToken)

	form := url.Values{
		"chat_id": {c.config.ChatID},
		"text":    {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return c.fail(false, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors (refused, timeout, DNS) are worth retrying.
		return c.fail(true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("telegram: sendMessage status %d: %s",
		resp.StatusCode, strings.TrimSpace(string(body)))

	// 429 and 5xx are transient; other 4xx (bad token, bad chat id) are not.
	transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return c.fail(transient, cause)
}

func (c *telegramChannel) fail(transient bool, cause error) error {
	return &SendError{Channel: c.name, Kind: "telegram", Transient: transient, Cause: cause}
}
