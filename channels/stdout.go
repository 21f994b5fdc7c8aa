package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// StdoutConfig is the per-channel JSON config for the stdout debug sink.
type StdoutConfig struct {
	// MaxLength forces chunking for testing. Zero means unlimited.
	MaxLength int `json:"max_length,omitempty"`
}

// StdoutFactory returns a Factory for the stdout debug sink. Useful when
// running the agent in a terminal or under systemd with journal capture.
func StdoutFactory() Factory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg StdoutConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, fmt.Errorf("stdout: parse config: %w", err)
			}
		}
		return NewStdoutChannel(name, os.Stdout, cfg.MaxLength), nil
	}
}

// NewStdoutChannel creates a stdout channel writing to w. Exported so the
// engine can install an always-on debug sink without a database row.
func NewStdoutChannel(name string, w io.Writer, maxLength int) Channel {
	return &stdoutChannel{name: name, w: w, maxLength: maxLength}
}

type stdoutChannel struct {
	mu        sync.Mutex
	name      string
	w         io.Writer
	maxLength int
}

func (c *stdoutChannel) Name() string          { return c.name }
func (c *stdoutChannel) Kind() string          { return "stdout" }
func (c *stdoutChannel) MaxMessageLength() int { return c.maxLength }

func (c *stdoutChannel) SendChunk(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.w, text); err != nil {
		return &SendError{Channel: c.name, Kind: "stdout", Transient: false, Cause: err}
	}
	return nil
}
