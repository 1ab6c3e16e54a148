// Package startup prepares the entry channel at service boot.
package startup

import (
	"context"
	"fmt"

	"intake-engine/internal/common/logger"
	"intake-engine/internal/transport"
)

const startButtonID = "intake:start"

// EnsureEntryPrompt makes sure the entry channel carries exactly one start
// prompt. Restarts must not stack duplicate prompts, so the prompt is only
// posted when the channel history is empty.
func EnsureEntryPrompt(ctx context.Context, conv transport.Conversation, channelID string, log logger.Logger) error {
	history, err := conv.ListMessages(ctx, channelID, 1)
	if err != nil {
		return fmt.Errorf("inspect entry channel: %w", err)
	}
	if len(history) > 0 {
		log.Info("entry prompt already present, skipping", map[string]interface{}{
			"channelId": channelID,
		})
		return nil
	}

	out := transport.Outgoing{
		Content: "Press the button below to start your application.",
		Buttons: []transport.Button{
			{ID: startButtonID, Label: "Apply"},
		},
	}
	if _, err := conv.SendMessage(ctx, channelID, out); err != nil {
		return fmt.Errorf("post entry prompt: %w", err)
	}

	log.Info("entry prompt posted", map[string]interface{}{"channelId": channelID})
	return nil
}
