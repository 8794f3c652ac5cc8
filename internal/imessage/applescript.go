package imessage

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Napageneral/crosstalk/internal/platform"
)

// The outbound transport for the Messages platform is the Messages.app
// automation interface: one osascript call per send, fire-and-forget.

type scriptRunner func(ctx context.Context, lines []string, args []string) (string, error)

// Send delivers body to the destination address via Messages.app. Exactly
// one logical send per call; service fallback retries the same AppleScript
// against SMS accounts only when no iMessage account can address the handle,
// which is account selection, not redelivery.
func (s *Store) Send(ctx context.Context, to platform.Address, body string) error {
	var err error
	switch to.Kind {
	case platform.AddressChatID:
		err = s.sendToChatID(ctx, "any;-;"+to.Value, body)
	case platform.AddressPhone, platform.AddressEmail:
		err = s.sendToHandle(ctx, to.Value, body)
	default:
		err = fmt.Errorf("address kind %q cannot be sent via Messages", to.Kind)
	}
	if err != nil {
		return &platform.SendError{Platform: platform.Messages, Err: err}
	}
	return nil
}

func (s *Store) sendToChatID(ctx context.Context, chatID, body string) error {
	script := []string{
		`on run argv`,
		`set chatID to item 1 of argv`,
		`set bodyText to item 2 of argv`,
		`tell application "Messages"`,
		`send bodyText to chat id chatID`,
		`end tell`,
		`end run`,
	}
	if _, err := s.runScript(ctx, script, []string{chatID, body}); err != nil {
		return fmt.Errorf("send to chat %q: %w", chatID, err)
	}
	return nil
}

func (s *Store) sendToHandle(ctx context.Context, handle, body string) error {
	if handle == "" {
		return fmt.Errorf("empty send handle")
	}
	if !strings.Contains(handle, "@") && !strings.HasPrefix(handle, "+") {
		handle = "+" + handle // canonical phones are stored without '+'
	}

	script := []string{
		`on run argv`,
		`set targetHandle to item 1 of argv`,
		`set bodyText to item 2 of argv`,
		`set desiredService to item 3 of argv`,
		`tell application "Messages"`,
		`set targetAccount to first account whose service type is desiredService`,
		`set targetParticipant to participant targetHandle of targetAccount`,
		`send bodyText to targetParticipant`,
		`end tell`,
		`end run`,
	}

	var lastErr error
	for _, service := range []string{"iMessage", "SMS"} {
		_, err := s.runScript(ctx, script, []string{handle, body, service})
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("send to %q: %w", handle, lastErr)
}

// runAppleScript executes an inline AppleScript with osascript, passing
// values as argv so message bodies never get interpolated into the script.
func runAppleScript(ctx context.Context, lines []string, args []string) (string, error) {
	cmdArgs := make([]string, 0, len(lines)*2+len(args))
	for _, line := range lines {
		cmdArgs = append(cmdArgs, "-e", line)
	}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.CommandContext(ctx, "/usr/bin/osascript", cmdArgs...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(out.String()))
	}
	return strings.TrimSpace(out.String()), nil
}
