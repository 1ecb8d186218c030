package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elee1766/stationd/src/agentproc"
)

const fallbackNameLen = 50

// Namer produces a short display name for a new session from its first user
// message.
type Namer interface {
	Name(ctx context.Context, firstMessage string) (string, error)
}

// FallbackName truncates the first message into a usable session name.
func FallbackName(firstMessage string) string {
	name := strings.TrimSpace(firstMessage)
	runes := []rune(name)
	if len(runes) > fallbackNameLen {
		name = string(runes[:fallbackNameLen])
	}
	if name == "" {
		name = "Untitled session"
	}
	return name
}

// agentNamer asks the agent itself for a title via the one-shot chat
// endpoint. It deliberately omits a session id so the naming call never
// touches the conversation being named.
type agentNamer struct {
	client *Client
}

func (n *agentNamer) Name(ctx context.Context, firstMessage string) (string, error) {
	prompt := fmt.Sprintf(
		"Generate a short title (5 words or fewer) for a conversation that starts with: %q. Reply with only the title.",
		FallbackName(firstMessage),
	)

	body, err := json.Marshal(map[string]string{"message": prompt})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/agent/%s/chat", n.client.baseURL, n.client.persona)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("naming request failed: %s", apiError(resp))
	}

	var res agentproc.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("failed to decode naming response: %w", err)
	}
	if res.IsError {
		return "", fmt.Errorf("agent could not name the session: %s", res.Result)
	}

	name := strings.TrimSpace(strings.Trim(strings.TrimSpace(res.Result), `"'`))
	if name == "" {
		return "", fmt.Errorf("agent returned an empty name")
	}
	return name, nil
}
