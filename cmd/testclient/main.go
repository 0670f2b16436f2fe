package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"voice-hud-service/internal/agent"
	"voice-hud-service/internal/service/voice"
)

var rootCmd = &cobra.Command{
	Use:   "testclient",
	Short: "Exercise a running voice HUD service",
	Long:  `testclient resolves route personas and drives scripted HUD sessions against a running voice-hud-service.`,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Show the persona a route resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		return runResolve(server, args[0])
	},
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Place a scripted call through the HUD WebSocket",
	Long:  `Navigates to --path, starts a call (granting microphone access), sends each --text message and prints the transcript.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		path, _ := cmd.Flags().GetString("path")
		texts, _ := cmd.Flags().GetStringArray("text")
		wait, _ := cmd.Flags().GetDuration("wait")
		trigger, _ := cmd.Flags().GetBool("trigger")
		return runCall(server, path, texts, wait, trigger)
	},
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Base URL of the voice HUD service")

	callCmd.Flags().String("path", "/", "Route the simulated tab is on")
	callCmd.Flags().StringArray("text", nil, "Typed message to send (repeatable)")
	callCmd.Flags().Duration("wait", 3*time.Second, "How long to wait for replies after each message")
	callCmd.Flags().Bool("trigger", false, "Start the call through the cross-page trigger instead of the call button")

	rootCmd.AddCommand(resolveCmd, callCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runResolve(server, path string) error {
	u := strings.TrimRight(server, "/") + "/v1/agents/resolve?path=" + url.QueryEscape(path)
	resp, err := http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resolve returned %d", resp.StatusCode)
	}

	var out struct {
		Path       string         `json:"path"`
		Identity   agent.Identity `json:"identity"`
		Configured bool           `json:"configured"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}

	id := out.Identity
	fmt.Printf("%s -> %s (%s)\n", out.Path, id.DisplayName, id.RoleLabel)
	fmt.Printf("  route:   %s\n", id.Route)
	fmt.Printf("  agentId: %s\n", valueOr(id.AgentID, "<not configured>"))
	fmt.Printf("  colors:  %s / %s\n", id.ThemeColor, id.SecondaryColor)
	return nil
}

// hudMessage mirrors the server's HUD frames.
type hudMessage struct {
	Type         string          `json:"type"`
	Path         string          `json:"path,omitempty"`
	Identity     *agent.Identity `json:"identity,omitempty"`
	Session      *voice.Snapshot `json:"session,omitempty"`
	Presentation string          `json:"presentation,omitempty"`
	Code         string          `json:"code,omitempty"`
	Message      string          `json:"message,omitempty"`
}

func hudURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/") + "/v1/hud")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func runCall(server, path string, texts []string, wait time.Duration, trigger bool) error {
	endpoint, err := hudURL(server)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	msgs := make(chan hudMessage, 64)
	go func() {
		defer close(msgs)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			var m hudMessage
			if json.Unmarshal(data, &m) == nil {
				msgs <- m
			}
		}
	}()

	write := func(v map[string]any) error {
		return conn.WriteJSON(v)
	}

	if trigger {
		if err := write(map[string]any{"type": "trigger"}); err != nil {
			return err
		}
	}
	if err := write(map[string]any{"type": "navigate", "path": path}); err != nil {
		return err
	}
	if !trigger {
		if err := write(map[string]any{"type": "start"}); err != nil {
			return err
		}
	}

	printed := 0
	handle := func(m hudMessage) error {
		switch m.Type {
		case "agent":
			fmt.Printf("On %s with %s (%s)\n", m.Path, m.Identity.DisplayName, m.Identity.RoleLabel)
		case "media_request":
			fmt.Println("Granting microphone access")
			return write(map[string]any{"type": "media_permission", "granted": true})
		case "presentation":
			fmt.Printf("[widget %s]\n", m.Presentation)
		case "error":
			fmt.Printf("! %s: %s\n", m.Code, m.Message)
		case "session":
			s := m.Session
			if s.LastError != "" {
				fmt.Printf("! %s\n", s.LastError)
			}
			if len(s.Transcript) < printed {
				printed = 0
			}
			for _, e := range s.Transcript[printed:] {
				fmt.Printf("%-5s: %s\n", e.Role, e.Text)
			}
			printed = len(s.Transcript)
		}
		return nil
	}

	// Wait for the session to connect.
	connectDeadline := time.After(15 * time.Second)
	for connected := false; !connected; {
		select {
		case m, ok := <-msgs:
			if !ok {
				return errors.New("connection closed before the call connected")
			}
			if err := handle(m); err != nil {
				return err
			}
			if m.Type == "session" && m.Session != nil {
				switch m.Session.State {
				case voice.StateConnected:
					connected = true
				case voice.StateError:
					return fmt.Errorf("call failed: %s", m.Session.LastError)
				}
			}
		case <-connectDeadline:
			return errors.New("timed out waiting for the call to connect")
		}
	}
	fmt.Println("Connected")

	for _, text := range texts {
		if err := write(map[string]any{"type": "send_text", "text": text}); err != nil {
			return err
		}
		if err := drain(msgs, wait, handle); err != nil {
			return err
		}
	}

	if err := write(map[string]any{"type": "end"}); err != nil {
		return err
	}
	drain(msgs, 500*time.Millisecond, handle)
	fmt.Println("Call ended")
	return nil
}

// drain handles messages for d.
func drain(msgs <-chan hudMessage, d time.Duration, handle func(hudMessage) error) error {
	timeout := time.After(d)
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := handle(m); err != nil {
				return err
			}
		case <-timeout:
			return nil
		}
	}
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
