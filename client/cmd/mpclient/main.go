// Command mpclient joins a media-plane room: it elects a relay, admits
// itself through the meeting-control service, and streams local audio over
// WebTransport — replacing the teacher's Wails desktop shell with a cobra
// command tree, grounded on the router's own cmd/router (rootCmd with
// persistent flags, one cobra.Command per operational concern).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mpclient "github.com/mediaplane/client"
	mpconfig "github.com/mediaplane/client/internal/config"
	"github.com/mediaplane/client/internal/roomtoken"
)

var version = "dev"

var (
	email       string
	displayName string
)

func main() {
	root := &cobra.Command{
		Use:   "mpclient",
		Short: "mediaplane client: join rooms, run diagnostics, or stream a synthetic test feed",
	}
	root.PersistentFlags().StringVar(&email, "email", "", "participant identity (required)")
	root.PersistentFlags().StringVar(&displayName, "name", "", "display name (defaults to the saved config value)")

	root.AddCommand(
		newVersionCmd(),
		newJoinCmd(),
		newBotCmd(),
		newProbeCmd(),
		newConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the client version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mpclient %s\n", version)
			return nil
		},
	}
}

// newJoinCmd joins a room as a real participant: local microphone capture,
// speaker playback, and the full election/E2EE/adaptive-bitrate path.
func newJoinCmd() *cobra.Command {
	var authToken string
	cmd := &cobra.Command{
		Use:   "join <room-id>",
		Short: "join a room with local audio capture and playback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			roomID := args[0]

			cfg := mpconfig.Load()
			if displayName != "" {
				cfg.DisplayName = displayName
			}

			roomToken, err := fetchRoomToken(cmd.Context(), cfg.MeetingControl, roomID, authToken, cfg.DisplayName)
			if err != nil {
				return fmt.Errorf("admit into room: %w", err)
			}
			warnIfTokenStale(cmd.OutOrStdout(), roomToken)

			sess, err := mpclient.NewSession(cfg)
			if err != nil {
				return fmt.Errorf("build session: %w", err)
			}
			sess.OnQuality = func(m mpclient.Metrics) {
				fmt.Fprintf(cmd.OutOrStdout(), "quality=%s rtt=%.0fms loss=%.1f%% jitter=%.0fms bitrate=%.0fkbps\n",
					m.QualityLevel, m.RTTMs, m.PacketLoss*100, m.JitterMs, m.BitrateKbps)
			}
			sess.OnElected = func(addr string) {
				fmt.Fprintf(cmd.OutOrStdout(), "elected relay %s\n", addr)
			}
			sess.OnDisconnect = func(reason string) {
				fmt.Fprintf(cmd.OutOrStdout(), "disconnected: %s\n", reason)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := sess.Connect(ctx, roomID, roomToken, email); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer sess.Disconnect()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&authToken, "auth-token", "", "bearer credential forwarded to meeting-control")
	return cmd
}

// newBotCmd joins a room as a synthetic audio source — a beep pattern or a
// looped WAV file — without touching local audio hardware. Useful for load
// tests and for exercising the router without a microphone present.
func newBotCmd() *cobra.Command {
	var (
		authToken string
		addr      string
	)
	cmd := &cobra.Command{
		Use:   "bot <room-id>",
		Short: "join a room as a synthetic audio bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			roomID := args[0]

			cfg := mpconfig.Load()
			roomToken, err := fetchRoomToken(cmd.Context(), cfg.MeetingControl, roomID, authToken, displayName)
			if err != nil {
				return fmt.Errorf("admit into room: %w", err)
			}
			warnIfTokenStale(cmd.OutOrStdout(), roomToken)

			relay := addr
			if relay == "" {
				if len(cfg.Candidates) == 0 {
					return fmt.Errorf("no relay address given and no configured candidates")
				}
				relay = cfg.Candidates[0].Addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tu := mpclient.NewTestUser(email)
			if err := tu.Start(ctx, relay, roomID, roomToken); err != nil {
				return fmt.Errorf("start bot: %w", err)
			}
			defer tu.Stop()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&authToken, "auth-token", "", "bearer credential forwarded to meeting-control")
	cmd.Flags().StringVar(&addr, "relay", "", "relay host:port to dial directly, bypassing election")
	return cmd
}

// newProbeCmd runs the election's RTT probe against every configured
// candidate and prints the result, without joining a room.
func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "probe configured relay candidates and print RTT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mpconfig.Load()
			if len(cfg.Candidates) == 0 {
				return fmt.Errorf("no configured candidates; see 'mpclient config show'")
			}
			prober := mpclient.NewTLSHandshakeProber()
			out := cmd.OutOrStdout()
			for _, c := range cfg.Candidates {
				ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
				rtt, err := prober.Probe(ctx, c.Addr)
				cancel()
				if err != nil {
					fmt.Fprintf(out, "%-20s %-24s unreachable: %v\n", c.Name, c.Addr, err)
					continue
				}
				fmt.Fprintf(out, "%-20s %-24s %s\n", c.Name, c.Addr, rtt)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "inspect or edit the saved client configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "print the current configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mpconfig.Load()
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})
	cmd.AddCommand(newConfigAddCandidateCmd())
	return cmd
}

func newConfigAddCandidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-candidate <name> <addr>",
		Short: "add a relay candidate to the election list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mpconfig.Load()
			cfg.Candidates = append(cfg.Candidates, mpconfig.ServerEntry{Name: args[0], Addr: args[1]})
			if err := mpconfig.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added candidate %s (%s)\n", args[0], args[1])
			return nil
		},
	}
}

// warnIfTokenStale peeks the room token's claims (without verifying its
// signature, which only the router can do), prints a note if the token
// grants host rights, and warns if it is within a minute of expiring, so a
// connect failure a few seconds later isn't a surprise.
func warnIfTokenStale(out io.Writer, roomToken string) {
	claims, err := roomtoken.Peek(roomToken)
	if err != nil {
		fmt.Fprintf(out, "warning: could not inspect room token: %v\n", err)
		return
	}
	if claims.IsHost {
		fmt.Fprintln(out, "joining as host")
	}
	if claims.ExpiresWithin(time.Minute) {
		fmt.Fprintln(out, "warning: room token expires within a minute")
	}
}

// fetchRoomToken admits the caller into roomID through meeting-control and
// returns the room access token (a JWT) used as the WebTransport admission
// credential. Grounded on the router's internal/meetingclient shape, which
// this module cannot import directly (it lives in a separate Go module).
func fetchRoomToken(ctx context.Context, baseURL, roomID, authToken, displayName string) (string, error) {
	body, err := json.Marshal(struct {
		DisplayName string `json:"display_name,omitempty"`
	}{DisplayName: displayName})
	if err != nil {
		return "", fmt.Errorf("encode join request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/api/v1/meetings/"+roomID+"/join", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("join request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read join response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("join rejected: status %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Status    string `json:"status"`
		RoomToken string `json:"room_token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode join response: %w", err)
	}
	if out.RoomToken == "" {
		return "", fmt.Errorf("join status %q: no room token issued (waiting room?)", out.Status)
	}
	return out.RoomToken, nil
}
