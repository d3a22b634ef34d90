package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mkarev/CoWatch/internal/client"
	"github.com/mkarev/CoWatch/internal/protocol"
)

var (
	flagServer string
	flagRoom   string
	flagHost   bool
	flagName   string
	flagVideo  string
	flagSTUN   []string
	flagDebug  bool
)

// connectWarnAfter is how long a session may sit in connecting before the
// user is told something is probably wrong. The session itself has no
// timeout; /quit always works.
const connectWarnAfter = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "cowatch",
	Short: "Terminal client for CoWatch watch-together rooms",
	Long: `cowatch joins a two-person watch-together room, negotiates a direct
peer connection through the signaling server, and then chats and syncs
playback over the resulting data channel.

Examples:
  cowatch --room abc123 --host --name Alice
  cowatch --room abc123 --name Bob`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagServer, "server", "s", "ws://localhost:8080/api/ws/signal", "signaling server WebSocket URL")
	rootCmd.Flags().StringVarP(&flagRoom, "room", "r", "", "room identifier")
	rootCmd.Flags().BoolVar(&flagHost, "host", false, "create the room as host (the host initiates the offer)")
	rootCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name")
	rootCmd.Flags().StringVar(&flagVideo, "video", "", "video id to load once connected (host only)")
	rootCmd.Flags().StringSliceVar(&flagSTUN, "stun", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}, "STUN servers for ICE gathering")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "verbose internal logging")
	_ = rootCmd.MarkFlagRequired("room")
}

func run(cmd *cobra.Command, args []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	// Keep internals quiet by default so the chat stays readable.
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if flagDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess := client.NewSessionController()

	sess.OnStatusChange(func(st client.Status) {
		switch st {
		case client.StatusConnected:
			pterm.Success.Printfln("session connected — say hi")
			if flagHost && flagVideo != "" {
				sess.SyncPlayback(protocol.ActionLoadVideo, flagVideo, nil)
				pterm.Info.Printfln("loaded video %s", flagVideo)
			}
		case client.StatusDisconnected:
			pterm.Warning.Printfln("session disconnected")
			cancel()
		default:
			pterm.Info.Printfln("session %s", st)
		}
	})
	sess.OnChat(func(env protocol.Envelope) {
		pterm.FgCyan.Printfln("%s: %s", env.Sender, env.Text)
	})
	sess.OnPlayerSync(func(env protocol.Envelope) {
		switch env.Action {
		case protocol.ActionSeek:
			pterm.FgMagenta.Printfln("peer seeked to %.1fs", deref(env.CurrentTime))
		case protocol.ActionLoadVideo:
			pterm.FgMagenta.Printfln("peer loaded video %s", env.VideoID)
		default:
			pterm.FgMagenta.Printfln("peer sent %s", env.Action)
		}
	})
	sess.OnPeerJoined(func(ev client.PeerEvent) {
		pterm.Info.Printfln("%s joined (%d in room)", ev.Username, ev.PeerCount)
	})
	sess.OnPeerLeft(func(ev client.PeerEvent) {
		pterm.Info.Printfln("%s left (%d in room)", ev.Username, ev.PeerCount)
	})
	sess.OnError(func(msg string) {
		pterm.Error.Printfln("server: %s", msg)
	})

	if err := sess.Initialize(ctx, flagServer, flagRoom, flagHost, flagName, flagSTUN); err != nil {
		return err
	}
	defer sess.Disconnect()

	pterm.Info.Printfln("joined room %s — /play /pause /seek <s> /load <videoId> /quit, anything else is chat", flagRoom)

	stallTimer := time.AfterFunc(connectWarnAfter, func() {
		if sess.Status() == client.StatusConnecting {
			pterm.Warning.Printfln("still negotiating after %s; the room may be empty or NAT traversal may be failing (/quit to give up)", connectWarnAfter)
		}
	})
	defer stallTimer.Stop()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(sess, line); done {
				return nil
			}
		}
	}
}

// handleLine interprets slash commands and treats everything else as chat.
func handleLine(sess *client.SessionController, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		sess.SendChat(line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/play":
		sess.SyncPlayback(protocol.ActionPlay, "", nil)
	case "/pause":
		sess.SyncPlayback(protocol.ActionPause, "", nil)
	case "/seek":
		if len(fields) < 2 {
			pterm.Warning.Printfln("usage: /seek <seconds>")
			return false
		}
		secs, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			pterm.Warning.Printfln("bad seek position %q", fields[1])
			return false
		}
		sess.SyncPlayback(protocol.ActionSeek, "", &secs)
	case "/load":
		if len(fields) < 2 {
			pterm.Warning.Printfln("usage: /load <videoId>")
			return false
		}
		sess.SyncPlayback(protocol.ActionLoadVideo, fields[1], nil)
	default:
		pterm.Warning.Printfln("unknown command %s", fields[0])
	}
	return false
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
