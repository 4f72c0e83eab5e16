package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cadence/internal/config"
	"cadence/internal/db"
	"cadence/internal/intake"
	"cadence/internal/logging"
	"cadence/internal/media"
	"cadence/internal/player"
	"cadence/internal/playlist"
	"cadence/internal/session"
	"cadence/internal/stats"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const shellPrompt = "cadence> "

var noHistory bool

var playCmd = &cobra.Command{
	Use:   "play <files|dirs...>",
	Short: "Open an interactive player over the given files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlay,
}

func init() {
	playCmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record listening history")
	rootCmd.AddCommand(playCmd)
}

// stack is the headless equivalent of the desktop app's service graph.
type stack struct {
	db       *sql.DB
	player   *player.Service
	playlist *playlist.Service
	session  *session.Service
	intake   *intake.Service
	stats    *stats.Service
}

func newStack(ctx context.Context, settings config.Settings) (*stack, error) {
	paths, err := config.ResolvePaths("cadence")
	if err != nil {
		return nil, err
	}

	logFile := settings.LogFile
	if logFile == "" {
		logFile = paths.LogPath
	}
	if err := logging.Init(logging.Config{Level: logging.Level(logLevel), OutputPath: logFile}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	s := &stack{}
	if settings.History && !noHistory {
		s.db, err = db.Bootstrap(ctx, paths.DBPath)
		if err != nil {
			return nil, err
		}
	}

	registry := media.NewRegistry()
	source, err := player.NewSignalSource(registry)
	if err != nil {
		s.close()
		return nil, err
	}

	playerOptions := player.DefaultOptions()
	playerOptions.DefaultVolume = settings.DefaultVolume
	s.player = player.NewService(source, playerOptions)
	s.playlist = playlist.NewService(registry)
	s.stats = stats.NewService(s.db)

	sessionOptions := session.DefaultOptions()
	sessionOptions.PollInterval = settings.PollInterval
	s.session = session.NewService(s.player, s.playlist, sessionOptions)
	s.session.SetHistory(s.stats)
	s.stats.SetBPMSource(s.session.BPM)

	s.intake = intake.NewService(s.playlist, int64(settings.MaxUploadMB)<<20)

	return s, nil
}

func (s *stack) close() {
	if s.session != nil {
		s.session.Close()
	}
	if s.player != nil {
		_ = s.player.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	logging.Sync()
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := newStack(ctx, config.Load())
	if err != nil {
		return err
	}
	defer s.close()

	out := cmd.OutOrStdout()
	if err := s.admit(out, args); err != nil {
		return err
	}
	if s.playlist.GetState().Total == 0 {
		return errors.New("no playable files")
	}

	if err := s.session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          shellPrompt,
		AutoComplete:    shellCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("open shell: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(out, "type 'help' for commands")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}

		if err := s.exec(ctx, out, fields[0], fields[1:]); err != nil {
			fmt.Fprintf(out, " [!] %v\n", err)
		}
	}
}

func shellCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("play"),
		readline.PcItem("pause"),
		readline.PcItem("toggle"),
		readline.PcItem("next"),
		readline.PcItem("prev"),
		readline.PcItem("seek"),
		readline.PcItem("vol"),
		readline.PcItem("shuffle"),
		readline.PcItem("repeat",
			readline.PcItem(string(playlist.RepeatNone)),
			readline.PcItem(string(playlist.RepeatAll)),
			readline.PcItem(string(playlist.RepeatOne)),
		),
		readline.PcItem("list"),
		readline.PcItem("select"),
		readline.PcItem("load"),
		readline.PcItem("status"),
		readline.PcItem("bpm"),
		readline.PcItem("add"),
		readline.PcItem("stats"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

func (s *stack) exec(ctx context.Context, out io.Writer, command string, args []string) error {
	switch command {
	case "play":
		return s.player.Play(ctx)
	case "pause":
		return s.player.Pause(ctx)
	case "toggle":
		return s.player.TogglePlayback(ctx)
	case "next":
		if !s.session.Next() {
			fmt.Fprintln(out, "no next track")
		}
	case "prev":
		if !s.session.Previous() {
			fmt.Fprintln(out, "no previous track")
		}
	case "seek":
		seconds, err := floatArg(args)
		if err != nil {
			return err
		}
		return s.player.Seek(ctx, seconds)
	case "vol":
		if len(args) == 0 {
			fmt.Fprintf(out, "volume %d\n", s.player.GetState().Volume)
			return nil
		}
		volume, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("volume must be a number: %w", err)
		}
		fmt.Fprintf(out, "volume %d\n", s.player.SetVolume(volume).Volume)
	case "shuffle":
		state := s.playlist.ToggleShuffle()
		fmt.Fprintf(out, "shuffle %t\n", state.Shuffle)
	case "repeat":
		if len(args) == 0 {
			fmt.Fprintf(out, "repeat %s\n", s.playlist.ToggleRepeat())
			return nil
		}
		state, err := s.playlist.SetRepeatMode(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "repeat %s\n", state.RepeatMode)
	case "list":
		printPlaylist(out, s.playlist.GetState())
	case "select":
		if len(args) == 0 {
			return errors.New("usage: select <number>")
		}
		number, err := strconv.Atoi(args[0])
		tracks := s.playlist.GetState().Tracks
		if err != nil || number < 1 || number > len(tracks) {
			return fmt.Errorf("no track %q", args[0])
		}
		s.session.Select(tracks[number-1].ID)
	case "load":
		if len(args) == 0 {
			return errors.New("usage: load <number>")
		}
		number, err := strconv.Atoi(args[0])
		tracks := s.playlist.GetState().Tracks
		if err != nil || number < 1 || number > len(tracks) {
			return fmt.Errorf("no track %q", args[0])
		}
		return s.session.Load(tracks[number-1].ID, true)
	case "status":
		printStatus(out, s.player.GetState(), s.session.BPM())
	case "bpm":
		fmt.Fprintf(out, "%d bpm\n", s.session.BPM())
	case "add":
		return s.admit(out, args)
	case "stats":
		overview, err := s.stats.GetOverview(ctx, 5)
		if err != nil {
			return err
		}
		printOverview(out, overview)
	case "help":
		fmt.Fprintln(out, "play pause toggle next prev seek <s> vol [n] shuffle repeat [mode] list select <n> load <n> status bpm add <paths> stats quit")
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	return nil
}

func (s *stack) admit(out io.Writer, args []string) error {
	paths, err := intake.Expand(args)
	if err != nil {
		return err
	}

	result := s.intake.Admit(paths)
	for _, rejection := range result.Rejected {
		fmt.Fprintf(out, "skipped %s\n", rejection.Reason)
	}
	fmt.Fprintf(out, "added %d track(s)\n", len(result.Admitted))
	return nil
}

func floatArg(args []string) (float64, error) {
	if len(args) == 0 {
		return 0, errors.New("missing argument")
	}

	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", args[0])
	}
	return value, nil
}

func printPlaylist(out io.Writer, state playlist.State) {
	for i, track := range state.Tracks {
		marker := " "
		if i == state.CurrentIndex {
			marker = ">"
		}
		fmt.Fprintf(out, "%s %2d. %s - %s (%s)\n", marker, i+1, track.Artist, track.Name, formatClock(track.Duration))
	}
	fmt.Fprintf(out, "shuffle %t, repeat %s\n", state.Shuffle, state.RepeatMode)
}

func printStatus(out io.Writer, state player.State, bpm int) {
	if state.Track == nil {
		fmt.Fprintln(out, string(state.Status))
		return
	}

	line := fmt.Sprintf("%s  %s - %s  %s / %s  vol %d",
		state.Status,
		state.Track.Artist,
		state.Track.Name,
		formatClock(state.Elapsed),
		formatClock(state.Duration),
		state.Volume,
	)
	if state.Fading != player.FadeNone {
		line += "  fading " + string(state.Fading)
	}
	if bpm > 0 {
		line += fmt.Sprintf("  %d bpm", bpm)
	}
	if state.Diagnostic != "" {
		line += "  (" + state.Diagnostic + ")"
	}
	fmt.Fprintln(out, line)
}

func printOverview(out io.Writer, overview stats.Overview) {
	played := time.Duration(overview.TotalPlayedMS) * time.Millisecond
	fmt.Fprintf(out, "%d sessions, %s listened, %d complete / %d skipped / %d partial\n",
		overview.Sessions,
		played.Round(time.Second),
		overview.CompleteCount,
		overview.SkipCount,
		overview.PartialCount,
	)
	for i, track := range overview.TopTracks {
		fmt.Fprintf(out, "%2d. %s - %s (%d plays)\n", i+1, track.Artist, track.Name, track.Plays)
	}
}

func formatClock(seconds float64) string {
	if seconds <= 0 {
		return "-:--"
	}

	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
