// join.go implements the "focusroom join" command, the interactive
// room client.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"focusroom/internal/config"
	"focusroom/internal/database"
	"focusroom/internal/feedback"
	"focusroom/internal/history"
	"focusroom/internal/models"
	"focusroom/internal/presence"
	"focusroom/internal/room"
)

var joinCmd = &cobra.Command{
	Use:   "join [name]",
	Short: "Join the study room",
	Long: `Join the shared room under a display name, then control your study
session from the prompt:

  start                  begin a focus session
  stop                   end it and record the study time
  who                    reprint the roster
  away / back            pause and resume presence heartbeats
  feedback N [comment]   rate the room 1..5
  leave                  leave the room and quit
  quit                   quit without leaving (the janitor evicts you later)`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJoin,
}

var (
	joinName     string
	identityPath string
)

func init() {
	joinCmd.Flags().StringVar(&joinName, "name", "", "Display name (defaults to the positional argument, then $USER)")
	joinCmd.Flags().StringVar(&identityPath, "identity", "", "Identity file path (default: OS config directory)")
}

func runJoin(cmd *cobra.Command, args []string) error {
	name := joinName
	if name == "" && len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		name = os.Getenv("USER")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("no display name; pass one as an argument or with --name")
	}

	cfg := config.Load()

	redisClient, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to Redis: %w", err)
	}
	defer redisClient.Close()

	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	idPath := identityPath
	if idPath == "" {
		idPath, err = room.DefaultIdentityPath()
		if err != nil {
			return fmt.Errorf("resolving identity path: %w", err)
		}
	}

	store := presence.NewRedisStore(redisClient)
	recorder := history.NewRecorder(history.NewRepo(pool))
	feedbackRepo := feedback.NewRepo(pool)

	printer := &rosterPrinter{out: os.Stdout}
	client := room.NewClient(store, recorder, room.NewFileIdentity(idPath), room.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		OnChange:          printer.render,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Open(ctx); err != nil {
		return fmt.Errorf("opening room: %w", err)
	}
	defer client.Close()

	if err := waitForRoom(ctx, client); err != nil {
		return err
	}

	if cur := client.State().Current; cur != nil {
		fmt.Printf("Welcome back, %s.\n", cur.Name)
	} else if err := client.Join(ctx, name); err != nil {
		var vErr *room.ValidationError
		if errors.As(err, &vErr) {
			return fmt.Errorf("cannot join: %v", vErr)
		}
		return fmt.Errorf("joining room: %w", err)
	}

	return repl(ctx, client, printer, feedbackRepo, name, cfg.EvictionWindow)
}

// waitForRoom blocks until the first snapshot arrives so the user never
// acts on an empty roster that is merely still loading.
func waitForRoom(ctx context.Context, client *room.Client) error {
	deadline := time.Now().Add(10 * time.Second)
	for client.State().Loading {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for the first room snapshot")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func repl(ctx context.Context, client *room.Client, printer *rosterPrinter, feedbackRepo *feedback.Repo, name string, evictionWindow time.Duration) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	// On interrupt or EOF, try an explicit leave so the others see a
	// clean exit instead of waiting out a janitor eviction.
	bestEffortLeave := func() {
		if client.State().Current == nil {
			return
		}
		leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.LeaveRoom(leaveCtx); err != nil {
			fmt.Printf("leave failed (%v); the janitor will clean up\n", err)
		}
	}

	var lastDuration time.Duration

	fmt.Print("> ")
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			bestEffortLeave()
			fmt.Println("bye")
			return nil

		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				bestEffortLeave()
				return nil
			}

			fields := strings.Fields(line)
			if len(fields) == 0 {
				fmt.Print("> ")
				continue
			}

			switch fields[0] {
			case "start":
				if err := client.StartSession(ctx); err != nil {
					fmt.Printf("start failed: %v\n", err)
				}

			case "stop":
				if st := client.State(); st.Current == nil || !st.Current.Studying() {
					fmt.Println("no session running")
				} else if res, err := client.EndSession(ctx); err != nil {
					fmt.Printf("stop failed: %v\n", err)
				} else {
					lastDuration = res.Duration
					fmt.Printf("focused for %s\n", formatDuration(res.Duration))
					if res.AskFeedback {
						fmt.Println("rate the room? feedback <1-5> [comment]")
					}
				}

			case "who":
				printer.force(client.State())

			case "away":
				client.SetVisible(false)
				fmt.Printf("away; heartbeats paused. Come back within %s or be evicted.\n", evictionWindow)

			case "back":
				client.SetVisible(true)
				fmt.Println("back")

			case "feedback":
				submitFeedback(ctx, client, feedbackRepo, name, fields[1:], lastDuration)

			case "leave":
				if err := client.LeaveRoom(ctx); err != nil {
					fmt.Printf("leave failed: %v\n", err)
				}
				return nil

			case "quit", "exit":
				return nil

			case "help":
				fmt.Println("commands: start, stop, who, away, back, feedback <1-5> [comment], leave, quit")

			default:
				fmt.Printf("unknown command %q (try help)\n", fields[0])
			}
			fmt.Print("> ")
		}
	}
}

func submitFeedback(ctx context.Context, client *room.Client, repo *feedback.Repo, name string, args []string, lastDuration time.Duration) {
	if len(args) == 0 {
		fmt.Println("usage: feedback <1-5> [comment]")
		return
	}
	rating, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("usage: feedback <1-5> [comment]")
		return
	}

	if st := client.State(); st.Current != nil {
		name = st.Current.Name
	}
	f := &models.Feedback{
		UserID:          client.UserID(),
		UserName:        name,
		Rating:          rating,
		Comment:         strings.Join(args[1:], " "),
		DurationSeconds: int(lastDuration.Seconds()),
	}
	if err := repo.Submit(ctx, f); err != nil {
		fmt.Printf("feedback failed: %v\n", err)
		return
	}
	fmt.Println("thanks!")
}

// rosterPrinter reprints the roster whenever its visible shape changes.
// Heartbeat-only updates keep the signature stable, so the prompt is
// not redrawn every time someone's last-seen ticks over.
type rosterPrinter struct {
	out io.Writer

	mu   sync.Mutex
	last string
}

func (p *rosterPrinter) render(st room.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sig := rosterSignature(st)
	if sig == p.last {
		return
	}
	p.last = sig
	p.print(st)
}

// force reprints even when nothing changed (the "who" command).
func (p *rosterPrinter) force(st room.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = rosterSignature(st)
	p.print(st)
}

func (p *rosterPrinter) print(st room.State) {
	fmt.Fprintf(p.out, "\n── %d online ─────────────────────\n", st.TotalOnline)

	ownID := ""
	if st.Current != nil {
		ownID = st.Current.ID
	}
	now := time.Now()
	for i := range st.Roster {
		rec := &st.Roster[i]
		marker := "  "
		if rec.ID == ownID {
			marker = "▸ "
		}
		fmt.Fprintf(p.out, "%s%-14s %s", marker, rec.Name, statusLabel(rec.DisplayStatus()))
		if rec.DisplayStatus() == models.StatusActive {
			fmt.Fprintf(p.out, " %s", formatDuration(rec.Elapsed(now)))
		}
		fmt.Fprintln(p.out)
	}
	if st.Err != nil {
		fmt.Fprintf(p.out, "! connection trouble: %v\n", st.Err)
	}
	fmt.Fprint(p.out, "> ")
}

// rosterSignature captures what the user actually sees. Last-seen
// times and running-timer seconds are deliberately left out.
func rosterSignature(st room.State) string {
	var b strings.Builder
	if st.Loading {
		b.WriteString("loading;")
	}
	if st.Err != nil {
		b.WriteString("err:" + st.Err.Error() + ";")
	}
	if st.Current != nil {
		fmt.Fprintf(&b, "you:%s:%s;", st.Current.ID, st.Current.DisplayStatus())
	}
	for i := range st.Roster {
		rec := &st.Roster[i]
		fmt.Fprintf(&b, "%s:%s:%s;", rec.ID, rec.Name, rec.DisplayStatus())
	}
	return b.String()
}

func statusLabel(s models.PresenceStatus) string {
	if s == models.StatusActive {
		return "studying"
	}
	return "idle"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
