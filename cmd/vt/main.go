// Command vt is the forward mode of vibetunnel: it spawns a command
// tied to the current TTY, records it under the shared control root
// so a co-resident vibetunneld can observe and attach to it, forwards
// stdin/stdout directly, and installs a control pipe so the daemon
// can resize or kill it externally.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vibetunnel-go/vibetunneld/internal/inputchan"
	"github.com/vibetunnel-go/vibetunneld/internal/logger"
	"github.com/vibetunnel-go/vibetunneld/internal/ptysvc"
	"github.com/vibetunnel-go/vibetunneld/internal/recorder"
	"github.com/vibetunnel-go/vibetunneld/internal/session"
	"github.com/vibetunnel-go/vibetunneld/internal/streamwatch"
)

func main() {
	var name string
	var controlPath string

	root := &cobra.Command{
		Use:                "vt -- command [args...]",
		Short:              "run a command in a recorded, daemon-visible PTY session",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forward(args, name, controlPath)
		},
	}
	root.Flags().StringVar(&name, "name", "", "session name, defaults to the command line")
	root.Flags().StringVar(&controlPath, "control-path", os.Getenv("VT_CONTROL_PATH"), "session control root, defaults to ~/.vibetunnel/control")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vt: %v\n", err)
		os.Exit(1)
	}
}

func forward(argv []string, name, controlPath string) error {
	if err := logger.Init(os.Getenv("VT_LOG_LEVEL"), ""); err != nil {
		return err
	}

	if controlPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("vt: resolve home directory: %w", err)
		}
		controlPath = home + "/.vibetunnel/control"
	}

	store, err := session.NewStore(controlPath)
	if err != nil {
		return fmt.Errorf("vt: open session store: %w", err)
	}
	bus := session.NewBus()
	supervisor := ptysvc.NewSupervisor(store, bus)
	streams := streamwatch.NewManager()

	cols, rows := session.DefaultCols, session.DefaultRows
	fd := int(os.Stdin.Fd())
	isTerminal := term.IsTerminal(fd)
	if isTerminal {
		if w, h, err := term.GetSize(fd); err == nil {
			cols, rows = w, h
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	if name == "" {
		name = strings.Join(argv, " ")
	}

	info, err := supervisor.Create(argv, ptysvc.Options{
		Name:       name,
		WorkingDir: cwd,
		Cols:       cols,
		Rows:       rows,
	})
	if err != nil {
		return fmt.Errorf("vt: spawn session: %w", err)
	}

	var oldState *term.State
	if isTerminal {
		oldState, err = term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	paths := store.Paths(info.ID)
	controlWatcher, err := inputchan.WatchControlFile(paths.Control, func(msg inputchan.ControlMessage) {
		dispatchControlMessage(supervisor, info.ID, msg)
	})
	if err == nil {
		defer controlWatcher.Close()
	} else {
		logger.Warn("vt: control pipe unavailable", "session", info.ID, "err", err)
	}

	if isTerminal {
		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer signal.Stop(winch)
		go func() {
			for range winch {
				if w, h, err := term.GetSize(fd); err == nil {
					supervisor.TerminalResize(info.ID, w, h)
				}
			}
		}()
	}

	go forwardStdin(supervisor, info.ID)

	paths = store.Paths(info.ID)
	frames, unsub, err := streams.Subscribe(info.ID, paths.Recording)
	if err != nil {
		return fmt.Errorf("vt: subscribe to own output: %w", err)
	}
	defer unsub()

	for frame := range frames {
		if frame.Type == recorder.EventOutput {
			os.Stdout.Write(recorder.DecodeBytes(frame.Data))
		}
	}

	return exitWithSessionCode(store, info.ID)
}

func exitWithSessionCode(store *session.Store, id string) error {
	info, err := store.Get(id)
	if err != nil {
		return err
	}
	code := 0
	if info.ExitCode != nil {
		code = *info.ExitCode
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

func dispatchControlMessage(supervisor *ptysvc.Supervisor, id string, msg inputchan.ControlMessage) {
	switch msg.Cmd {
	case "resize":
		supervisor.Resize(id, msg.Cols, msg.Rows)
	case "reset-size":
		if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
			supervisor.TerminalResize(id, w, h)
		}
	case "kill":
		sig := ptysvc.SIGTERM
		if n, ok := msg.Signal.(float64); ok {
			sig = int(n)
		}
		supervisor.Kill(id, sig)
	}
}

func forwardStdin(supervisor *ptysvc.Supervisor, id string) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			supervisor.SendInput(id, string(buf[:n]), "")
		}
		if err != nil {
			return
		}
	}
}
