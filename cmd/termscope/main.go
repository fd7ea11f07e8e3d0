package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/termscope/termscope"
	"github.com/termscope/termscope/internal/config"
	"github.com/termscope/termscope/internal/logging"
	"github.com/termscope/termscope/internal/recorder"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("termscope v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "watch":
			handleWatch(os.Args[2:])
			return
		case "probe":
			handleProbe(os.Args[2:])
			return
		case "history":
			handleHistory(os.Args[2:])
			return
		}
	}

	// No subcommand: watch stdin.
	handleWatch(os.Args[1:])
}

func printHelp() {
	fmt.Println(`termscope - CLI agent detection for terminal streams

Usage:
  termscope [watch] [flags]     Monitor a stream and print status changes
  termscope probe [flags]       Classify a stream without tracking state
  termscope history [flags]     Show recorded status transitions
  termscope version             Print version

Watch flags:
  -t <id>        Terminal ID to attribute the stream to (default "stdin")
  -f <file>      Read from a file instead of stdin
  -config <path> Config file (default ~/.termscope/termscope.toml)
  -input         Treat the stream as typed commands, not terminal output

History flags:
  -t <id>        Filter to one terminal
  -n <count>     Maximum rows (default 50)
  -config <path> Config file (recorder path comes from it)`)
}

func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config load failed, using defaults: %v\n", err)
		cfg = config.Default()
	}
	return cfg
}

func openStream(file string) (io.ReadCloser, error) {
	if file == "" {
		return os.Stdin, nil
	}
	return os.Open(file)
}

func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	terminalID := fs.String("t", "stdin", "terminal ID for the stream")
	file := fs.String("f", "", "read from a file instead of stdin")
	configPath := fs.String("config", "", "config file path")
	asInput := fs.Bool("input", false, "treat lines as typed commands")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logging.Init(cfg.LoggingConfig())
	defer logging.Shutdown()

	mon, err := termscope.New(termscope.Options{Config: cfg})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer mon.Close()

	mon.OnStatusChange(func(ev termscope.StatusEvent) {
		if ev.Type != "" {
			fmt.Printf("[%s] %s -> %s\n", ev.TerminalID, ev.Type, ev.Status)
		} else {
			fmt.Printf("[%s] -> %s\n", ev.TerminalID, ev.Status)
		}
	})
	mon.StartHeartbeat()

	stream, err := openStream(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	// Ctrl+C closes cleanly so the recorder checkpoints.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		mon.Close()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if *asInput {
			mon.DetectFromInput(*terminalID, line)
		} else {
			mon.DetectFromOutput(*terminalID, line+"\n")
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: read: %v\n", err)
		os.Exit(1)
	}

	st := mon.AgentState(*terminalID)
	fmt.Printf("final: [%s] %s", *terminalID, st.Status)
	if st.Type != "" {
		fmt.Printf(" (%s)", st.Type)
	}
	fmt.Println()
}

func handleProbe(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	terminalID := fs.String("t", "stdin", "terminal ID for the stream")
	file := fs.String("f", "", "read from a file instead of stdin")
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	cfg.Recorder.Enabled = false

	mon, err := termscope.New(termscope.Options{Config: cfg})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer mon.Close()

	stream, err := openStream(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read: %v\n", err)
		os.Exit(1)
	}

	term := mon.DetectTermination(*terminalID, string(data))
	if term.Terminated {
		fmt.Printf("termination: confidence %.2f, %s\n", term.Confidence, term.Reason)
		if term.Line != "" {
			fmt.Printf("line: %s\n", term.Line)
		}
	} else {
		fmt.Println("no termination detected")
	}
}

func handleHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	terminalID := fs.String("t", "", "filter to one terminal")
	limit := fs.Int("n", 50, "maximum rows")
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	path := cfg.Recorder.Path
	if path == "" {
		path = filepath.Join(filepath.Dir(config.DefaultPath()), "termscope.db")
	}

	rec, err := recorder.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rec.Close()

	rows, err := rec.RecentTransitions(*terminalID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("No transitions recorded.")
		return
	}
	for _, row := range rows {
		name := row.TerminalID
		if row.TerminalName != "" {
			name = fmt.Sprintf("%s (%s)", row.TerminalID, row.TerminalName)
		}
		fmt.Printf("%s  %-12s %-10s %s\n",
			row.RecordedAt.Format("2006-01-02 15:04:05"), row.Status, row.AgentType, name)
	}
}
