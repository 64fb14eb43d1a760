package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/veesix-networks/dpsync/api/show"
	"google.golang.org/grpc/status"
)

const shellHelp = `Commands:
  show dplane ports [PORT] [detail] [json]   Show mirrored dataplane ports
  help                                        Show this help
  exit | quit                                 Leave the shell
`

var errExit = errors.New("exit")

func runShell(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dpsync> ",
		HistoryFile:     os.ExpandEnv("$HOME/.dpsynccli_history"),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	return withClient(func(c *show.Client) error {
		fmt.Fprintf(rl.Stdout(), "Connected to: %s\nType 'help' for available commands\n", serverAddr)

		for {
			line, err := rl.Readline()
			if err != nil {
				if err == readline.ErrInterrupt {
					if len(line) == 0 {
						return nil
					}
					continue
				} else if err == io.EOF {
					return nil
				}
				return err
			}

			err = execLine(ctx, c, rl.Stdout(), line)
			if errors.Is(err, errExit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(rl.Stderr(), "Error: %s\n", errorMessage(err))
			}
		}
	})
}

func execLine(ctx context.Context, c *show.Client, w io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "exit", "quit":
		return errExit
	case "help", "?":
		fmt.Fprint(w, shellHelp)
		return nil
	}

	req, err := parseShowPorts(fields)
	if err != nil {
		return err
	}
	out, err := showPorts(ctx, c, req)
	if err != nil {
		return err
	}
	fmt.Fprint(w, out)
	return nil
}

// parseShowPorts parses "show dplane ports [PORT] [detail] [json]".
func parseShowPorts(fields []string) (show.PortsRequest, error) {
	var req show.PortsRequest
	if len(fields) < 3 || fields[0] != "show" || fields[1] != "dplane" || fields[2] != "ports" {
		return req, fmt.Errorf("unknown command %q, type 'help'", strings.Join(fields, " "))
	}

	for i, f := range fields[3:] {
		switch f {
		case "detail":
			req.Detail = true
		case "json":
			req.JSON = true
		default:
			if i != 0 {
				return req, fmt.Errorf("unexpected argument %q", f)
			}
			port, err := parsePort(f)
			if err != nil {
				return req, err
			}
			req.Port = port
		}
	}
	return req, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("show",
			readline.PcItem("dplane",
				readline.PcItem("ports",
					readline.PcItem("detail"),
					readline.PcItem("json"),
				),
			),
		),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func errorMessage(err error) string {
	if st, ok := status.FromError(err); ok {
		return st.Message()
	}
	return err.Error()
}
