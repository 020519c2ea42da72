package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

// Commands.
const (
	CmdServe  = "serve"
	CmdWorker = "worker"
	CmdScan   = "scan"
)

// Args are the parsed command line.
type Args struct {
	Command string

	// ConfigPath is an optional YAML file layered over the defaults.
	ConfigPath string

	// EnvFiles are .env files loaded before reading ALOUETTE_* variables.
	EnvFiles []string

	// Addr overrides server.addr for serve.
	Addr string

	// NoWorkers makes serve handle HTTP only.
	NoWorkers bool

	// Target is the URL audited by scan.
	Target string

	// Email, when set, makes scan run the full audit and mail it there.
	Email string

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

var ErrUsage = errors.New("usage: alouette <serve|worker|scan> [flags]")

// ParseArgs parses a slice of args and returns Args. The function is
// deterministic and does not read os.Args.
func ParseArgs(args []string) (*Args, error) {
	if len(args) == 0 {
		return nil, ErrUsage
	}
	cmd := args[0]
	switch cmd {
	case CmdServe, CmdWorker, CmdScan:
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}

	fs := flag.NewFlagSet("alouette "+cmd, flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "YAML configuration file")
		envFiles   = fs.String("env", ".env", "Comma-separated .env files to load")
		addr       = fs.String("addr", "", "HTTP listen address (serve)")
		noWorkers  = fs.Bool("no-workers", false, "Do not consume jobs in the API process (serve)")
		target     = fs.String("url", "", "Site to audit (scan)")
		email      = fs.String("email", "", "Run the full audit and send the report to this address (scan)")
	)

	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	if cmd == CmdScan && strings.TrimSpace(*target) == "" {
		return nil, fmt.Errorf("missing required -url argument")
	}

	var files []string
	for _, f := range strings.Split(*envFiles, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}

	return &Args{
		Command:    cmd,
		ConfigPath: *configPath,
		EnvFiles:   files,
		Addr:       *addr,
		NoWorkers:  *noWorkers,
		Target:     *target,
		Email:      *email,
		RawArgs:    args,
	}, nil
}
