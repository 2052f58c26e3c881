package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/missileglobe/globe-client/internal/config"
	"github.com/missileglobe/globe-client/internal/credstore"
	"github.com/missileglobe/globe-client/pkg/protocol"
)

const usage = `Usage: globe_client [flags] [command]

Commands:
  run                 connect and play (default)
  nations             list the nation catalog
  forget              clear the stored session
  schema [-out file]  write the protocol JSON schema
  version             print the version

Flags:
`

type globalOptions struct {
	configDir string
	nation    string
	logLevel  string
}

func parseGlobal(args []string, stderr io.Writer) (globalOptions, []string, error) {
	var opts globalOptions
	fs := flag.NewFlagSet(AppName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configDir, "config", ".", "directory containing "+config.FileName)
	fs.StringVar(&opts.nation, "nation", "", "nation to claim when no identity is stored")
	fs.StringVar(&opts.logLevel, "log-level", "", "override logLevel from the config")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	return opts, fs.Args(), nil
}

// run dispatches a command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	opts, rest, err := parseGlobal(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cmd := "run"
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "%s %s (%s)\n", AppName, CurrentVersion, BuildDate)
		return 0
	case "schema":
		return exitCode(stderr, writeSchema(rest, stdout, stderr))
	}

	rt, err := setupApp(opts, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer rt.close()

	switch cmd {
	case "run":
		err = runClient(rt, opts)
	case "nations":
		err = listNations(stdout)
	case "forget":
		err = forget(rt)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return 2
	}
	if err != nil {
		rt.logger.Error("Command failed", "command", cmd, "error", err)
	}
	return exitCode(stderr, err)
}

func exitCode(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintln(stderr, "error:", err)
	return 1
}

func writeSchema(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "output file (stdout when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := json.MarshalIndent(protocol.Schema(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	data = append(data, '\n')

	if *out == "" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(*out, data, 0644)
}

func listNations(stdout io.Writer) error {
	catalog, err := config.GetNations()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCAPITAL\tCOLOR\tCITIES")
	for _, n := range catalog.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", n.ID, n.Capital, n.Color, len(n.Cities))
	}
	return tw.Flush()
}

func forget(rt *app) error {
	cs, err := credstore.Open(config.GetString("credentials.path"), rt.dbLogger)
	if err != nil {
		return err
	}
	defer cs.Close()
	if err := cs.Clear(); err != nil {
		return err
	}
	rt.logger.Info("Stored session cleared")
	return nil
}
