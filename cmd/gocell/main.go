package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"gocell/internal/codec"
	"gocell/internal/config"
	"gocell/internal/engine"
	"gocell/internal/lang"
	"gocell/internal/log"
	"gocell/internal/value"
)

const usage = `usage: gocell [-config=<path>] [-format=<name>] [-log=<level>] <command> [<args>]

Configuration flags:

   -config     YAML config file with workers, block size, call depth, log level and connectors.
   -format     Output format of results: text, yaml or binary. Defaults to text.
   -log        Log level: debug, info, error or crit. Overrides the config file.
   -workers    Number of fork workers. Overrides the config file.

Commands:
   run         Run a program file: run [-cellset=<name>] [-collect] <file> [<args>]
               Arguments are bound to the cellset parameters in order.
   check       Load a program file and list its cellsets and reference cycles
   repl        Evaluate cells interactively
   help        Display this help message
`

var (
	configFlag  = flag.String("config", "", "config file path")
	formatFlag  = flag.String("format", "text", "result output format")
	levelFlag   = flag.String("log", "", "log level")
	workersFlag = flag.Int("workers", 0, "fork workers")
)

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	stdlog.SetFlags(0)
	log.Root = &log.Default{Level: log.ParseLevel(*levelFlag)}
	args := flag.Args()
	if len(args) == 0 {
		stdlog.Printf("missing command\n\n")
		fmt.Print(usage)
		os.Exit(2)
	}

	var err error
	switch cmd := args[0]; cmd {
	case "run":
		err = run(args[1:])
	case "check":
		err = check(args[1:])
	case "repl":
		err = repl(args[1:])
	case "help":
		fmt.Print(usage)
	default:
		stdlog.Printf("unknown command: %s\n\n", cmd)
		fmt.Print(usage)
		os.Exit(2)
	}
	if err != nil {
		msg := err.Error()
		if *levelFlag == "debug" {
			msg = fmt.Sprintf("%+v", err)
		}
		log.Root.Crit("command failed", "command", args[0], "err", msg)
		os.Exit(1)
	}
}

// start loads the config, applies flag overrides and starts an engine.
func start() (*engine.Engine, error) {
	cfg, err := config.Load(*configFlag)
	if err != nil {
		return nil, err
	}
	if *levelFlag != "" {
		cfg.LogLevel = *levelFlag
	}
	if *workersFlag > 0 {
		cfg.Workers = *workersFlag
	}
	log.Root = &log.Default{Level: log.ParseLevel(cfg.LogLevel)}

	eng := engine.New(cfg)
	if err := eng.Start(); err != nil {
		return nil, err
	}
	return eng, nil
}

func run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	name := fs.String("cellset", "", "cellset to run; main by default")
	collect := fs.Bool("collect", false, "collect the value of every return")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("run: missing program file")
	}

	eng, err := start()
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	path := fs.Arg(0)
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	prog, err := eng.Load(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), string(src))
	if err != nil {
		return err
	}
	params := make([]value.Value, 0, fs.NArg()-1)
	for _, a := range fs.Args()[1:] {
		params = append(params, lang.ParseConst(a))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	invoke := eng.Invoke
	if *collect {
		invoke = eng.Collect
	}
	v, err := invoke(ctx, prog, *name, params)
	if err != nil {
		return err
	}
	return output(ctx, v)
}

// output writes v to stdout in the chosen format. A cursor result is read to the end.
func output(ctx context.Context, v value.Value) error {
	s, err := codec.ByName(*formatFlag)
	if err != nil {
		return err
	}
	if v.Kind == value.KindCursor {
		t, err := v.Cur.Fetch(ctx, 0)
		if err != nil {
			return err
		}
		v = value.Tab(t)
	}
	return s.Encode(os.Stdout, v)
}

func check(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("check: missing program file")
	}
	src, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	eng := engine.New(config.Default())
	prog, err := eng.Load(filepath.Base(args[0]), string(src))
	if err != nil {
		return err
	}
	for _, n := range prog.Names() {
		cs, _ := prog.Cellset(n)
		fmt.Printf("%s(%s)\t%d cells\n", n, strings.Join(cs.Params(), ", "), cs.Len())
		for _, cycle := range cs.Cycles() {
			cells := make([]string, len(cycle))
			for i, c := range cycle {
				cells[i] = c.String()
			}
			fmt.Printf("\tcycle: %s\n", strings.Join(cells, " -> "))
		}
	}
	return nil
}
