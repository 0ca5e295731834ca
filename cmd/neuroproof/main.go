// Command-line interface to the NeuroProof agglomeration engine.
// Runs configured agglomerations, serves them over HTTP, and checks graph files.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/pipeline"
	"github.com/janelia-flyem/NeuroProof-sub000/ragio"
	"github.com/janelia-flyem/NeuroProof-sub000/server"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Address for http communication, overriding any server config.
	httpAddress = flag.String("http", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Number of logical CPUs to use.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
neuroproof agglomerates region adjacency graphs of segmented EM volumes

Usage: neuroproof [options] <command>

      -http       =string   Address for HTTP communication, e.g., localhost:8000
      -cpuprofile =string   Write CPU profile to this file.
      -numcpu     =number   Number of logical CPUs to use.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	agglomerate <config.toml>     Run the configured pipeline and print its report.
	serve       [server.toml]     Serve agglomeration requests over HTTP.
	validate    <graph.json>      Check a graph interchange file.
	token       <server.toml> <user>
	                              Print a JWT for user signed with the server's key.
`

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() { fmt.Print(helpMessage) }
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *runVerbose {
		np.Verbose = true
		np.SetLogMode(np.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}
	if *useCPU > 0 {
		runtime.GOMAXPROCS(*useCPU)
	}

	// Cancel the running command on ctrl+c and other interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := DoCommand(ctx, np.Command(flag.Args()))
	np.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cmd np.Command) error {
	if len(cmd) == 0 {
		return fmt.Errorf("blank command")
	}
	switch cmd.Name() {
	case "about":
		fmt.Println(np.Describe())
		return nil
	case "agglomerate":
		return DoAgglomerate(ctx, cmd)
	case "serve":
		return DoServe(ctx, cmd)
	case "validate":
		return DoValidate(cmd)
	case "token":
		return DoToken(cmd)
	default:
		return fmt.Errorf("unknown command %q, see 'neuroproof help'", cmd.Name())
	}
}

// setLogging installs the configured logger, keeping debug output if -verbose
// was given.
func setLogging(c *np.LogConfig) {
	c.SetLogger()
	if *runVerbose {
		np.SetLogMode(np.DebugMode)
	}
}

// DoAgglomerate runs the pipeline described by a TOML config file.
func DoAgglomerate(ctx context.Context, cmd np.Command) error {
	var configPath string
	cmd.CommandArgs(&configPath)
	if configPath == "" {
		return fmt.Errorf("agglomerate command must be followed by the path to a TOML config")
	}
	cfg, err := pipeline.LoadConfig(configPath)
	if err != nil {
		return err
	}
	setLogging(&cfg.Logging)

	report, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// DoServe serves HTTP requests until interrupted.
func DoServe(ctx context.Context, cmd np.Command) error {
	var configPath string
	cmd.CommandArgs(&configPath)
	cfg := server.DefaultConfig()
	if configPath != "" {
		loaded, err := server.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if *httpAddress != "" {
		cfg.Server.Address = *httpAddress
	}
	setLogging(&cfg.Logging)
	np.Infof("Using %d of %d logical CPUs\n", runtime.GOMAXPROCS(0), runtime.NumCPU())

	s, err := server.New(cfg)
	if err != nil {
		return err
	}
	return s.ListenAndServe(ctx)
}

// DoValidate reads a graph interchange file and prints its size.
func DoValidate(cmd np.Command) error {
	var graphPath string
	cmd.CommandArgs(&graphPath)
	if graphPath == "" {
		return fmt.Errorf("validate command must be followed by the path to a graph file")
	}
	g, meta, err := ragio.ImportFile(graphPath)
	if err != nil {
		return err
	}
	if err := g.Check(); err != nil {
		return fmt.Errorf("graph %q is inconsistent: %v", graphPath, err)
	}
	version := meta.Version
	if version == "" {
		version = "legacy"
	}
	fmt.Printf("%s: version %s, %s nodes, %s edges\n", graphPath, version,
		np.Comma(g.NumNodes()), np.Comma(g.NumEdges()))
	return nil
}

// DoToken prints a token for the auth section of a server config.
func DoToken(cmd np.Command) error {
	var configPath, user string
	cmd.CommandArgs(&configPath, &user)
	if configPath == "" || user == "" {
		return fmt.Errorf("token command must be followed by a server config and a user name")
	}
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	token, err := server.GenerateJWT(cfg.Auth.SecretKey, user)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
