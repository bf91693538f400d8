package main

import (
	"flag"
	"os"

	"grimm.is/luci/cmd"
	"grimm.is/luci/internal/brand"
	"grimm.is/luci/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := serveFlags.String("config", brand.GetConfigFile(), "Configuration file")
		serveFlags.StringVar(configFile, "c", brand.GetConfigFile(), "Configuration file (short)")
		listen := serveFlags.String("listen", "", "HTTP listen address (overrides config)")
		serveFlags.StringVar(listen, "l", "", "HTTP listen address (short)")
		serveFlags.Parse(os.Args[2:])

		if err := cmd.RunServe(*configFile, *listen); err != nil {
			printer.Fprintf(os.Stderr, "Serve failed: %v\n", err)
			os.Exit(1)
		}

	case "uci":
		if err := cmd.RunUCI(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "uci: %v\n", err)
			os.Exit(1)
		}

	case "call":
		if err := cmd.RunCall(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "Call failed: %v\n", err)
			os.Exit(1)
		}

	case "edit":
		if err := cmd.RunEdit(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "Edit failed: %v\n", err)
			os.Exit(1)
		}

	case "logread":
		if err := cmd.RunLogread(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "passwd":
		if err := cmd.RunPasswd(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "passwd: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		dir := brand.GetViewsDir()
		if len(checkFlags.Args()) > 0 {
			dir = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(dir, *verbose); err != nil {
			printer.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		printer.Printf("Commit: %s\n", brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf("%s - %s\n\n", brand.BinaryName, brand.Description)
	printer.Printf("Usage: %s <command> [options]\n\n", brand.BinaryName)
	printer.Println("Commands:")
	printer.Println("  serve [-c config] [-l addr]      Run the web interface and bus")
	printer.Println("  uci <command> [args]             Show and change UCI configuration")
	printer.Println("  call <object> <method> [json]    Call a bus method (-l lists objects)")
	printer.Println("  edit <view>                      Edit a form view in the terminal")
	printer.Println("  logread <view>                   Follow a log or status view")
	printer.Println("  passwd <user>                    Set a login password")
	printer.Println("  check [-v] [views-dir]           Validate view definitions")
	printer.Println("  version                          Print version information")
	printer.Println()
	printer.Printf("Commands that talk to the bus use the daemon socket when %s serve is\n", brand.BinaryName)
	printer.Println("running, a remote /ubus endpoint with -r, or an in-process bus otherwise.")
}
