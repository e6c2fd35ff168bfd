// sfcheck - Salesforce metadata pre-deployment checker
//
// Commands:
//   --version        Show version information
//   --config <path>  Use specific config file
//   scan             Run metadata checks
//   verify           Apply gating to the latest scan
//   doctor           Run prerequisite checks

package main

import (
	"errors"
	"fmt"
	"os"

	cfgpkg "github.com/sfops/sfcheck/internal/config"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
)

// Global config
var config *cfgpkg.Config
var configPath string

func main() {
	args := os.Args[1:]
	configFlag := ""
	verifyCertPath := ""
	watchPath := ""
	rootFlag := ""
	fixDryRun := false
	fixApply := false
	rollbackLatest := false
	rollbackTo := ""
	filteredArgs := []string{}

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			configFlag = args[i+1]
			i++
		case args[i] == "--verify-cert" && i+1 < len(args):
			verifyCertPath = args[i+1]
			i++
		case args[i] == "--root" && i+1 < len(args):
			rootFlag = args[i+1]
			i++
		case args[i] == "--watch" && i+1 < len(args):
			watchPath = args[i+1]
			i++
		case args[i] == "--dry-run":
			fixDryRun = true
		case args[i] == "--apply":
			fixApply = true
		case args[i] == "--latest-green":
			rollbackLatest = true
		case args[i] == "--to" && i+1 < len(args):
			rollbackTo = args[i+1]
			i++
		default:
			filteredArgs = append(filteredArgs, args[i])
		}
	}

	// Load config (defaults + optional override)
	if configFlag != "" {
		if _, err := os.Stat(configFlag); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "ERROR: Config not found: %s\n", configFlag)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "ERROR: Config stat failed: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, cfgPath, warnings, err := cfgpkg.Resolve(cfgpkg.Flags{ConfigPath: configFlag})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Config load failed: %v\n", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}
	config = &cfg
	configPath = cfgPath
	if rootFlag != "" {
		config.Paths.WorkspaceRoot = rootFlag
	}
	loadScanOverrides(config.Paths.WorkspaceRoot)

	if verifyCertPath != "" {
		runVerifyCert(verifyCertPath)
		return
	}

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]

	switch cmd {
	case "--version", "-v", "version":
		fmt.Printf("sfcheck v%s (built %s)\n", Version, BuildDate)
		if configPath != "" {
			fmt.Printf("Config: %s\n", configPath)
		}

	case "scan":
		runScan()

	case "verify":
		runVerify()

	case "watch":
		runWatch(watchPath)

	case "fix":
		if !fixDryRun && !fixApply {
			fmt.Fprintln(os.Stderr, "Usage: sfcheck fix --dry-run | --apply")
			os.Exit(1)
		}
		runFix(fixDryRun)

	case "rollback":
		if rollbackLatest {
			runRollbackLatest()
			return
		}
		if rollbackTo != "" {
			runRollbackTo(rollbackTo)
			return
		}
		fmt.Fprintln(os.Stderr, "Usage: sfcheck rollback --latest-green OR rollback --to <UTC_YYYYMMDD_HHMMSS>")
		os.Exit(1)

	case "support-bundle":
		root := ""
		if len(filteredArgs) > 1 {
			root = filteredArgs[1]
		}
		runSupportBundle(root)

	case "doctor":
		runDoctor()

	case "analyze-trigger":
		if len(filteredArgs) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: sfcheck analyze-trigger <TriggerName|path/to/Trigger.trigger>")
			os.Exit(1)
		}
		runAnalyzeTrigger(filteredArgs[1])

	case "--help", "-h", "help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`sfcheck - Salesforce metadata pre-deployment checker

Usage:
  sfcheck --version                        Show version information
  sfcheck --config <path>                  Use specific config file (optional override)
  sfcheck --root <path>                    Override workspace root
  sfcheck --verify-cert <path>             Verify a signed certificate

  sfcheck scan                             Run metadata checks
  sfcheck verify                           Apply gating to the latest scan
  sfcheck watch [--watch <path>]           Watch and rescan on changes
  sfcheck fix --dry-run|--apply            Apply mechanical metadata fixes
  sfcheck rollback --latest-green | --to <timestamp>
  sfcheck support-bundle [repoRoot]        Create support bundle zip
  sfcheck doctor                           Run prerequisite checks
  sfcheck analyze-trigger <name>           Analyze a trigger for anti-patterns
  sfcheck --help                           Show this help message

Config Source:
  - Built-in defaults (no external file required)
  - Optional override via --config <path>
  - Gating thresholds from .sfcheck/config.yml`)
}
