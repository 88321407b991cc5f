// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anmitsu/go-shlex"
	"github.com/businessperformancetuning/segutil/cmd/segcollectord/sharedconfig"
	"github.com/businessperformancetuning/segutil/collector"
	"github.com/businessperformancetuning/segutil/database"
	"github.com/businessperformancetuning/segutil/database/postgres"
	"github.com/businessperformancetuning/segutil/parser"
	"github.com/businessperformancetuning/segutil/util"
	flags "github.com/jessevdk/go-flags"
)

const (
	appVersion = "1.0.0"

	defaultLogLevel    = "info"
	defaultLogFilename = "segcollectord.log"
	defaultDevice      = "/dev/sda4"
	defaultInterval    = 5 // seconds
	defaultCleaner     = "nilfs-clean"
	defaultLSSU        = "lssu"
	defaultSSHPort     = "22"
	defaultSSHKeyFile  = "~/.ssh/id_ed25519"
	defaultKnownHosts  = "~/.ssh/known_hosts"
)

func version() string {
	return appVersion
}

// config defines the configuration options for segcollectord.
//
// See loadConfig for details on the configuration load process.
type config struct {
	HomeDir     string `short:"A" long:"appdata" description:"Path to application home directory"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Sampling
	Device    string        `long:"device" description:"Block device of the log-structured filesystem"`
	Out       string        `short:"o" long:"out" description:"CSV dataset the samples are appended to"`
	Interval  uint          `long:"interval" description:"Seconds to sleep between sampling rounds"`
	Settle    time.Duration `long:"settle" description:"Delay between the cleaner pass and the status query"`
	Cleaner   string        `long:"cleaner" description:"Cleaner command, empty to skip the cleaner pass"`
	LSSU      string        `long:"lssu" description:"Segment status command, the device and -l are appended"`
	Overflow  string        `long:"overflow" description:"Policy for segments with more live blocks than blocks {reject, clamp, pass}"`
	UTC       bool          `long:"utc" description:"Record timestamps in UTC instead of local time"`
	BlockSize uint64        `long:"blocksize" description:"Bytes per block, used for round summaries"`

	// Remote execution
	SSHHost       string `long:"sshhost" description:"Run the cleaner and status commands on host[:port] over ssh"`
	SSHUser       string `long:"sshuser" description:"Remote ssh user"`
	SSHKeyFile    string `long:"sshid" description:"File containing the ssh identity"`
	SSHKnownHosts string `long:"sshknownhosts" description:"File containing the known ssh host keys"`

	// Database
	DBURI    string `long:"dburi" description:"Database URI, rounds are additionally inserted into postgres when set"`
	DBCreate bool   `long:"dbcreate" description:"Create database and exit, requires admin credentials on dburi"`

	// Metrics
	Metrics string `long:"metrics" description:"Serve prometheus metrics on this address, e.g. localhost:9120"`

	cleaner  []string
	status   []string
	overflow parser.Overflow
	location *time.Location
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = filepath.Dir(sharedconfig.DefaultHomeDir)
	}
	return util.CleanAndExpandPath(path, homeDir)
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// splitCommand splits a shell style command line into its arguments.
func splitCommand(command string) ([]string, error) {
	argv, err := shlex.Split(command, true)
	if err != nil {
		return nil, fmt.Errorf("invalid command %q: %w", command, err)
	}
	return argv, nil
}

// validate checks the sampling options and fills in the derived settings.
func (cfg *config) validate() error {
	if cfg.Device == "" {
		return errors.New("must provide a device")
	}
	if cfg.Out == "" {
		return errors.New("must provide an output dataset")
	}
	if cfg.Interval == 0 {
		return errors.New("interval must be at least one second")
	}
	if cfg.Settle < 0 {
		return errors.New("settle delay must not be negative")
	}

	var err error
	cfg.cleaner, err = splitCommand(cfg.Cleaner)
	if err != nil {
		return err
	}
	cfg.status, err = splitCommand(cfg.LSSU)
	if err != nil {
		return err
	}
	if len(cfg.status) == 0 {
		return errors.New("must provide a status command")
	}
	cfg.overflow, err = parser.ParseOverflow(cfg.Overflow)
	if err != nil {
		return err
	}

	cfg.location = time.Local
	if cfg.UTC {
		cfg.location = time.UTC
	}

	if cfg.SSHHost != "" {
		cfg.SSHHost = util.NormalizeAddress(cfg.SSHHost, defaultSSHPort)
		if cfg.SSHUser == "" {
			return errors.New("must provide an ssh user")
		}
		cfg.SSHKeyFile = cleanAndExpandPath(cfg.SSHKeyFile)
		cfg.SSHKnownHosts = cleanAndExpandPath(cfg.SSHKnownHosts)
	}

	return nil
}

// collectorConfig returns the collector settings.
func (cfg *config) collectorConfig() collector.Config {
	return collector.Config{
		Device:    cfg.Device,
		Interval:  time.Duration(cfg.Interval) * time.Second,
		Settle:    cfg.Settle,
		Cleaner:   cfg.cleaner,
		Status:    cfg.status,
		Overflow:  cfg.overflow,
		Location:  cfg.location,
		BlockSize: cfg.BlockSize,
	}
}

// defaultConfig returns a config with sane settings.
func defaultConfig() config {
	return config{
		HomeDir:       sharedconfig.DefaultHomeDir,
		ConfigFile:    sharedconfig.DefaultConfigFile,
		LogDir:        sharedconfig.DefaultLogDir,
		DebugLevel:    defaultLogLevel,
		Device:        defaultDevice,
		Out:           sharedconfig.DefaultDataFilename,
		Interval:      defaultInterval,
		Settle:        collector.DefaultSettle,
		Cleaner:       defaultCleaner,
		LSSU:          defaultLSSU,
		Overflow:      parser.OverflowReject.String(),
		BlockSize:     collector.DefaultBlockSize,
		SSHUser:       os.Getenv("USER"),
		SSHKeyFile:    defaultSSHKeyFile,
		SSHKnownHosts: defaultKnownHosts,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
//
// The above results in segcollectord functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Update the home directory if specified.  Since the home directory
	// is updated, other variables need to be updated to reflect the new
	// changes.
	if preCfg.HomeDir != "" {
		cfg.HomeDir, _ = filepath.Abs(preCfg.HomeDir)

		if preCfg.ConfigFile == sharedconfig.DefaultConfigFile {
			cfg.ConfigFile = filepath.Join(cfg.HomeDir,
				sharedconfig.DefaultConfigFilename)
		} else {
			cfg.ConfigFile = preCfg.ConfigFile
		}
		if preCfg.LogDir == sharedconfig.DefaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir,
				sharedconfig.DefaultLogDirname)
		} else {
			cfg.LogDir = preCfg.LogDir
		}
	}

	// Load additional config from file.
	var configFileError error
	cfgParser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(cfgParser).ParseFile(cfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := cfgParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Create the home directory if it doesn't already exist.
	funcName := "loadConfig"
	err = os.MkdirAll(cfg.HomeDir, 0700)
	if err != nil {
		// Show a nicer error message if it's because a symlink is
		// linked to a directory that does not exist (probably because
		// it's not mounted).
		if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
			if link, lerr := os.Readlink(e.Path); lerr == nil {
				str := "is symlink %s -> %s mounted?"
				err = fmt.Errorf(str, e.Path, link)
			}
		}

		str := "%s: Failed to create home directory: %v"
		err := fmt.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.Out = cleanAndExpandPath(cfg.Out)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.DBCreate {
		if cfg.DBURI == "" {
			err := fmt.Errorf("%s: must provide database URI",
				funcName)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		db, err := postgres.New(database.Name, cfg.DBURI)
		if err != nil {
			err := fmt.Errorf("%s: %v", funcName, err)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
		if err := db.Create(); err != nil {
			err := fmt.Errorf("%s: %v", funcName, err)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}

		// Always exit.
		os.Exit(0)
	}

	if err := cfg.validate(); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
