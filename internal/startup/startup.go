// Package startup loads configuration, validates the environment, and
// logs the service banner and route table.
package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/viper"

	"github.com/twiddli/happypanda/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration.
type Config struct {
	LibraryRoots []string
	DataDir      string
	Port         string

	ScanInterval     time.Duration
	WatchEnabled     bool
	DebounceDelay    time.Duration
	MaxDebounceDelay time.Duration

	MetricsEnabled  bool
	LogHealthChecks bool

	// Derived paths
	DatabasePath string
}

// LoadConfig reads happypanda.yaml (working directory, $HOME/.happypanda,
// /etc/happypanda) with HAPPYPANDA_* environment overrides, then validates
// the directories it names.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	v := viper.New()
	v.SetConfigName("happypanda")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.happypanda")
	v.AddConfigPath("/etc/happypanda")

	v.SetDefault("library.roots", []string{"./library"})
	v.SetDefault("data.dir", "./data")
	v.SetDefault("server.port", "8080")
	v.SetDefault("scan.interval", "30m")
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", "2s")
	v.SetDefault("watch.max_debounce", "30s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.health_checks", false)

	v.SetEnvPrefix("HAPPYPANDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logging.Info("No config file found, using defaults and environment")
	} else {
		logging.Info("Config file: %s", v.ConfigFileUsed())
	}

	config := &Config{
		LibraryRoots:     v.GetStringSlice("library.roots"),
		DataDir:          v.GetString("data.dir"),
		Port:             v.GetString("server.port"),
		ScanInterval:     v.GetDuration("scan.interval"),
		WatchEnabled:     v.GetBool("watch.enabled"),
		DebounceDelay:    v.GetDuration("watch.debounce"),
		MaxDebounceDelay: v.GetDuration("watch.max_debounce"),
		MetricsEnabled:   v.GetBool("metrics.enabled"),
		LogHealthChecks:  v.GetBool("log.health_checks"),
	}

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  library.roots:      %v", config.LibraryRoots)
	logging.Info("  data.dir:           %s", config.DataDir)
	logging.Info("  server.port:        %s", config.Port)
	logging.Info("  scan.interval:      %s", config.ScanInterval)
	logging.Info("  watch.enabled:      %v", config.WatchEnabled)
	logging.Info("  watch.debounce:     %s / %s max", config.DebounceDelay, config.MaxDebounceDelay)
	logging.Info("  metrics.enabled:    %v", config.MetricsEnabled)
	logging.Info("  log level:          %s", logging.GetLevel())
	logging.Info("")

	if len(config.LibraryRoots) == 0 {
		return nil, fmt.Errorf("no library roots configured")
	}
	if config.ScanInterval < 0 {
		return nil, fmt.Errorf("scan.interval must not be negative")
	}

	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY VALIDATION")
	logging.Info("------------------------------------------------------------")

	for _, root := range config.LibraryRoots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("library root %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("library root %s is not a directory", root)
		}
		logging.Info("  [OK] library root %s", root)
	}

	if err := ensureDirectory(config.DataDir, "data"); err != nil {
		return nil, fmt.Errorf("data directory %s: %w", config.DataDir, err)
	}
	if err := testWriteAccess(config.DataDir); err != nil {
		return nil, fmt.Errorf("data directory %s is not writable: %w", config.DataDir, err)
	}
	logging.Info("  [OK] data directory %s", config.DataDir)
	logging.Info("")

	config.DatabasePath = filepath.Join(config.DataDir, "happypanda.db")
	return config, nil
}

func printBanner() {
	banner := `
------------------------------------------------------------
    __  __                       ____                  __
   / / / /___ _____  ____  __  _/ __ \____ _____  ____/ /___ _
  / /_/ / __ '/ __ \/ __ \/ / / / /_/ / __ '/ __ \/ __  / __ '/
 / __  / /_/ / /_/ / /_/ / /_/ / ____/ /_/ / / / / /_/ / /_/ /
/_/ /_/\__,_/ .___/ .___/\__, /_/    \__,_/_/ /_/\__,_/\__,_/
           /_/   /_/    /____/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}
	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// GetRoutes walks a mux router and lists its routes.
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}
		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})
	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes.
func LogHTTPRoutes(router *mux.Router) {
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("error walking routes: %v", err)
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	logging.Info("  Registered routes (%d total):", len(routes))
	for _, route := range routes {
		logging.Info("    %-6s %s", route.Method, route.Path)
	}
	logging.Info("")
}

// LogServerStarted logs the final listening message.
func LogServerStarted(port string) {
	logging.Info("------------------------------------------------------------")
	logging.Info("HappyPanda listening on :%s", port)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownInitiated logs the beginning of graceful shutdown.
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("Received %s, shutting down gracefully...", signal)
}

// LogShutdownComplete logs the end of graceful shutdown.
func LogShutdownComplete() {
	logging.Info("Shutdown complete")
}
