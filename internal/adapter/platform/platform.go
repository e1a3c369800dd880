package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 4173

	// ProjectFile is the optional per-project settings file in the root.
	ProjectFile = "devserve.yaml"
)

// FileConfig is the content of devserve.yaml.
type FileConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Replace    *bool  `yaml:"replace"`
	LiveReload *bool  `yaml:"live_reload"`
}

// Platform resolves settings for one project root from flags, the
// environment, the project file and defaults, in that order.
type Platform struct {
	root string
	file FileConfig
}

// New resolves root to an absolute path and loads its project file, if any.
func New(root string) (*Platform, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	file, err := LoadFile(filepath.Join(abs, ProjectFile))
	if err != nil {
		return nil, err
	}
	return &Platform{root: abs, file: file}, nil
}

// LoadFile reads a project file. A missing file yields the zero config.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	if fc.Port < 0 || fc.Port > 65535 {
		return fc, fmt.Errorf("parse %s: port %d out of range", path, fc.Port)
	}
	return fc, nil
}

// Root returns the absolute project root.
func (p *Platform) Root() string {
	return p.root
}

// ResolveHost returns the bind host, checking flag, HOST env, file, then
// default. A bracketed IPv6 literal such as "[::]" is returned bare.
func (p *Platform) ResolveHost(flagValue string) string {
	host := DefaultHost
	switch {
	case flagValue != "":
		host = flagValue
	case os.Getenv("HOST") != "":
		host = os.Getenv("HOST")
	case p.file.Host != "":
		host = p.file.Host
	}
	return StripBrackets(host)
}

// StripBrackets removes the brackets around an IPv6 literal.
func StripBrackets(host string) string {
	if len(host) > 1 && strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host[1 : len(host)-1]
	}
	return host
}

// ResolvePort returns the starting port and whether it was requested
// explicitly. flagValue is nil when --port was not given. Only the flag and
// the PORT env count as explicit; a port in the project file is a preference
// that still allows negotiation and retry. An explicit 0 asks the system for
// any free port.
func (p *Platform) ResolvePort(flagValue *int) (port int, explicit bool, err error) {
	if flagValue != nil {
		if *flagValue < 0 || *flagValue > 65535 {
			return 0, false, fmt.Errorf("invalid --port %d", *flagValue)
		}
		return *flagValue, true, nil
	}
	if v := os.Getenv("PORT"); v != "" {
		n, convErr := strconv.Atoi(strings.TrimSpace(v))
		if convErr != nil || n < 0 || n > 65535 {
			return 0, false, fmt.Errorf("invalid PORT %q", v)
		}
		return n, true, nil
	}
	if p.file.Port > 0 {
		return p.file.Port, false, nil
	}
	return DefaultPort, false, nil
}

// ReplaceEnabled reports whether a previous instance for the root should be
// asked to shut down. DEV_SERVER_REPLACE=0 disables it.
func (p *Platform) ReplaceEnabled(disableFlag bool) bool {
	if disableFlag {
		return false
	}
	if v := os.Getenv("DEV_SERVER_REPLACE"); v != "" {
		return v != "0"
	}
	if p.file.Replace != nil {
		return *p.file.Replace
	}
	return true
}

// LiveReloadEnabled reports whether pages get live reload. LIVE_RELOAD=0
// disables it.
func (p *Platform) LiveReloadEnabled(disableFlag bool) bool {
	if disableFlag {
		return false
	}
	if v := os.Getenv("LIVE_RELOAD"); v != "" {
		return v != "0"
	}
	if p.file.LiveReload != nil {
		return *p.file.LiveReload
	}
	return true
}

// ResolveStateDir returns the directory holding instance records, checking
// flag, DEVSERVE_STATE_DIR env, then the system temp dir.
func (p *Platform) ResolveStateDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("DEVSERVE_STATE_DIR"); v != "" {
		return v
	}
	return os.TempDir()
}
