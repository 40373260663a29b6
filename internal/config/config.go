// Package config resolves forge's configuration precedence (spec.md §6):
// command-line flags > environment > per-project config file > per-user
// config file > built-in defaults. Parsing the on-disk TOML config format
// is an external collaborator's job (spec.md §1 places manifest/config
// parsing out of scope); this package only merges already-typed values,
// grounded on the env-var-with-bounds-checking idiom in the teacher's
// cmd/orizon/pkg/utils/utils.go (GetConcurrencyLimit).
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Source tags where one resolved value ultimately came from, surfaced by
// `forge config get -v` style diagnostics.
type Source int

const (
	SourceDefault Source = iota
	SourceUserFile
	SourceProjectFile
	SourceEnv
	SourceFlag
)

func (s Source) String() string {
	switch s {
	case SourceUserFile:
		return "user config"
	case SourceProjectFile:
		return "project config"
	case SourceEnv:
		return "environment"
	case SourceFlag:
		return "command line"
	default:
		return "default"
	}
}

// Layer is one precedence tier's already-parsed values. A field's zero
// value ("" for strings, 0 for ints, false for bools) means "not set in
// this layer" and falls through to the next, except where a Resolve*
// function explicitly distinguishes "set to zero" via a pointer field.
type Layer struct {
	Jobs       int    // 0 = unset
	KeepGoing  *bool  // nil = unset
	Offline    *bool  // nil = unset
	RegistryURL string
	TargetDir  string
}

// Config is the fully merged, effective configuration.
type Config struct {
	Jobs        int
	KeepGoing   bool
	Offline     bool
	RegistryURL string
	TargetDir   string

	// Origin records, per field name, which Source ultimately won — used
	// only for diagnostics, never for behavior.
	Origin map[string]Source
}

const defaultRegistryURL = "https://index.example/"

// Resolve merges flag > env > project > user > defaults, per spec.md §6.
// Each Layer argument may be the zero Layer if that tier contributed
// nothing (e.g. no per-user config file exists).
func Resolve(flag, env, project, user Layer) Config {
	cfg := Config{
		Jobs:        runtime.GOMAXPROCS(0),
		KeepGoing:   false,
		Offline:     false,
		RegistryURL: defaultRegistryURL,
		TargetDir:   "target",
		Origin:      make(map[string]Source),
	}

	layers := []struct {
		l Layer
		s Source
	}{
		{user, SourceUserFile},
		{project, SourceProjectFile},
		{env, SourceEnv},
		{flag, SourceFlag},
	}

	for _, tier := range layers {
		if tier.l.Jobs != 0 {
			cfg.Jobs = clampJobs(tier.l.Jobs)
			cfg.Origin["jobs"] = tier.s
		}
		if tier.l.KeepGoing != nil {
			cfg.KeepGoing = *tier.l.KeepGoing
			cfg.Origin["keep_going"] = tier.s
		}
		if tier.l.Offline != nil {
			cfg.Offline = *tier.l.Offline
			cfg.Origin["offline"] = tier.s
		}
		if tier.l.RegistryURL != "" {
			cfg.RegistryURL = tier.l.RegistryURL
			cfg.Origin["registry_url"] = tier.s
		}
		if tier.l.TargetDir != "" {
			cfg.TargetDir = tier.l.TargetDir
			cfg.Origin["target_dir"] = tier.s
		}
	}

	return cfg
}

func clampJobs(n int) int {
	if n < 1 {
		return 1
	}
	if n > 1024 {
		return 1024
	}
	return n
}

// EnvLayer builds a Layer from forge's recognized environment variables,
// grounded on the teacher's GetConcurrencyLimit (os.Getenv + strconv.Atoi,
// with out-of-range values silently falling back rather than erroring).
func EnvLayer() Layer {
	var l Layer
	if v := strings.TrimSpace(os.Getenv("FORGE_JOBS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			l.Jobs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FORGE_KEEP_GOING")); v != "" {
		b := parseBool(v)
		l.KeepGoing = &b
	}
	if v := strings.TrimSpace(os.Getenv("FORGE_OFFLINE")); v != "" {
		b := parseBool(v)
		l.Offline = &b
	}
	if v := strings.TrimSpace(os.Getenv("FORGE_REGISTRY_URL")); v != "" {
		l.RegistryURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FORGE_TARGET_DIR")); v != "" {
		l.TargetDir = v
	}
	return l
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
