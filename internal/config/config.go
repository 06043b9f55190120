// Package config loads pagegraph.cue. The file is unified with an embedded
// schema that supplies every default, so an empty file is a valid config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// FileName is the config file looked up in the site root.
const FileName = "pagegraph.cue"

//go:embed schema.cue
var schemaSource []byte

// Config is the decoded configuration.
type Config struct {
	Concurrency          int     `json:"concurrency"`
	LongRunningThreshold string  `json:"longRunningThreshold"`
	OutputDir            string  `json:"outputDir"`
	Database             string  `json:"database"`
	Site                 string  `json:"site"`
	Develop              Develop `json:"develop"`
}

// Develop holds settings that only apply to the develop server.
type Develop struct {
	Addr         string   `json:"addr"`
	AlwaysRun    []string `json:"alwaysRun"`
	BatchWindow  string   `json:"batchWindow"`
	PollInterval string   `json:"pollInterval"`
}

// LongRunning parses LongRunningThreshold.
func (c Config) LongRunning() (time.Duration, error) {
	d, err := time.ParseDuration(c.LongRunningThreshold)
	if err != nil {
		return 0, fmt.Errorf("longRunningThreshold: %w", err)
	}
	return d, nil
}

// Window parses BatchWindow.
func (d Develop) Window() (time.Duration, error) {
	w, err := time.ParseDuration(d.BatchWindow)
	if err != nil {
		return 0, fmt.Errorf("develop.batchWindow: %w", err)
	}
	return w, nil
}

// Poll parses PollInterval. Zero disables template polling.
func (d Develop) Poll() (time.Duration, error) {
	p, err := time.ParseDuration(d.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("develop.pollInterval: %w", err)
	}
	return p, nil
}

// Error is a config problem with its source position when CUE reports one.
type Error struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// Default returns the configuration of an empty file.
func Default() Config {
	cfg, err := Parse("default", nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema is invalid: %v", err))
	}
	return cfg
}

// Load reads path. A missing file yields Default.
func Load(path string) (Config, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, src)
}

// Parse unifies src with the schema and decodes the result.
func Parse(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, convert("schema.cue", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return Config{}, convert(filename, err)
	}

	merged := def.Unify(value)
	if err := merged.Validate(); err != nil {
		return Config{}, convert(filename, err)
	}

	var cfg Config
	if err := merged.Decode(&cfg); err != nil {
		return Config{}, convert(filename, err)
	}
	for _, check := range []func() (time.Duration, error){cfg.LongRunning, cfg.Develop.Window, cfg.Develop.Poll} {
		if _, err := check(); err != nil {
			return Config{}, &Error{File: filename, Message: err.Error()}
		}
	}
	return cfg, nil
}

// convert reports the first CUE error with its position.
func convert(filename string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{File: filename, Message: err.Error()}
	}
	first := errs[0]
	out := &Error{File: filename, Message: first.Error()}
	if pos := first.Position(); pos.IsValid() {
		out.File = pos.Filename()
		out.Line = pos.Line()
		out.Column = pos.Column()
		format, args := first.Msg()
		out.Message = fmt.Sprintf(format, args...)
		if path := first.Path(); len(path) > 0 {
			out.Message = strings.Join(path, ".") + ": " + out.Message
		}
	}
	return out
}
