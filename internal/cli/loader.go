package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/pagegraph/internal/config"
	"github.com/roach88/pagegraph/internal/site"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeConfigInvalid = "E002" // Config file failed schema validation
	ErrCodeSiteInvalid   = "E003" // Site file could not be parsed or validated
	ErrCodeStoreFailed   = "E004" // State database could not be opened
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // One or more queries failed
	ErrCodeWriteFailed   = "E007" // Output directory could not be prepared

	// Template extraction errors
	ErrCodeTemplateSource  = "E201" // Template unreadable or query literal malformed
	ErrCodeTemplateGraphQL = "E202" // Query literal is not a valid query
)

// Project is a loaded site root: its config and site file.
type Project struct {
	// Root is the directory holding the config file. Relative paths in the
	// config resolve against it.
	Root   string
	Config config.Config
	Site   *site.Site
}

// Path resolves p against the project root.
func (p *Project) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.Root, rel)
}

// LoadError represents an error that occurred while loading a project.
type LoadError struct {
	Code    string
	Message string
	File    string
	Line    int
	Column  int
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.File, e.Line, e.Column, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadProject reads the config at configPath and the site file it names.
// A missing config file means defaults rooted at the config's directory;
// a missing site file is an error.
func LoadProject(configPath string) (*Project, error) {
	root := filepath.Dir(configPath)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("project directory not found: %s", root)}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		var ce *config.Error
		if errors.As(err, &ce) {
			return nil, &LoadError{
				Code:    ErrCodeConfigInvalid,
				Message: ce.Message,
				File:    ce.File,
				Line:    ce.Line,
				Column:  ce.Column,
			}
		}
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}

	p := &Project{Root: root, Config: cfg}
	sitePath := p.Path(cfg.Site)
	if _, err := os.Stat(sitePath); errors.Is(err, os.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("site file not found: %s", sitePath)}
	}
	p.Site, err = site.Load(sitePath)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSiteInvalid, Message: err.Error(), File: sitePath}
	}
	return p, nil
}

// loadErrorCode returns the code carried by err, or ErrCodeGeneric.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}
