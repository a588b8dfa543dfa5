package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ProjectFile is the manifest every deployable project carries.
const ProjectFile = "conda-project.yml"

var alternativeFiles = []string{"README.md", "requirements.txt", "setup.py", "pyproject.toml"}

// Validation is the outcome of inspecting a project directory.
type Validation struct {
	Valid        bool     `json:"valid"`
	Path         string   `json:"project_path"`
	ProjectName  string   `json:"project_name,omitempty"`
	Version      string   `json:"project_version,omitempty"`
	Environments []string `json:"environments"`
	Channels     []string `json:"channels"`
	Issues       []string `json:"issues"`
	Warnings     []string `json:"warnings"`
	GitURL       string   `json:"git_url,omitempty"`
}

type manifest struct {
	Name         string         `yaml:"name"`
	Version      any            `yaml:"version"`
	Environments map[string]any `yaml:"environments"`
	Channels     []string       `yaml:"channels"`
}

// Validate checks that dir holds a parsable conda-project.yml.
func Validate(dir string) Validation {
	out := Validation{Environments: []string{}, Channels: []string{}, Issues: []string{}, Warnings: []string{}}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return out.fail(fmt.Sprintf("resolve project path: %v", err))
	}
	out.Path = abs

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return out.fail(fmt.Sprintf("project path does not exist: %s", abs))
	case err != nil:
		return out.fail(fmt.Sprintf("stat project path: %v", err))
	case !info.IsDir():
		return out.fail(fmt.Sprintf("project path is not a directory: %s", abs))
	}

	raw, err := os.ReadFile(filepath.Join(abs, ProjectFile))
	if errors.Is(err, fs.ErrNotExist) {
		return out.fail(fmt.Sprintf("no %s found in %s", ProjectFile, abs))
	}
	if err != nil {
		return out.fail(fmt.Sprintf("read %s: %v", ProjectFile, err))
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return out.fail(fmt.Sprintf("invalid YAML in %s: %v", ProjectFile, err))
	}

	out.Valid = true
	out.ProjectName = m.Name
	if m.Version != nil {
		out.Version = fmt.Sprint(m.Version)
	}
	for env := range m.Environments {
		out.Environments = append(out.Environments, env)
	}
	sort.Strings(out.Environments)
	if m.Channels != nil {
		out.Channels = m.Channels
	}

	if m.Name == "" {
		out.Warnings = append(out.Warnings, "project name not specified in "+ProjectFile)
	}
	if len(m.Environments) == 0 {
		out.Warnings = append(out.Warnings, "no environments defined in "+ProjectFile)
	}
	for _, name := range alternativeFiles {
		if _, err := os.Stat(filepath.Join(abs, name)); err == nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("found %s, consider using conda-project instead", name))
		}
	}
	return out
}

func (v Validation) fail(issue string) Validation {
	v.Valid = false
	v.Issues = append(v.Issues, issue)
	return v
}
