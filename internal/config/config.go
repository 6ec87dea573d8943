package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBranch    = "main"
	DefaultQATimeout = 1800

	MinSecretLength = 32
)

// EnvDev and EnvProd are the only recognized target environments.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// ErrConfigMissing indicates a required variable, file, or secret is absent.
// All such failures surface before any remote step runs.
var ErrConfigMissing = errors.New("required configuration missing")

// Load reads and validates the configuration from a YAML file.
// Secrets named by SecretRefs are resolved here, once, so that nothing
// downstream performs ambient environment lookups.
func Load(configPath string) (*Settings, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	var problems []string

	p := fc.Pipeline
	if p.Repo == "" {
		problems = append(problems, "  - pipeline: missing required 'repo' field")
	}
	if p.WorkDir == "" {
		problems = append(problems, "  - pipeline: missing required 'work_dir' field")
	} else if !filepath.IsAbs(p.WorkDir) {
		problems = append(problems, fmt.Sprintf("  - pipeline: work_dir must be absolute, got '%s'", p.WorkDir))
	}
	if p.Registry.Host == "" {
		problems = append(problems, "  - pipeline: missing required 'registry.host' field")
	}
	if p.Registry.Image == "" {
		problems = append(problems, "  - pipeline: missing required 'registry.image' field")
	}
	if p.Registry.Username == "" {
		problems = append(problems, "  - pipeline: missing required 'registry.username' field")
	}

	switch p.Tag.Policy {
	case "", TagPolicyBuildRevision:
		// build-revision is the default
	case TagPolicyFixed:
		if p.Tag.Fixed == "" {
			problems = append(problems, "  - pipeline: tag policy 'fixed' requires a 'fixed' tag value")
		}
	default:
		problems = append(problems, fmt.Sprintf("  - pipeline: unknown tag policy '%s' (must be '%s' or '%s')",
			p.Tag.Policy, TagPolicyBuildRevision, TagPolicyFixed))
	}

	if p.QA.Owner != "" {
		if p.QA.Repo == "" {
			problems = append(problems, "  - pipeline: qa requires 'repo' when 'owner' is set")
		}
		if p.QA.Workflow == "" {
			problems = append(problems, "  - pipeline: qa requires 'workflow' when 'owner' is set")
		}
	}

	for name, ec := range fc.Environments {
		problems = append(problems, validateEnvironment(name, ec)...)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}

	password, err := resolveSecret("registry.password", p.Registry.Password)
	if err != nil {
		return nil, err
	}

	settings := &Settings{
		Repo:    p.Repo,
		Branch:  p.Branch,
		WorkDir: p.WorkDir,
		Registry: Registry{
			Host:      p.Registry.Host,
			Namespace: p.Registry.Namespace,
			Image:     p.Registry.Image,
			Username:  p.Registry.Username,
			Password:  password,
		},
		Tag:          Tag{Policy: p.Tag.Policy, Fixed: p.Tag.Fixed},
		environments: make(map[string]*Environment, len(fc.Environments)),
	}
	if settings.Branch == "" {
		settings.Branch = DefaultBranch
	}
	if settings.Tag.Policy == "" {
		settings.Tag.Policy = TagPolicyBuildRevision
	}

	if p.QA.Owner != "" {
		token, err := resolveSecret("qa.token", p.QA.Token)
		if err != nil {
			return nil, err
		}
		settings.QA = QA{
			Owner:          p.QA.Owner,
			Repo:           p.QA.Repo,
			Workflow:       p.QA.Workflow,
			Ref:            p.QA.Ref,
			TimeoutSeconds: p.QA.TimeoutSeconds,
			Token:          token,
		}
		if settings.QA.Ref == "" {
			settings.QA.Ref = settings.Branch
		}
		if settings.QA.TimeoutSeconds == 0 {
			settings.QA.TimeoutSeconds = DefaultQATimeout
		}
	}

	if p.TriggerSecret.Env != "" || p.TriggerSecret.File != "" {
		secret, err := resolveSecret("trigger_secret", p.TriggerSecret)
		if err != nil {
			return nil, err
		}
		if len(secret) < MinSecretLength {
			return nil, fmt.Errorf("trigger_secret too short (minimum %d characters)", MinSecretLength)
		}
		settings.TriggerSecret = secret
	}

	for name, ec := range fc.Environments {
		settings.environments[name] = &Environment{
			Name:        name,
			Host:        ec.Host,
			User:        ec.User,
			SSHKey:      ec.SSHKey,
			RemoteDir:   ec.RemoteDir,
			EnvFile:     ec.EnvFile,
			ComposeFile: ec.ComposeFile,
		}
	}

	return settings, nil
}

// validateEnvironment validates a single environment configuration.
func validateEnvironment(name string, ec environmentConfig) []string {
	var problems []string

	if name != EnvDev && name != EnvProd {
		problems = append(problems, fmt.Sprintf("  - environment '%s': unknown environment (must be '%s' or '%s')",
			name, EnvDev, EnvProd))
	}
	if ec.Host == "" {
		problems = append(problems, fmt.Sprintf("  - environment '%s': missing required 'host' field", name))
	}
	if ec.User == "" {
		problems = append(problems, fmt.Sprintf("  - environment '%s': missing required 'user' field", name))
	}
	if ec.RemoteDir == "" {
		problems = append(problems, fmt.Sprintf("  - environment '%s': missing required 'remote_dir' field", name))
	} else if !strings.HasPrefix(ec.RemoteDir, "/") {
		problems = append(problems, fmt.Sprintf("  - environment '%s': remote_dir must be absolute, got '%s'", name, ec.RemoteDir))
	}
	if ec.EnvFile == "" {
		problems = append(problems, fmt.Sprintf("  - environment '%s': missing required 'env_file' field", name))
	}
	if ec.ComposeFile == "" {
		problems = append(problems, fmt.Sprintf("  - environment '%s': missing required 'compose_file' field", name))
	}

	return problems
}

// Resolve returns the named target environment.
func (s *Settings) Resolve(name string) (*Environment, error) {
	env, ok := s.environments[name]
	if !ok {
		return nil, fmt.Errorf("%w: environment '%s' not configured", ErrConfigMissing, name)
	}
	return env, nil
}

// Environments returns the configured environment names.
func (s *Settings) Environments() []string {
	names := make([]string, 0, len(s.environments))
	for name := range s.environments {
		names = append(names, name)
	}
	return names
}

// resolveSecret fetches the secret value a SecretRef points at.
func resolveSecret(what string, ref SecretRef) (string, error) {
	switch {
	case ref.Env != "":
		value := os.Getenv(ref.Env)
		if value == "" {
			return "", fmt.Errorf("%w: %s: environment variable %s is not set", ErrConfigMissing, what, ref.Env)
		}
		return value, nil
	case ref.File != "":
		data, err := os.ReadFile(ref.File)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrConfigMissing, what, err)
		}
		value := strings.TrimSpace(string(data))
		if value == "" {
			return "", fmt.Errorf("%w: %s: secret file %s is empty", ErrConfigMissing, what, ref.File)
		}
		return value, nil
	default:
		return "", fmt.Errorf("%w: %s: no secret source configured", ErrConfigMissing, what)
	}
}

// SearchPaths looks for a file in multiple locations and returns the first
// that exists, or empty string if none do.
func SearchPaths(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// DefaultPaths returns the standard config search order for a filename:
// current directory, ./config, then the system-wide location.
func DefaultPaths(filename string) []string {
	return []string{
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
		filepath.Join("/etc/convoy", filename),
	}
}
