package config

// fileConfig is the root YAML configuration structure.
type fileConfig struct {
	Pipeline     pipelineConfig               `yaml:"pipeline"`
	Environments map[string]environmentConfig `yaml:"environments"`
}

// pipelineConfig is the YAML configuration for the pipeline itself.
type pipelineConfig struct {
	Repo          string         `yaml:"repo"`
	Branch        string         `yaml:"branch"`
	WorkDir       string         `yaml:"work_dir"`
	Registry      registryConfig `yaml:"registry"`
	Tag           tagConfig      `yaml:"tag"`
	QA            qaConfig       `yaml:"qa"`
	TriggerSecret SecretRef      `yaml:"trigger_secret"`
}

type registryConfig struct {
	Host      string    `yaml:"host"`
	Namespace string    `yaml:"namespace"`
	Image     string    `yaml:"image"`
	Username  string    `yaml:"username"`
	Password  SecretRef `yaml:"password"`
}

type tagConfig struct {
	Policy string `yaml:"policy"`
	Fixed  string `yaml:"fixed"`
}

type qaConfig struct {
	Owner          string    `yaml:"owner"`
	Repo           string    `yaml:"repo"`
	Workflow       string    `yaml:"workflow"`
	Ref            string    `yaml:"ref"`
	TimeoutSeconds int       `yaml:"timeout_seconds"`
	Token          SecretRef `yaml:"token"`
}

type environmentConfig struct {
	Host        string `yaml:"host"`
	User        string `yaml:"user"`
	SSHKey      string `yaml:"ssh_key"`
	RemoteDir   string `yaml:"remote_dir"`
	EnvFile     string `yaml:"env_file"`
	ComposeFile string `yaml:"compose_file"`
}

// SecretRef names where a secret value comes from: an environment variable
// or a file. Exactly one source should be set. Secrets are resolved once at
// load time; nothing reads ambient state later.
type SecretRef struct {
	Env  string `yaml:"env"`
	File string `yaml:"file"`
}

// Registry is the validated registry configuration with resolved credentials.
type Registry struct {
	Host      string
	Namespace string
	Image     string
	Username  string
	Password  string
}

// TagPolicyBuildRevision tags images as {build_number}-{short_revision};
// TagPolicyFixed uses a fixed literal tag.
const (
	TagPolicyBuildRevision = "build-revision"
	TagPolicyFixed         = "fixed"
)

// Tag is the validated tagging configuration.
type Tag struct {
	Policy string
	Fixed  string
}

// QA is the validated QA gate configuration with a resolved token.
// A zero Owner means the gate is not configured.
type QA struct {
	Owner          string
	Repo           string
	Workflow       string
	Ref            string
	TimeoutSeconds int
	Token          string
}

// Environment is a validated deployment target. Instances are built once at
// load time and never mutated afterwards.
type Environment struct {
	Name        string
	Host        string
	User        string
	SSHKey      string
	RemoteDir   string
	EnvFile     string
	ComposeFile string
}

// Settings is the validated runtime configuration for a pipeline.
type Settings struct {
	Repo          string
	Branch        string
	WorkDir       string
	Registry      Registry
	Tag           Tag
	QA            QA
	TriggerSecret string

	environments map[string]*Environment
}
