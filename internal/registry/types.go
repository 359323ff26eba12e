package registry

// InstallationMethod is one alternative way to install a package, in
// registry preference order.
type InstallationMethod struct {
	Type        string `json:"type"` // npm, pip, cargo, git, docker
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

// Descriptor describes one package's install/run recipe as served by
// the registry. It is immutable input: callers classify and parse it
// but never write it back.
type Descriptor struct {
	Slug                string               `json:"slug"`
	Name                string               `json:"name,omitempty"`
	Description         string               `json:"description,omitempty"`
	Version             string               `json:"version,omitempty"`
	AutoInstallCommand  string               `json:"auto_install_command,omitempty"`
	InstallationMethods []InstallationMethod `json:"installation_methods,omitempty"`
	// Endpoint is a free-form fallback install hint for packages that
	// predate structured methods.
	Endpoint string `json:"endpoint,omitempty"`
	// Env holds environment variables the package expects at run time.
	// Values may be empty when the registry only knows the key.
	Env map[string]string `json:"env,omitempty"`
}
