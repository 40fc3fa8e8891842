package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sharedvolume/drift-detector/internal/models"
)

// ProjectFile is a project and the hosts it deploys to, as read by the
// check command
type ProjectFile struct {
	Project models.ProjectSpec `yaml:"project"`
	Hosts   []HostEntry        `yaml:"hosts"`
}

// HostEntry is a host credential whose secret may live in a separate file
type HostEntry struct {
	models.HostCredential `yaml:",inline"`
	SecretFile            string `yaml:"secret_file"`
}

// LoadProject reads and parses a project file
func LoadProject(path string) (*ProjectFile, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	var pf ProjectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse project file: %w", err)
	}

	pf.expandEnv()

	if err := pf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project file: %w", err)
	}

	if err := pf.loadSecrets(); err != nil {
		return nil, err
	}

	pf.applyDefaults()
	return &pf, nil
}

// expandEnv expands environment variables so secrets can stay out of the file
func (pf *ProjectFile) expandEnv() {
	p := &pf.Project
	p.GitURL = os.ExpandEnv(p.GitURL)
	p.GitBranch = os.ExpandEnv(p.GitBranch)
	p.GitToken = os.ExpandEnv(p.GitToken)
	for i := range p.Mappings {
		p.Mappings[i].RemoteRootPath = os.ExpandEnv(p.Mappings[i].RemoteRootPath)
	}
	for i := range pf.Hosts {
		h := &pf.Hosts[i]
		h.Host = os.ExpandEnv(h.Host)
		h.Username = os.ExpandEnv(h.Username)
		h.Secret = os.ExpandEnv(h.Secret)
		h.SecretFile = os.ExpandEnv(h.SecretFile)
	}
}

func (pf *ProjectFile) applyDefaults() {
	for i := range pf.Hosts {
		if pf.Hosts[i].Port == 0 {
			pf.Hosts[i].Port = models.DefaultSSHPort
		}
	}
}

func (pf *ProjectFile) loadSecrets() error {
	for i := range pf.Hosts {
		h := &pf.Hosts[i]
		if h.SecretFile == "" {
			continue
		}
		data, err := os.ReadFile(h.SecretFile)
		if err != nil {
			return fmt.Errorf("host %s: failed to read secret file: %w", h.ID, err)
		}
		h.Secret = strings.TrimRight(string(data), "\r\n")
	}
	return nil
}

// Validate checks the project file for errors
func (pf *ProjectFile) Validate() error {
	if err := pf.Project.Validate(); err != nil {
		return err
	}

	known := make(map[string]bool, len(pf.Hosts))
	for _, h := range pf.Hosts {
		if h.ID == "" {
			return fmt.Errorf("hosts: every host needs an id")
		}
		if known[h.ID] {
			return fmt.Errorf("hosts: duplicate host id %s", h.ID)
		}
		known[h.ID] = true

		// Only one secret source may be configured
		if h.Secret != "" && h.SecretFile != "" {
			return fmt.Errorf("host %s: only one of secret or secret_file may be set", h.ID)
		}
		if h.Secret == "" && h.SecretFile == "" {
			return fmt.Errorf("host %s: one of secret or secret_file is required", h.ID)
		}
		cred := h.HostCredential
		cred.Secret = "placeholder"
		if err := cred.Validate(); err != nil {
			return err
		}
	}

	for i, m := range pf.Project.Mappings {
		if !known[m.HostID] {
			return fmt.Errorf("mapping %d: unknown host id %s", i, m.HostID)
		}
	}
	return nil
}

// Credentials returns the host credentials
func (pf *ProjectFile) Credentials() []models.HostCredential {
	creds := make([]models.HostCredential, 0, len(pf.Hosts))
	for _, h := range pf.Hosts {
		creds = append(creds, h.HostCredential)
	}
	return creds
}
