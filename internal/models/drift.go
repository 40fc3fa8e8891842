package models

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sharedvolume/drift-detector/pkg/errors"
)

// AuthMode selects how a session authenticates against a host
type AuthMode string

const (
	AuthPassword AuthMode = "password"
	AuthKeypair  AuthMode = "keypair"
)

// DefaultSSHPort is used when a credential leaves Port unset
const DefaultSSHPort = 22

// MaxFileContentBytes bounds FileContent peeks at remote files
const MaxFileContentBytes = 1 << 20

// HostCredential identifies one remote target
type HostCredential struct {
	ID       string   `json:"id" yaml:"id" binding:"required"`
	Label    string   `json:"label,omitempty" yaml:"label"`
	Host     string   `json:"host" yaml:"host" binding:"required"`
	Port     int      `json:"port,omitempty" yaml:"port"`
	Username string   `json:"username" yaml:"username" binding:"required"`
	AuthMode AuthMode `json:"authMode" yaml:"auth_mode" binding:"required"`
	// Secret is a password or a private key (PEM, optionally base64 encoded).
	Secret string `json:"secret,omitempty" yaml:"secret"`
}

// Address returns host:port with the default port applied
func (h HostCredential) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(h.Host, strconv.Itoa(port))
}

// DisplayName returns Label when set, otherwise user@host
func (h HostCredential) DisplayName() string {
	if h.Label != "" {
		return h.Label
	}
	return fmt.Sprintf("%s@%s", h.Username, h.Host)
}

// Validate checks the credential for errors
func (h HostCredential) Validate() error {
	if h.ID == "" {
		return errors.NewValidationError("host id is required")
	}
	if h.Host == "" {
		return errors.NewValidationError(fmt.Sprintf("host %s: address is required", h.ID))
	}
	if h.Username == "" {
		return errors.NewValidationError(fmt.Sprintf("host %s: username is required", h.ID))
	}
	if h.Port < 0 || h.Port > 65535 {
		return errors.NewValidationError(fmt.Sprintf("host %s: invalid port %d", h.ID, h.Port))
	}
	switch h.AuthMode {
	case AuthPassword, AuthKeypair:
	default:
		return errors.NewValidationError(fmt.Sprintf("host %s: auth mode must be password or keypair, got %q", h.ID, h.AuthMode))
	}
	if h.Secret == "" {
		return errors.NewValidationError(fmt.Sprintf("host %s: secret is required for %s auth", h.ID, h.AuthMode))
	}
	return nil
}

// PathMapping declares that RemoteRootPath on HostID mirrors GitSubdirectory
type PathMapping struct {
	HostID          string `json:"hostId" yaml:"host_id" binding:"required"`
	RemoteRootPath  string `json:"remoteRootPath" yaml:"remote_root_path" binding:"required"`
	GitSubdirectory string `json:"gitSubdirectory" yaml:"git_subdirectory"`
}

// ProjectSpec drives one drift check run
type ProjectSpec struct {
	ID            string        `json:"id" yaml:"id" binding:"required"`
	GitURL        string        `json:"gitUrl" yaml:"git_url" binding:"required"`
	GitBranch     string        `json:"gitBranch" yaml:"git_branch"`
	GitToken      string        `json:"gitToken,omitempty" yaml:"git_token"`
	Mappings      []PathMapping `json:"mappings" yaml:"mappings"`
	IgnorePattern string        `json:"ignorePattern,omitempty" yaml:"ignore_pattern"`
	CheckContent  bool          `json:"checkContent" yaml:"check_content"`
}

// Validate checks the project for malformed input
func (p ProjectSpec) Validate() error {
	if p.ID == "" {
		return errors.NewValidationError("project id is required")
	}
	if p.GitURL == "" {
		return errors.NewValidationError("project gitUrl is required")
	}
	if len(p.Mappings) == 0 {
		return errors.NewValidationError("project has no path mappings")
	}
	for i, m := range p.Mappings {
		if m.HostID == "" {
			return errors.NewValidationError(fmt.Sprintf("mapping %d: hostId is required", i))
		}
		if m.RemoteRootPath == "" {
			return errors.NewValidationError(fmt.Sprintf("mapping %d: remoteRootPath is required", i))
		}
	}
	return nil
}

// FileRecord is one file as seen on either side
type FileRecord struct {
	RelativePath string `json:"relativePath"`
	SizeBytes    int64  `json:"sizeBytes"`
	// ContentHash is the hex MD5 digest, empty when it could not be computed.
	ContentHash string `json:"contentHash"`
}

// FileIndex maps slash-separated relative paths to records
type FileIndex struct {
	Files map[string]FileRecord
	// Truncated is set when the producer stopped at its file cap.
	Truncated bool
}

// NewFileIndex returns an empty index
func NewFileIndex() *FileIndex {
	return &FileIndex{Files: make(map[string]FileRecord)}
}

// Add stores rec under its relative path
func (idx *FileIndex) Add(rec FileRecord) {
	idx.Files[rec.RelativePath] = rec
}

// Len returns the number of files in the index
func (idx *FileIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Files)
}

// DiffStatus classifies one path
type DiffStatus string

const (
	StatusSynced   DiffStatus = "synced"
	StatusModified DiffStatus = "modified"
	// StatusAdded marks a path present in Git and missing on the host.
	StatusAdded DiffStatus = "added"
	// StatusDeleted marks a path present on the host only. It does not describe a deletion event.
	StatusDeleted DiffStatus = "deleted"
)

// FileDiff is the classification of one path of one mapping
type FileDiff struct {
	RelativePath string     `json:"relativePath"`
	RemoteRoot   string     `json:"remoteRoot,omitempty"`
	Status       DiffStatus `json:"status"`
	GitSize      *int64     `json:"gitSize,omitempty"`
	ServerSize   *int64     `json:"serverSize,omitempty"`
	GitHash      string     `json:"gitHash,omitempty"`
	ServerHash   string     `json:"serverHash,omitempty"`
}

// Outcome of a host's indexing
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// HostSyncResult aggregates all mappings of one host
type HostSyncResult struct {
	HostID       string     `json:"hostId"`
	HostLabel    string     `json:"hostLabel"`
	Outcome      Outcome    `json:"outcome"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Truncated    bool       `json:"truncated,omitempty"`
	Diffs        []FileDiff `json:"diffs"`
}

// Summary counts diff statuses across a report
type Summary struct {
	Hosts       int `json:"hosts"`
	FailedHosts int `json:"failedHosts"`
	Synced      int `json:"synced"`
	Modified    int `json:"modified"`
	Added       int `json:"added"`
	Deleted     int `json:"deleted"`
}

// Drifted returns true when any file is out of sync or any host failed
func (s Summary) Drifted() bool {
	return s.FailedHosts > 0 || s.Modified > 0 || s.Added > 0 || s.Deleted > 0
}

// SyncReport is the result of one run
type SyncReport struct {
	RunID       string           `json:"runId"`
	ProjectID   string           `json:"projectId"`
	Commit      string           `json:"commit,omitempty"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Duration    time.Duration    `json:"duration"`
	Results     []HostSyncResult `json:"results"`
	Summary     Summary          `json:"summary"`
}

// Result returns the result for hostID, or nil
func (r *SyncReport) Result(hostID string) *HostSyncResult {
	for i := range r.Results {
		if r.Results[i].HostID == hostID {
			return &r.Results[i]
		}
	}
	return nil
}
