// Package backup defines the contract between the host's backup subsystem
// and a storage agent, plus the types that cross it.
package backup

import (
	"context"
	"time"
)

// Agent is implemented by every storage backend the host can back up to.
type Agent interface {
	// ListBackups returns every backup stored under the agent's folder.
	ListBackups(ctx context.Context) ([]AgentBackup, error)

	// UploadBackup stores the archive produced by open under the name in desc.
	UploadBackup(ctx context.Context, open OpenStream, desc Descriptor) error

	// DownloadBackup returns the stored archive as a single-use chunk source.
	DownloadBackup(ctx context.Context, backupID string) (ChunkSource, error)

	// DeleteBackup removes one stored backup.
	DeleteBackup(ctx context.Context, backupID string) error

	// GetBackup returns the record of one stored backup.
	GetBackup(ctx context.Context, backupID string) (AgentBackup, error)

	// Info identifies the agent to the host.
	Info() Info
}

// Info identifies an agent instance.
type Info struct {
	Domain   string
	Name     string
	UniqueID string
}

// AgentID is the host-facing agent identifier ("<domain>.<unique_id>").
func (i Info) AgentID() string {
	return i.Domain + "." + i.UniqueID
}

// OpenStream opens the archive being backed up. The host calls it lazily,
// after the agent has obtained a credential.
type OpenStream func(ctx context.Context) (ChunkSource, error)

// Descriptor is what the host declares about a backup it wants stored.
type Descriptor struct {
	BackupID string
	Name     string
	Size     int64
	Date     time.Time
}

// AgentBackup is the record of one stored backup.
type AgentBackup struct {
	BackupID              string
	Name                  string
	Size                  int64
	Date                  time.Time
	DatabaseIncluded      bool
	HomeAssistantIncluded bool
	HomeAssistantVersion  string
	Addons                []string
	Folders               []string
	Protected             bool
	ExtraMetadata         map[string]string
}

// NewAgentBackup builds a record with the fixed capability flags every
// agent backup carries.
func NewAgentBackup(id, name string, size int64, date time.Time, hostVersion string) AgentBackup {
	return AgentBackup{
		BackupID:              id,
		Name:                  name,
		Size:                  size,
		Date:                  date,
		DatabaseIncluded:      true,
		HomeAssistantIncluded: true,
		HomeAssistantVersion:  hostVersion,
		Addons:                []string{},
		Folders:               []string{},
		Protected:             false,
		ExtraMetadata:         map[string]string{},
	}
}
