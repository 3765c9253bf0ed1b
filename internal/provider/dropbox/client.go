package dropbox

import (
	"io"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
)

// Client is the subset of files.Client the backup remote uses.
// files.Client satisfies it, so tests can substitute a fake.
type Client interface {
	GetMetadata(arg *files.GetMetadataArg) (files.IsMetadata, error)
	ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error)
	ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
	UploadSessionStart(arg *files.UploadSessionStartArg, content io.Reader) (*files.UploadSessionStartResult, error)
	UploadSessionAppendV2(arg *files.UploadSessionAppendArg, content io.Reader) error
	UploadSessionFinish(arg *files.UploadSessionFinishArg, content io.Reader) (*files.FileMetadata, error)
	DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error)
}

// newSDKClient builds a client bound to one access token. The SDK's own
// logging stays off; events are logged through zerolog instead.
func newSDKClient(token string) Client {
	return files.New(dropbox.Config{
		Token:    token,
		LogLevel: dropbox.LogOff,
	})
}

func overwrite() *files.WriteMode {
	return &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
}
