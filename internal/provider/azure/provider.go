package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/backup"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/config"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/provider"
)

const (
	Domain   = "azureblobbackup"
	Title    = "Azure Blob"
	UniqueID = "azure_blob_backup"
)

// Store connects to one blob container.
type Store struct {
	endpoint  string // e.g. https://<account>.blob.core.windows.net/
	container string
	method    string // config.AuthSAS or config.AuthIdentity
}

func NewStore(c config.Config) *Store {
	return &Store{
		endpoint:  c.AzureEndpoint(),
		container: c.Azure.Container,
		method:    c.Auth.Method,
	}
}

func (s *Store) Name() string { return config.ProviderAzure }

func (s *Store) Info() backup.Info {
	return backup.Info{Domain: Domain, Name: Title, UniqueID: UniqueID}
}

func (s *Store) Connect(_ context.Context, credential string) (provider.Remote, error) {
	if credential == "" {
		return nil, fmt.Errorf("azure: empty %s credential", s.method)
	}
	client, err := newClient(s.endpoint, s.method, credential)
	if err != nil {
		return nil, err
	}
	return &Remote{client: client, container: s.container}, nil
}

// Remote implements provider.Remote over a container. Blob names are the
// remote paths without their leading "/", lower-cased so they match the
// case-normalized backup ids.
type Remote struct {
	client    *azblob.Client
	container string
}

func (r *Remote) containerClient() *container.Client {
	return r.client.ServiceClient().NewContainerClient(r.container)
}

func (r *Remote) ListFolder(ctx context.Context, path string) (provider.Page, error) {
	prefix := normalizeKey(path)
	if prefix != "" {
		prefix += "/"
	}
	return r.listPage(ctx, prefix, "")
}

func (r *Remote) ListFolderContinue(ctx context.Context, cursor string) (provider.Page, error) {
	prefix, marker, err := decodeCursor(cursor)
	if err != nil {
		return provider.Page{}, err
	}
	return r.listPage(ctx, prefix, marker)
}

// listPage fetches one page of the "/"-delimited listing under prefix.
// Virtual directories come back as folders.
func (r *Remote) listPage(ctx context.Context, prefix, marker string) (provider.Page, error) {
	opts := &container.ListBlobsHierarchyOptions{Prefix: to.Ptr(prefix)}
	if marker != "" {
		opts.Marker = to.Ptr(marker)
	}
	pager := r.containerClient().NewListBlobsHierarchyPager("/", opts)
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return provider.Page{}, r.describe(err, prefix)
	}

	var p provider.Page
	if resp.Segment != nil {
		for _, bp := range resp.Segment.BlobPrefixes {
			if bp.Name == nil {
				continue
			}
			dir := strings.TrimSuffix(*bp.Name, "/")
			p.Entries = append(p.Entries, provider.Entry{
				Kind:        provider.KindFolder,
				Name:        baseName(dir),
				PathLower:   "/" + strings.ToLower(dir),
				PathDisplay: "/" + dir,
			})
		}
		for _, it := range resp.Segment.BlobItems {
			if it.Name == nil {
				continue
			}
			p.Entries = append(p.Entries, blobEntry(*it.Name, it.Deleted, it.Properties))
		}
	}
	if resp.NextMarker != nil && *resp.NextMarker != "" {
		p.HasMore = true
		p.Cursor = encodeCursor(prefix, *resp.NextMarker)
	}
	log.Debug().
		Str("action", "azure_list").
		Str("container", r.container).
		Str("prefix", prefix).
		Int("entries", len(p.Entries)).
		Bool("has_more", p.HasMore).
		Msg("page listed")
	return p, nil
}

func (r *Remote) Upload(ctx context.Context, path string, data []byte) (provider.Entry, error) {
	key := normalizeKey(path)
	start := time.Now()
	resp, err := r.client.UploadBuffer(ctx, r.container, key, data, nil)
	if err != nil {
		return provider.Entry{}, r.describe(err, key)
	}
	log.Debug().
		Str("action", "azure_upload").
		Str("container", r.container).
		Str("key", key).
		Int("bytes", len(data)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("upload OK")
	return uploadedEntry(key, int64(len(data)), resp.LastModified), nil
}

func (r *Remote) UploadSessionStart(ctx context.Context, path string, data []byte) (string, error) {
	s := newSession(normalizeKey(path))
	if err := r.stage(ctx, s, 0, data); err != nil {
		return "", err
	}
	log.Debug().
		Str("action", "azure_session_start").
		Str("container", r.container).
		Str("key", s.Blob).
		Str("session", s.ID).
		Int("bytes", len(data)).
		Msg("session opened")
	return s.token(), nil
}

func (r *Remote) UploadSessionAppend(ctx context.Context, token string, offset uint64, data []byte) error {
	s, err := parseSession(token)
	if err != nil {
		return err
	}
	return r.stage(ctx, s, offset, data)
}

// UploadSessionFinish stages the remainder and commits this session's
// blocks in offset order, replacing any existing blob.
func (r *Remote) UploadSessionFinish(ctx context.Context, token string, offset uint64, path string, data []byte) (provider.Entry, error) {
	s, err := parseSession(token)
	if err != nil {
		return provider.Entry{}, err
	}
	if key := normalizeKey(path); key != s.Blob {
		return provider.Entry{}, fmt.Errorf("azure: session for %q cannot commit to %q", s.Blob, key)
	}
	if err := r.stage(ctx, s, offset, data); err != nil {
		return provider.Entry{}, err
	}

	bb := r.containerClient().NewBlockBlobClient(s.Blob)
	list, err := bb.GetBlockList(ctx, blockblob.BlockListTypeUncommitted, nil)
	if err != nil {
		return provider.Entry{}, r.describe(err, s.Blob)
	}
	var staged []string
	for _, b := range list.UncommittedBlocks {
		if b.Name != nil {
			staged = append(staged, *b.Name)
		}
	}
	ids := s.blocks(staged)

	resp, err := bb.CommitBlockList(ctx, ids, nil)
	if err != nil {
		return provider.Entry{}, r.describe(err, s.Blob)
	}
	size := int64(offset) + int64(len(data))
	log.Debug().
		Str("action", "azure_session_finish").
		Str("container", r.container).
		Str("key", s.Blob).
		Str("session", s.ID).
		Int("blocks", len(ids)).
		Int64("bytes", size).
		Msg("session committed")
	return uploadedEntry(s.Blob, size, resp.LastModified), nil
}

// stage uploads data as the block at offset. Empty data stages nothing:
// the service rejects zero-length blocks.
func (r *Remote) stage(ctx context.Context, s session, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	bb := r.containerClient().NewBlockBlobClient(s.Blob)
	body := streaming.NopCloser(bytes.NewReader(data))
	if _, err := bb.StageBlock(ctx, s.blockID(offset), body, nil); err != nil {
		return r.describe(err, s.Blob)
	}
	log.Debug().
		Str("action", "azure_stage_block").
		Str("key", s.Blob).
		Uint64("offset", offset).
		Int("bytes", len(data)).
		Msg("block staged")
	return nil
}

func (r *Remote) Download(ctx context.Context, path string) (provider.Entry, []byte, error) {
	key := normalizeKey(path)
	resp, err := r.client.DownloadStream(ctx, r.container, key, nil)
	if err != nil {
		return provider.Entry{}, nil, r.describe(err, key)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warn().
				Err(cerr).
				Str("action", "azure_download").
				Str("key", key).
				Msg("failed to close download body")
		}
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Entry{}, nil, fmt.Errorf("azure download %q: read body: %w", key, err)
	}
	return uploadedEntry(key, int64(len(data)), resp.LastModified), data, nil
}

func (r *Remote) Delete(ctx context.Context, path string) error {
	key := normalizeKey(path)
	if _, err := r.client.DeleteBlob(ctx, r.container, key, nil); err != nil {
		return r.describe(err, key)
	}
	return nil
}

func (r *Remote) GetMetadata(ctx context.Context, path string) (provider.Entry, error) {
	key := normalizeKey(path)
	props, err := r.containerClient().NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return provider.Entry{}, r.describe(err, key)
	}
	var size int64
	if props.ContentLength != nil {
		size = *props.ContentLength
	}
	return uploadedEntry(key, size, props.LastModified), nil
}

func blobEntry(name string, deleted *bool, props *container.BlobProperties) provider.Entry {
	e := provider.Entry{
		Kind:        provider.KindFile,
		Name:        baseName(name),
		PathLower:   "/" + strings.ToLower(name),
		PathDisplay: "/" + name,
	}
	if deleted != nil && *deleted {
		e.Kind = provider.KindDeleted
	}
	if props != nil {
		if props.ContentLength != nil {
			e.Size = *props.ContentLength
		}
		if props.LastModified != nil {
			e.ServerModified = props.LastModified.UTC()
		}
	}
	return e
}

func uploadedEntry(key string, size int64, modified *time.Time) provider.Entry {
	e := provider.Entry{
		Kind:        provider.KindFile,
		Name:        baseName(key),
		PathLower:   "/" + strings.ToLower(key),
		PathDisplay: "/" + key,
		Size:        size,
	}
	if modified != nil {
		e.ServerModified = modified.UTC()
	}
	return e
}

func normalizeKey(p string) string {
	return strings.ToLower(strings.TrimPrefix(p, "/"))
}

func baseName(key string) string {
	return key[strings.LastIndex(key, "/")+1:]
}

func init() {
	provider.Register(config.ProviderAzure, func(cfg any) (provider.Store, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("azure: invalid config type")
		}
		return NewStore(c), nil
	})
}
