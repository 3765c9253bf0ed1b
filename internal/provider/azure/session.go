package azure

import (
	"cmp"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// An upload session is a set of uncommitted blocks staged on the target
// blob. The token carries the blob name because appends do not get a path.
type session struct {
	ID   string
	Blob string
}

func newSession(blob string) session {
	return session{ID: uuid.NewString(), Blob: blob}
}

func (s session) token() string {
	return url.Values{"id": {s.ID}, "blob": {s.Blob}}.Encode()
}

func parseSession(token string) (session, error) {
	v, err := url.ParseQuery(token)
	if err != nil {
		return session{}, fmt.Errorf("azure: malformed session token: %w", err)
	}
	s := session{ID: v.Get("id"), Blob: v.Get("blob")}
	if s.ID == "" || s.Blob == "" {
		return session{}, fmt.Errorf("azure: malformed session token %q", token)
	}
	return s, nil
}

// blockID names the block holding the bytes at offset. Every id on a blob
// must have the same length, hence the fixed-width offset.
func (s session) blockID(offset uint64) string {
	return base64.StdEncoding.EncodeToString(fmt.Appendf(nil, "%s-%020d", s.ID, offset))
}

// blocks picks this session's ids out of a blob's uncommitted block list
// and orders them by offset. Blocks from other sessions are left alone.
func (s session) blocks(uncommitted []string) []string {
	type staged struct {
		id     string
		offset uint64
	}
	var mine []staged
	prefix := s.ID + "-"
	for _, id := range uncommitted {
		raw, err := base64.StdEncoding.DecodeString(id)
		if err != nil {
			continue
		}
		rest, ok := strings.CutPrefix(string(raw), prefix)
		if !ok {
			continue
		}
		off, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			continue
		}
		mine = append(mine, staged{id: id, offset: off})
	}
	slices.SortFunc(mine, func(a, b staged) int { return cmp.Compare(a.offset, b.offset) })
	out := make([]string, len(mine))
	for i, b := range mine {
		out[i] = b.id
	}
	return out
}

// listing cursors remember the prefix alongside the service marker.
func encodeCursor(prefix, marker string) string {
	return url.Values{"prefix": {prefix}, "marker": {marker}}.Encode()
}

func decodeCursor(cursor string) (prefix, marker string, err error) {
	v, err := url.ParseQuery(cursor)
	if err != nil {
		return "", "", fmt.Errorf("azure: malformed cursor: %w", err)
	}
	if v.Get("marker") == "" {
		return "", "", fmt.Errorf("azure: cursor %q has no marker", cursor)
	}
	return v.Get("prefix"), v.Get("marker"), nil
}
