package adapters

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"partcad/internal/ports"
	"partcad/internal/shared"
	"partcad/internal/types"
)

const tarSentinelName = ".partcad.tar.extracted"

// TarSource downloads archives into CacheDir/<hash> and extracts them once.
type TarSource struct {
	CacheDir string
	Client   *http.Client
	Retry    fetchRetry
}

var _ ports.SourcePort = TarSource{}

func NewTarSource(cacheDir string) TarSource {
	return TarSource{
		CacheDir: cacheDir,
		Client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (s TarSource) Acquire(ctx context.Context, entry types.ImportEntry, _ string) (string, error) {
	if entry.URL == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("package %q: tar import requires url", entry.Name))
	}
	root := s.ArchivePath(entry)
	if _, err := os.Stat(filepath.Join(root, tarSentinelName)); err != nil {
		log.Ctx(ctx).Info().Str("package", entry.Name).Str("url", entry.URL).Msg("downloading archive")
		if err := s.download(ctx, entry, root); err != nil {
			return "", err
		}
	}
	dir, err := anchor(root, entry.RelPath)
	if err != nil {
		return "", err
	}
	return ensureManifest(entry, dir)
}

// ArchivePath is the extraction directory for an import. The relative path
// is part of the key because it changes which entries are extracted.
func (s TarSource) ArchivePath(entry types.ImportEntry) string {
	return filepath.Join(s.CacheDir, shared.HashKey(entry.URL, entry.RelPath))
}

func (s TarSource) download(ctx context.Context, entry types.ImportEntry, root string) error {
	resp, err := fetchWithRetry(ctx, s.Client, entry.URL, basicAuth{User: entry.Username, Password: entry.Password}, s.Retry)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to download %s", entry.URL)).
			WithCause(shared.HTTPStatusError(resp.StatusCode, entry.URL))
	}

	staging := root + ".partial"
	_ = os.RemoveAll(staging)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create archive cache directory").
			WithCause(err)
	}
	if err := ExtractTar(resp.Body, staging, entry.RelPath); err != nil {
		_ = os.RemoveAll(staging)
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to extract %s", entry.URL)).
			WithCause(err)
	}
	if err := shared.TouchSentinel(filepath.Join(staging, tarSentinelName), time.Now()); err != nil {
		_ = os.RemoveAll(staging)
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to record extraction").
			WithCause(err)
	}
	_ = os.RemoveAll(root)
	if err := os.Rename(staging, root); err != nil {
		_ = os.RemoveAll(staging)
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to finalize archive extraction").
			WithCause(err)
	}
	return nil
}

// ExtractTar unpacks a plain or gzip-compressed tar stream into dest. When
// relPath is set only entries beneath it are written, keeping their path
// relative to the archive root. Entries escaping dest are rejected.
func ExtractTar(r io.Reader, dest string, relPath string) error {
	buffered := bufio.NewReader(r)
	var stream io.Reader = buffered
	if magic, err := buffered.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		stream = gz
	}
	prefix := strings.Trim(path.Clean(filepath.ToSlash(relPath)), "/")
	if prefix == "." {
		prefix = ""
	}

	reader := tar.NewReader(stream)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}
		name := strings.TrimPrefix(path.Clean("/"+header.Name), "/")
		if name == "" {
			continue
		}
		if prefix != "" && name != prefix && !strings.HasPrefix(name, prefix+"/") {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(filepath.Separator)) {
			return fmt.Errorf("entry %q escapes the destination", header.Name)
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeTarFile(reader, target, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// links and devices are not needed for packages
		}
	}
}

func writeTarFile(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0644
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
