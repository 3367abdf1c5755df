package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/liangyou/devkit/pkg/models"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zipMagic  = []byte("PK\x03\x04")
)

// Extractor 把压缩包解压到目标目录。
type Extractor interface {
	Extract(ctx context.Context, archivePath, dest string) error
}

// Unpacker 支持 tar.gz 与 zip，按文件头而不是扩展名识别格式。
type Unpacker struct{}

// NewUnpacker 创建默认解压器。
func NewUnpacker() *Unpacker { return &Unpacker{} }

// Extract 解压 archivePath 到 dest。格式无法识别或内容损坏时返回 models.ErrCorruptArchive。
func (u *Unpacker) Extract(ctx context.Context, archivePath, dest string) error {
	kind, err := sniff(archivePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("archive: prepare dest: %w", err)
	}

	switch kind {
	case "tar.gz":
		err = extractTarGz(ctx, archivePath, dest)
	case "zip":
		err = extractZip(ctx, archivePath, dest)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return models.NewError(models.ErrCorruptArchive, "extract", "", "", err)
	}
	return nil
}

func sniff(archivePath string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("archive: open: %w", err)
	}
	defer f.Close()

	head, err := bufio.NewReader(f).Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("archive: read header: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return "tar.gz", nil
	case bytes.HasPrefix(head, zipMagic):
		return "zip", nil
	default:
		return "", models.NewError(models.ErrCorruptArchive, "extract", "", "",
			fmt.Errorf("unrecognised archive format in %s", filepath.Base(archivePath)))
	}
}

func extractTarGz(ctx context.Context, archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		rel, skip := cleanEntryName(header.Name)
		if skip {
			continue
		}
		target := filepath.Join(dest, rel)
		if err := ensureWithinRoot(dest, target); err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(os.FileMode(header.Mode))); err != nil {
				return fmt.Errorf("mkdir %s: %w", rel, err)
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := writeFile(target, tr, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := symlinkWithinRoot(dest, target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			src := filepath.Join(dest, filepath.FromSlash(path.Clean(header.Linkname)))
			if err := ensureWithinRoot(dest, src); err != nil {
				return err
			}
			if err := os.Link(src, target); err != nil {
				return fmt.Errorf("hardlink %s: %w", rel, err)
			}
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue
		default:
			return fmt.Errorf("unsupported tar entry %q", header.Name)
		}
	}
}

func extractZip(ctx context.Context, archivePath, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("zip reader: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, skip := cleanEntryName(zf.Name)
		if skip {
			continue
		}
		target := filepath.Join(dest, rel)
		if err := ensureWithinRoot(dest, target); err != nil {
			return err
		}

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, dirMode(mode)); err != nil {
				return fmt.Errorf("mkdir %s: %w", rel, err)
			}
		case mode&os.ModeSymlink != 0:
			rc, err := zf.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", rel, err)
			}
			linkname, err := io.ReadAll(io.LimitReader(rc, 4096))
			rc.Close()
			if err != nil {
				return fmt.Errorf("read link %s: %w", rel, err)
			}
			if err := symlinkWithinRoot(dest, target, string(linkname)); err != nil {
				return err
			}
		default:
			rc, err := zf.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", rel, err)
			}
			err = writeFile(target, rc, mode.Perm())
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", filepath.Base(target), err)
	}
	if mode.Perm() == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(target), err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("copy %s: %w", filepath.Base(target), err)
	}
	return f.Close()
}

func symlinkWithinRoot(root, target, linkname string) error {
	if filepath.IsAbs(linkname) || path.IsAbs(linkname) {
		return fmt.Errorf("absolute symlink %s -> %s", filepath.Base(target), linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	if err := ensureWithinRoot(root, resolved); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir for link: %w", err)
	}
	if err := os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("symlink %s: %w", filepath.Base(target), err)
	}
	return nil
}

// cleanEntryName 规范化条目名，根目录本身返回 skip。
func cleanEntryName(name string) (string, bool) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	clean = strings.TrimPrefix(clean, "./")
	clean = strings.TrimPrefix(clean, "/")
	if clean == "." || clean == "" {
		return "", true
	}
	return filepath.FromSlash(clean), false
}

func ensureWithinRoot(root, target string) error {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if target == root {
		return nil
	}
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return fmt.Errorf("illegal path %s escapes extraction root", target)
	}
	return nil
}

func dirMode(mode os.FileMode) os.FileMode {
	if mode.Perm() == 0 {
		return 0o755
	}
	return mode.Perm() | 0o700
}

// SingleRoot 返回解压结果中应被提升的目录：若 dir 下只有一个子目录（常见的
// "jdk-21.0.1/" 包装层），返回该子目录，否则返回 dir 本身。
func SingleRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("archive: read staging: %w", err)
	}
	var visible []os.DirEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "._") || e.Name() == "__MACOSX" {
			continue
		}
		visible = append(visible, e)
	}
	if len(visible) == 0 {
		return "", models.NewError(models.ErrCorruptArchive, "extract", "", "", errors.New("archive is empty"))
	}
	if len(visible) == 1 && visible[0].IsDir() {
		return filepath.Join(dir, visible[0].Name()), nil
	}
	return dir, nil
}
