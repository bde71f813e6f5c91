package sandbox

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Stage copies srcDir into a fresh run directory directly under
// workspaceRoot and returns its path. For pooled runs workspaceRoot is the
// instance directory mounted at ContainerWorkspace, so the run directory is
// visible inside that container only, at ContainerPath.
func Stage(srcDir, workspaceRoot string) (string, error) {
	if err := os.MkdirAll(workspaceRoot, DirPermission); err != nil {
		return "", fmt.Errorf("failed to create workspace root: %w", err)
	}
	dir := filepath.Join(workspaceRoot, "run-"+uuid.NewString())
	if err := os.Mkdir(dir, DirPermission); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := CopyDir(srcDir, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

// ContainerPath maps a staged run directory to its path inside a container.
func ContainerPath(runDir string) string {
	return ContainerWorkspace + "/" + filepath.Base(runDir)
}

// CopyDir copies regular files and directories from src into dst.
func CopyDir(src, dst string) error {
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, DirPermission)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			return nil
		}
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
