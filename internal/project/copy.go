package project

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyTemplate copies the template project directory into
// <outputBase>/<sanitized name> and returns the new directory. An
// existing directory of the same name is replaced wholesale, matching
// re-runs of the same CSV.
func CopyTemplate(templateDir, outputBase, projectName string) (string, error) {
	info, err := os.Stat(templateDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("template project directory not found: %s", templateDir)
	}
	if err := os.MkdirAll(outputBase, 0755); err != nil {
		return "", fmt.Errorf("create output directory %s: %w", outputBase, err)
	}

	dest := filepath.Join(outputBase, SanitizeName(projectName))
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("clear existing project directory %s: %w", dest, err)
	}
	if err := copyDir(templateDir, dest); err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("copy template to %s: %w", dest, err)
	}
	return dest, nil
}

func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
