package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveDir returns dir unchanged when absolute, otherwise joined onto base
func ResolveDir(base, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}

// WorkingDir returns the process working directory used to resolve relative
// directories in the configuration
func WorkingDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return wd, nil
}

// FileExists reports whether path names a regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DistDir returns the absolute build output directory
func (c *Config) DistDir(pwd string) string {
	return ResolveDir(pwd, c.Output.DistPath)
}

// PublicDir returns the absolute public directory, or "" when none is configured
func (c *Config) PublicDir(pwd string) string {
	if !c.Dev.PublicDir.Enabled() {
		return ""
	}
	return ResolveDir(pwd, c.Dev.PublicDir.Name)
}
