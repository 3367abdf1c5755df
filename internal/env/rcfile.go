package env

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/liangyou/devkit/internal/storage"
	"github.com/liangyou/devkit/pkg/models"
)

// RCFileName 是项目级版本声明文件名。
const RCFileName = ".devkitrc"

// ErrNoRCFile 表示目录中没有 .devkitrc。
var ErrNoRCFile = errors.New("env: no " + RCFileName + " in directory")

// LoadRC 读取 dir/.devkitrc。每行一个 candidate=version，# 开头为注释。
func LoadRC(dir string) ([]models.Pin, error) {
	data, err := os.ReadFile(filepath.Join(dir, RCFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoRCFile
		}
		return nil, fmt.Errorf("env: read %s: %w", RCFileName, err)
	}
	return ParseRC(data)
}

// ParseRC 解析 .devkitrc 内容。同一 candidate 出现多次时以最后一次为准。
func ParseRC(data []byte) ([]models.Pin, error) {
	var pins []models.Pin
	index := map[string]int{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		candidate, version, ok := strings.Cut(line, "=")
		candidate = strings.TrimSpace(candidate)
		version = strings.TrimSpace(version)
		if !ok || candidate == "" || version == "" {
			return nil, fmt.Errorf("env: %s line %d: expected candidate=version, got %q", RCFileName, lineNo, line)
		}
		pin := models.Pin{Candidate: candidate, Version: version}
		if i, seen := index[candidate]; seen {
			pins[i] = pin
			continue
		}
		index[candidate] = len(pins)
		pins = append(pins, pin)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("env: scan %s: %w", RCFileName, err)
	}
	return pins, nil
}

// WriteRC 把 pins 写入 dir/.devkitrc。
func WriteRC(dir string, pins []models.Pin) (string, error) {
	var b strings.Builder
	b.WriteString("# Enable auto-env through `devkit env install` in this directory\n")
	for _, pin := range pins {
		fmt.Fprintf(&b, "%s=%s\n", pin.Candidate, pin.Version)
	}
	path := filepath.Join(dir, RCFileName)
	if err := storage.WriteFileAtomic(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
