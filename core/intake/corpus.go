package intake

import (
	"bufio"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ListCorpus returns candidate MIDI paths. A file list, when given, holds one
// path per line (relative paths are resolved against corpusDir). Otherwise
// corpusDir is walked for .mid/.midi files. The result is sorted.
func ListCorpus(corpusDir, fileList string) ([]string, error) {
	if fileList != "" {
		return readFileList(corpusDir, fileList)
	}
	if corpusDir == "" {
		return nil, fmt.Errorf("no corpus directory or file list configured")
	}

	var paths []string
	err := filepath.WalkDir(corpusDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsMIDIFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus %s: %w", corpusDir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func readFileList(corpusDir, listPath string) ([]string, error) {
	f, err := os.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file list %s: %w", listPath, err)
	}
	defer f.Close()

	var paths []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) && corpusDir != "" {
			line = filepath.Join(corpusDir, line)
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file list %s: %w", listPath, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// IsMIDIFile reports whether path has a Standard MIDI File extension.
func IsMIDIFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		return true
	}
	return false
}

// Shuffle returns paths in a seed-determined order.
func Shuffle(paths []string, seed uint64) []string {
	out := append([]string(nil), paths...)
	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
