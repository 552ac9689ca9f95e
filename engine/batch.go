package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// splitCollectFile implements spec §4.E's backup/archive batching:
// given a collect file "name.N" (N = item count), it computes
// batchSize = ceil(N / workItemsPerBatch), rewrites the file into
// "name.1", "name.2", ... each holding up to batchSize paths, and
// renames the original to "name.save".
func splitCollectFile(path string, workItemsPerBatch int) ([]string, error) {
	if workItemsPerBatch < 1 {
		workItemsPerBatch = 1
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	n := len(lines)
	batchSize := (n + workItemsPerBatch - 1) / workItemsPerBatch
	if batchSize < 1 {
		batchSize = 1
	}

	base := collectFileBase(path)
	var batchPaths []string
	for i := 0; i*batchSize < n || (n == 0 && i == 0); i++ {
		start := i * batchSize
		if start >= n && n > 0 {
			break
		}
		end := start + batchSize
		if end > n {
			end = n
		}
		batchPath := fmt.Sprintf("%s.%d", base, i+1)
		if err := writeLines(batchPath, lines[start:end]); err != nil {
			return nil, err
		}
		batchPaths = append(batchPaths, batchPath)
		if n == 0 {
			break
		}
	}

	if err := os.Rename(path, base+".save"); err != nil {
		return nil, err
	}
	return batchPaths, nil
}

// collectFileBase strips a trailing ".<N>" numeric suffix from a
// collect file path, matching the "name.N" convention of spec §4.E.
func collectFileBase(path string) string {
	dir, file := filepath.Split(path)
	idx := strings.LastIndex(file, ".")
	if idx < 0 {
		return path
	}
	if _, err := strconv.Atoi(file[idx+1:]); err != nil {
		return path
	}
	return filepath.Join(dir, file[:idx])
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readCollectFile reads a newline-delimited collect file into a path
// list.
func readCollectFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
