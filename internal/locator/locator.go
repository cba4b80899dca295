// Package locator resolves the currently active order-status log file
// under a root directory laid out as
//
//	<root>/node_order_statuses/hourly/<YYYYMMDD>/<H>
//
// It is stateless: every call performs a fresh directory scan. There is no
// cache, because the active file changes on an hourly boundary and staleness
// here would silently strand the tailer on a dead file.
package locator

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

var dateDirPattern = regexp.MustCompile(`^\d{8}$`)
var hourFilePattern = regexp.MustCompile(`^\d{1,2}$`)

// Locator finds the active hourly log file under Root.
type Locator struct {
	Root string
}

// New returns a Locator rooted at root.
func New(root string) *Locator {
	return &Locator{Root: root}
}

func (l *Locator) hourlyDir() string {
	return filepath.Join(l.Root, "node_order_statuses", "hourly")
}

// Active returns the path of the active file: the lexicographically
// greatest valid YYYYMMDD directory that contains at least one valid hour
// file, then within it the numerically greatest valid hour file. Date
// directories with no matching hour file are skipped in favor of the next
// most recent one. ok is false when nothing matches anywhere — this is
// reported as absence, not an error, per the file discovery contract.
func (l *Locator) Active() (path string, ok bool) {
	dateDirs := l.dateDirsDescending()
	for _, dateDir := range dateDirs {
		hourFile, ok := l.latestHourFile(dateDir)
		if !ok {
			continue
		}
		return filepath.Join(dateDir, hourFile), true
	}
	return "", false
}

// dateDirsDescending lists valid date directories, most recent first.
func (l *Locator) dateDirsDescending() []string {
	entries, err := os.ReadDir(l.hourlyDir())
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !dateDirPattern.MatchString(e.Name()) {
			continue
		}
		if _, err := time.Parse("20060102", e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	dirs := make([]string, len(names))
	for i, n := range names {
		dirs[i] = filepath.Join(l.hourlyDir(), n)
	}
	return dirs
}

func (l *Locator) latestHourFile(dateDir string) (string, bool) {
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		return "", false
	}
	bestHour := -1
	bestName := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !hourFilePattern.MatchString(e.Name()) {
			continue
		}
		h, err := strconv.Atoi(e.Name())
		if err != nil || h > 23 {
			continue
		}
		if h > bestHour {
			bestHour = h
			bestName = e.Name()
		}
	}
	if bestName == "" {
		return "", false
	}
	return bestName, true
}
