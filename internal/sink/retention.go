package sink

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
)

// Retention limits how many run directories LogDir leaves behind.
// Zero fields mean no limit.
type Retention struct {
	KeepRuns int
	KeepDays int
}

// runDirPattern matches names made by NewLogDir; anything else in the base
// directory is left alone.
var runDirPattern = regexp.MustCompile(`^\d{8}-\d{6}-`)

type runDir struct {
	path    string
	name    string
	modTime time.Time
}

// Prune deletes run directories under baseDir beyond the retention policy.
// Age is applied first, then the run count; newest runs are kept.
func Prune(baseDir string, r Retention) (removed int, err error) {
	if r.KeepRuns <= 0 && r.KeepDays <= 0 {
		return 0, nil
	}
	dirs, err := listRunDirs(baseDir)
	if err != nil {
		return 0, err
	}

	// Names start with a timestamp, so this is newest first.
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].name > dirs[j].name })

	var doomed []runDir
	var keep []runDir
	if r.KeepDays > 0 {
		cutoff := time.Now().Add(-time.Duration(r.KeepDays) * 24 * time.Hour)
		for _, d := range dirs {
			if d.modTime.Before(cutoff) {
				doomed = append(doomed, d)
			} else {
				keep = append(keep, d)
			}
		}
	} else {
		keep = dirs
	}
	if r.KeepRuns > 0 && len(keep) > r.KeepRuns {
		doomed = append(doomed, keep[r.KeepRuns:]...)
	}

	for _, d := range doomed {
		if err := os.RemoveAll(d.path); err != nil {
			return removed, errors.WrapWithCode(err, errors.ErrSink,
				"Can't delete log directory "+d.path,
				"Check your permissions")
		}
		removed++
	}
	return removed, nil
}

func listRunDirs(baseDir string) ([]runDir, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrSink,
			"Can't read log directory "+baseDir,
			"Check your permissions")
	}

	var dirs []runDir
	for _, entry := range entries {
		if !entry.IsDir() || !runDirPattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, runDir{
			path:    filepath.Join(baseDir, entry.Name()),
			name:    entry.Name(),
			modTime: info.ModTime(),
		})
	}
	return dirs, nil
}
