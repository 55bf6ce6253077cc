package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// DiscoverShards returns sorted paths to shard TAR files beneath root.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// DiscoverSplit scans the shard files of one named split under dataDir.
// Splits live in per-split subdirectories, e.g. <dataDir>/validation/.
func DiscoverSplit(dataDir, split string) ([]string, error) {
	shards, err := DiscoverShards(filepath.Join(dataDir, split))
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", split, err)
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("split %s: no shards under %s", split, filepath.Join(dataDir, split))
	}
	return shards, nil
}
