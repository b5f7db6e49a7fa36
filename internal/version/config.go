package version

// Config tunes the compaction geometry. Zero values take the defaults
// below.
type Config struct {
	// TargetFileSize caps the size of a single compaction output file.
	TargetFileSize int64

	// L0CompactionTrigger is the level-0 file count that makes the level
	// due for compaction. Level 0 is scored by file count rather than
	// bytes because every level-0 file can overlap every other one and
	// each adds a read amplification step.
	L0CompactionTrigger int
}

const (
	defaultTargetFileSize      = 2 << 20
	defaultL0CompactionTrigger = 4

	// maxBytesForLevelBase is the byte budget of level 1; each deeper
	// level gets ten times the budget of the one above it.
	maxBytesForLevelBase = 10 << 20
)

func (c Config) withDefaults() Config {
	if c.TargetFileSize <= 0 {
		c.TargetFileSize = defaultTargetFileSize
	}
	if c.L0CompactionTrigger <= 0 {
		c.L0CompactionTrigger = defaultL0CompactionTrigger
	}
	return c
}

// maxGrandParentOverlapBytes bounds how much of level N+2 a single file may
// overlap before a compaction of that file becomes too expensive.
func (c Config) maxGrandParentOverlapBytes() int64 {
	return 10 * c.TargetFileSize
}

// expandedCompactionByteSizeLimit bounds how far the lower-level input of a
// compaction may grow when pulling in extra upper-level files.
func (c Config) expandedCompactionByteSizeLimit() int64 {
	return 25 * c.TargetFileSize
}

func maxBytesForLevel(level int) float64 {
	result := float64(maxBytesForLevelBase)
	for level > 1 {
		result *= 10
		level--
	}
	return result
}
