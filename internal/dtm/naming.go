package dtm

import (
	"fmt"
	"strings"
	"time"
)

// TimestampPrefix returns the prefix prepended to a file's name when it is
// archived, e.g. "2024_01_15T10_30_00_000123+0100-".
func TimestampPrefix(t time.Time) string {
	return fmt.Sprintf("%s_%06d%s-", t.Format("2006_01_02T15_04_05"), t.Nanosecond()/1000, t.Format("-0700"))
}

// ArtifactName returns the name an archived file ends up with at its
// destination: the timestamp prefix, the name without its extension, and ext.
func ArtifactName(t time.Time, name, ext string) string {
	return TimestampPrefix(t) + Stem(name) + ext
}

// Stem returns name without its last extension.
func Stem(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// TempPrefix starts the name of every temporary file written next to data
// files while compressing or moving. Inventories never list such files.
const TempPrefix = ".dtm-tmp-"
