package engine

import (
	"fmt"
	"path"

	"github.com/offs-project/offs/internal/store"
)

// conflictedName picks a free sibling name for an entity that lost a
// name collision during journal replay: first "x (Conflicted copy
// 2026-08-06).txt", then with a time suffix, then with a counter.
// Colons are avoided in the time form for portability.
func conflictedName(tx *store.Tx, parentID, name string, timestamp store.Timespec) (string, error) {
	ext := path.Ext(name)
	stem := name[:len(name)-len(ext)]

	when := timestamp.Time().UTC()
	dateStr := when.Format("2006-01-02")

	candidate := fmt.Sprintf("%s (Conflicted copy %s)%s", stem, dateStr, ext)
	taken, err := tx.ExistsByName(parentID, candidate)
	if err != nil {
		return "", err
	}
	if !taken {
		return candidate, nil
	}

	timeStr := when.Format("15-04-05")
	candidate = fmt.Sprintf("%s (Conflicted copy %s %s)%s", stem, dateStr, timeStr, ext)
	taken, err = tx.ExistsByName(parentID, candidate)
	if err != nil {
		return "", err
	}
	if !taken {
		return candidate, nil
	}

	for i := 2; ; i++ {
		candidate = fmt.Sprintf("%s (Conflicted copy %s %s) (%d)%s", stem, dateStr, timeStr, i, ext)
		taken, err = tx.ExistsByName(parentID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}
