package cache

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	JournalFile   = "journal"
	journalTmp    = "journal.tmp"
	journalBackup = "journal.bkp"

	journalMagic   = "mangadl.disklru"
	journalVersion = "1"
	valueCount     = "1"

	redundantOpCompactThreshold = 2000
)

// readJournal replays the journal into c. rebuild is set when the journal
// ended with a truncated record and must be rewritten before appending.
func (c *DiskLRU) readJournal() (entries []*entry, rebuild bool, err error) {
	raw, err := os.ReadFile(c.path(JournalFile))
	if err != nil {
		return nil, false, err
	}

	lines := strings.Split(string(raw), "\n")
	if last := lines[len(lines)-1]; last != "" {
		// interrupted while appending the final record
		rebuild = true
	}
	lines = lines[:len(lines)-1]

	header := []string{journalMagic, journalVersion, strconv.Itoa(c.appVersion), valueCount, ""}
	if len(lines) < len(header) {
		return nil, false, errors.New("journal header is truncated")
	}
	for i, want := range header {
		if lines[i] != want {
			return nil, false, fmt.Errorf("unexpected journal header line %d: %q", i+1, lines[i])
		}
	}

	replay, _ := simplelru.NewLRU[string, *entry](math.MaxInt, nil)
	ops := 0
	for n, line := range lines[len(header):] {
		if err := replayLine(replay, line); err != nil {
			return nil, false, fmt.Errorf("journal line %d: %w", n+len(header)+1, err)
		}
		ops++
	}

	for _, key := range replay.Keys() {
		e, _ := replay.Peek(key)
		entries = append(entries, e)
	}
	c.redundantOps = ops - len(entries)
	return entries, rebuild, nil
}

func replayLine(replay *simplelru.LRU[string, *entry], line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return fmt.Errorf("malformed record %q", line)
	}
	op, key := fields[0], fields[1]
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid key %q", key)
	}

	switch {
	case op == "CLEAN" && len(fields) == 3:
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || size < 0 {
			return fmt.Errorf("invalid size in %q", line)
		}
		replay.Add(key, &entry{key: key, size: size})
	case op == "DIRTY" && len(fields) == 2:
		// the staging file is swept by processJournal
	case op == "REMOVE" && len(fields) == 2:
		replay.Remove(key)
	case op == "READ" && len(fields) == 2:
		replay.Get(key)
	default:
		return fmt.Errorf("malformed record %q", line)
	}
	return nil
}

// processJournal loads replayed entries whose files are intact and deletes
// everything else in the directory except the journal files: staging files of
// interrupted edits and values without a CLEAN record.
func (c *DiskLRU) processJournal(entries []*entry) {
	known := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		info, err := os.Stat(c.Path(e.key))
		if err != nil || info.Size() != e.size {
			removeQuietly(c.Path(e.key))
			c.redundantOps++
			continue
		}
		c.lru.Add(e.key, e)
		c.size += e.size
		known[e.key+".0"] = struct{}{}
	}

	files, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.WithError(err).Warn("failed to scan cache directory")
		return
	}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || isJournalFile(name) {
			continue
		}
		if _, ok := known[name]; ok {
			continue
		}
		c.log.WithField("file", name).Debug("removing orphaned cache file")
		removeQuietly(c.path(name))
	}
}

// rebuildJournal writes a compact journal holding only the live state and
// atomically replaces the current one.
func (c *DiskLRU) rebuildJournal() error {
	if err := c.closeJournal(); err != nil {
		c.log.WithError(err).Warn("failed to close cache journal")
	}

	if err := c.writeCompactJournal(); err != nil {
		// keep appending to whatever journal is in place
		if openErr := c.openJournalForAppend(); openErr != nil {
			return errors.Join(err, openErr)
		}
		return err
	}

	journal, backup := c.path(JournalFile), c.path(journalBackup)
	if _, err := os.Stat(journal); err == nil {
		if err := os.Rename(journal, backup); err != nil {
			return fmt.Errorf("failed to back up journal: %w", err)
		}
	}
	if err := os.Rename(c.path(journalTmp), journal); err != nil {
		return fmt.Errorf("failed to install journal: %w", err)
	}
	removeQuietly(backup)

	c.redundantOps = 0
	return c.openJournalForAppend()
}

func (c *DiskLRU) writeCompactJournal() error {
	f, err := os.Create(c.path(journalTmp))
	if err != nil {
		return fmt.Errorf("failed to create journal: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%s\n%s\n%d\n%s\n\n", journalMagic, journalVersion, c.appVersion, valueCount)
	for key := range c.editors {
		fmt.Fprintf(w, "DIRTY %s\n", key)
	}
	for _, key := range c.lru.Keys() {
		e, _ := c.lru.Peek(key)
		fmt.Fprintf(w, "CLEAN %s %d\n", key, e.size)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	return f.Sync()
}

func (c *DiskLRU) openJournalForAppend() error {
	f, err := os.OpenFile(c.path(JournalFile), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat journal: %w", err)
	}
	c.journal = f
	c.jw = bufio.NewWriter(f)
	c.journalSize = info.Size()
	return nil
}

func (c *DiskLRU) writeJournal(record string) {
	if c.jw == nil {
		return
	}
	n, err := c.jw.WriteString(record + "\n")
	c.journalSize += int64(n)
	if err != nil {
		c.log.WithError(err).Warn("failed to append to cache journal")
	}
}

func (c *DiskLRU) flushJournal() error {
	if c.jw == nil {
		return nil
	}
	return c.jw.Flush()
}

func (c *DiskLRU) closeJournal() error {
	if c.journal == nil {
		return nil
	}
	flushErr := c.jw.Flush()
	closeErr := c.journal.Close()
	c.journal, c.jw = nil, nil
	return errors.Join(flushErr, closeErr)
}

// restoreJournalBackup recovers from a crash in the middle of rebuildJournal.
func restoreJournalBackup(dir string) error {
	journal, backup := filepath.Join(dir, JournalFile), filepath.Join(dir, journalBackup)
	if _, err := os.Stat(backup); err != nil {
		return nil
	}
	if _, err := os.Stat(journal); err == nil {
		removeQuietly(backup)
		return nil
	}
	if err := os.Rename(backup, journal); err != nil {
		return fmt.Errorf("failed to restore journal backup: %w", err)
	}
	return nil
}
