package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "otterbot/pkg/logx"
)

// fileStore persists the in-memory state to disk.
//
// Files:
//   - <prefix>.state.json          (guild configs, rewritten atomically on change)
//   - <prefix>.audit.jsonl         (append-only JSON Lines)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// The dedup journal is periodically compacted into the snapshot.
type fileStore struct {
	*memStore
	log logx.Logger

	fmu sync.Mutex

	statePath         string
	auditFile         *os.File
	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedupWrites       int
}

type fileState struct {
	Activity map[string]ActivityConfig            `json:"activity"`
	Settings map[string]map[string]json.RawMessage `json:"settings"`
	Guilds   map[string]Guild                     `json:"guilds"`
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		memStore:          newMemStore(),
		log:               log,
		statePath:         prefix + ".state.json",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
	}
	if err := s.loadState(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	_ = loadDedupSnapshot(s.dedupSnapshotPath, s.dedup)
	journalPath := prefix + ".dedup.journal.jsonl"
	_ = replayDedupJournal(journalPath, s.dedup)
	pruneExpiredDedup(s.dedup)

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.auditFile, s.dedupJournalFile = af, jf
	return s, nil
}

func (s *fileStore) loadState() error {
	b, err := os.ReadFile(s.statePath)
	if err != nil {
		return err
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range st.Activity {
		s.activity[k] = v
	}
	for kind, m := range st.Settings {
		dst := map[string][]byte{}
		for g, raw := range m {
			dst[g] = []byte(raw)
		}
		s.settings[kind] = dst
	}
	for k, v := range st.Guilds {
		s.guilds[k] = v
	}
	return nil
}

// flush rewrites the state snapshot via tmp file and rename.
func (s *fileStore) flush() error {
	s.mu.Lock()
	st := fileState{
		Activity: make(map[string]ActivityConfig, len(s.activity)),
		Settings: make(map[string]map[string]json.RawMessage, len(s.settings)),
		Guilds:   make(map[string]Guild, len(s.guilds)),
	}
	for k, v := range s.activity {
		st.Activity[k] = v
	}
	for kind, m := range s.settings {
		dst := make(map[string]json.RawMessage, len(m))
		for g, b := range m {
			dst[g] = json.RawMessage(b)
		}
		st.Settings[kind] = dst
	}
	for k, v := range s.guilds {
		st.Guilds[k] = v
	}
	s.mu.Unlock()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	s.fmu.Lock()
	defer s.fmu.Unlock()
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) PutActivity(ctx context.Context, c ActivityConfig) error {
	if err := s.memStore.PutActivity(ctx, c); err != nil {
		return err
	}
	return s.flush()
}

func (s *fileStore) DeleteActivity(ctx context.Context, guildID string) (bool, error) {
	ok, _ := s.memStore.DeleteActivity(ctx, guildID)
	if !ok {
		return false, nil
	}
	return true, s.flush()
}

func (s *fileStore) PutSetting(ctx context.Context, kind, guildID string, data []byte) error {
	if !json.Valid(data) {
		return errors.New("setting data must be JSON")
	}
	_ = s.memStore.PutSetting(ctx, kind, guildID, data)
	return s.flush()
}

func (s *fileStore) DeleteSetting(ctx context.Context, kind, guildID string) (bool, error) {
	ok, _ := s.memStore.DeleteSetting(ctx, kind, guildID)
	if !ok {
		return false, nil
	}
	return true, s.flush()
}

func (s *fileStore) PutGuild(ctx context.Context, g Guild) error {
	_ = s.memStore.PutGuild(ctx, g)
	return s.flush()
}

func (s *fileStore) DeleteGuild(ctx context.Context, guildID string) (bool, error) {
	ok, _ := s.memStore.DeleteGuild(ctx, guildID)
	if !ok {
		return false, nil
	}
	return true, s.flush()
}

func (s *fileStore) Close() error {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.dedupJournalFile != nil {
		err2 = s.dedupJournalFile.Close()
		s.dedupJournalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.fmu.Lock()
	defer s.fmu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_ = s.memStore.PutDedup(ctx, key, until)

	s.fmu.Lock()
	defer s.fmu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: until.UnixMilli()}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

// Call with s.fmu held.
func (s *fileStore) compactLocked() error {
	s.mu.Lock()
	pruneExpiredDedup(s.dedup)
	snap := make(map[string]int64, len(s.dedup))
	for k, v := range s.dedup {
		snap[k] = v
	}
	s.mu.Unlock()

	tmp := s.dedupSnapshotPath + ".tmp"
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, 2)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}
