package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"digestbot/pkg/logx"
)

// fileStore keeps subscriber records in a single JSON file shaped as
//
//	{"<id>": {"newsletter_time": H}, ...}
//
// It also accepts the legacy flat-list shape ([id, id, ...]) on load,
// assigning the default hour; the first Save rewrites the new shape.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

const legacyDefaultHour = 12

type fileRecord struct {
	Hour int `json:"newsletter_time"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	// Current shape first.
	var m map[string]fileRecord
	if err := json.Unmarshal(b, &m); err == nil {
		recs := make([]Record, 0, len(m))
		for idStr, fr := range m {
			id, convErr := strconv.ParseInt(idStr, 10, 64)
			if convErr != nil {
				s.log.Warn("skipping malformed subscriber id", logx.String("id", idStr))
				continue
			}
			recs = append(recs, Record{ID: id, Hour: fr.Hour})
		}
		sortRecords(recs)
		return recs, nil
	}

	// Legacy shape: flat list of ids.
	var ids []int64
	if err := json.Unmarshal(b, &ids); err == nil {
		recs := make([]Record, 0, len(ids))
		for _, id := range ids {
			recs = append(recs, Record{ID: id, Hour: legacyDefaultHour})
		}
		sortRecords(recs)
		s.log.Info("migrated legacy subscriber list", logx.Int("count", len(recs)))
		return recs, nil
	}

	return nil, fmt.Errorf("unrecognized subscriber file format: %s", s.path)
}

func (s *fileStore) Save(ctx context.Context, recs []Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]fileRecord, len(recs))
	for _, r := range recs {
		m[strconv.FormatInt(r.ID, 10)] = fileRecord{Hour: r.Hour}
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a torn file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}
