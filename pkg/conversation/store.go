package conversation

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FileStore persists one JSON file per conversation under a directory.
// Records are written indented so the files stay diffable and inspectable.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Load(id string) (*Record, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, errors.Wrapf(err, "could not read conversation %s", id)
	}
	return ParseRecord(data)
}

func (s *FileStore) Save(record *Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "could not create conversation directory")
	}
	data, err := record.MarshalIndent()
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(record.ID), data, 0o644); err != nil {
		return errors.Wrapf(err, "could not write conversation %s", record.ID)
	}
	log.Debug().Str("conversation_id", record.ID).Str("path", s.path(record.ID)).Msg("saved conversation")
	return nil
}

// List returns the ids of all conversations in the store directory.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "could not list conversations")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		ids = append(ids, e.Name()[:len(e.Name())-len(".json")])
	}
	return ids, nil
}
