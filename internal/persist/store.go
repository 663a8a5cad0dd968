package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"pkt.systems/pslog"
)

// Geometry is the window size remembered for one editor server name.
type Geometry struct {
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	FullScreen bool      `json:"fullscreen,omitempty"`
	SavedAt    time.Time `json:"saved_at"`
}

// Store persists window geometry to disk, one file per server name.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads the geometry saved for server.
func (s *Store) Load(server string) (Geometry, bool, error) {
	path := s.pathForServer(server)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("geometry load miss", "server", server)
			}
			return Geometry{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("geometry load failed", "server", server, "err", err)
		}
		return Geometry{}, false, err
	}
	var geom Geometry
	if err := json.Unmarshal(data, &geom); err != nil {
		if s.log != nil {
			s.log.Warn("geometry load failed", "server", server, "err", err)
		}
		return Geometry{}, false, err
	}
	if geom.Rows <= 0 || geom.Cols <= 0 {
		if s.log != nil {
			s.log.Warn("geometry load ignored", "server", server, "rows", geom.Rows, "cols", geom.Cols)
		}
		return Geometry{}, false, nil
	}
	if s.log != nil {
		s.log.Debug("geometry load ok", "server", server, "rows", geom.Rows, "cols", geom.Cols)
	}
	return geom, true, nil
}

// Save writes the geometry for server atomically.
func (s *Store) Save(server string, geom Geometry) error {
	path := s.pathForServer(server)
	if geom.SavedAt.IsZero() {
		geom.SavedAt = time.Now().UTC()
	}
	err := s.writeAtomic(path, geom)
	if err != nil {
		if s.log != nil {
			s.log.Warn("geometry save failed", "server", server, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("geometry save ok", "server", server, "rows", geom.Rows, "cols", geom.Cols)
	}
	return nil
}

func (s *Store) writeAtomic(path string, geom Geometry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(geom, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "geometry-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) pathForServer(server string) string {
	name := sanitize(server)
	if name == "" {
		name = "unnamed"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
