package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile        = "ledger.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

var (
	errNoBackups = errors.New("no ledger backups available")

	// ErrTxNotFound is returned by TxResult for hashes never committed.
	ErrTxNotFound = errors.New("transaction not found")
)

// TxRecord is the committed result of one transaction.
type TxRecord struct {
	Hash    string `json:"hash"`
	Height  int64  `json:"height"`
	Index   uint32 `json:"index"`
	Code    uint32 `json:"code"`
	Log     string `json:"log"`
	GasUsed int64  `json:"gasUsed"`
	// Raw is written with the block; TxResult leaves it empty.
	Raw     []byte `json:"-"`
}

// Block is one committed block with the results of its transactions.
type Block struct {
	Height  int64
	AppHash []byte
	Time    time.Time
	Txs     []TxRecord
}

// Store persists committed blocks and state snapshots to a SQLite database.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
}

type backupInfo struct {
	path      string
	timestamp int64
}

// NewStore opens or creates the ledger database at filePath.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	if err := s.tryOpenOrRecover(); err != nil {
		return nil, err
	}

	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	return s, nil
}

// Path returns the absolute database path.
func (s *Store) Path() string {
	return s.file
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) tryOpenOrRecover() error {
	if err := s.openDB(); err != nil {
		if recErr := s.recoverDatabase(err); recErr != nil {
			return recErr
		}
	}
	return nil
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(s.file)))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	// Ping does not touch the file header; force a read so a corrupt file
	// is detected here and recovered from backup.
	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		return fmt.Errorf("read sqlite schema: %w", err)
	}

	s.db = db
	return nil
}

func (s *Store) recoverDatabase(openErr error) error {
	if err := s.restoreLatestBackup(); err != nil {
		if errors.Is(err, errNoBackups) {
			if cleanErr := s.resetDatabaseFiles(); cleanErr != nil {
				return fmt.Errorf("reset database after %v: %w", openErr, cleanErr)
			}
			if err := s.openDB(); err != nil {
				return fmt.Errorf("create fresh database after %v: %w", openErr, err)
			}
			return nil
		}
		return fmt.Errorf("restore database after %v: %w", openErr, err)
	}
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", filepath.Base(path), err)
			}
		}
	}
	return firstErr
}

func (s *Store) restoreLatestBackup() error {
	prefix, ext := s.backupPrefix()
	backups, err := listBackups(s.backupDir, prefix, ext)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return errNoBackups
	}

	latest := backups[len(backups)-1]
	if err := s.resetDatabaseFiles(); err != nil {
		return err
	}
	if err := copyFile(latest.path, s.file); err != nil {
		return fmt.Errorf("copy backup %s: %w", filepath.Base(latest.path), err)
	}
	return s.openDB()
}

func (s *Store) backupPrefix() (string, string) {
	base := filepath.Base(s.file)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return prefix, ext
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			height INTEGER PRIMARY KEY,
			app_hash BLOB NOT NULL,
			time TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS txs (
			hash TEXT PRIMARY KEY,
			height INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			code INTEGER NOT NULL,
			log TEXT,
			gas_used INTEGER NOT NULL,
			raw BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS txs_height ON txs(height)`,
		`CREATE TABLE IF NOT EXISTS state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			height INTEGER NOT NULL,
			json BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	return nil
}

// SaveBlock writes the block, its transaction results and the post-block
// state snapshot in a single database transaction.
func (s *Store) SaveBlock(block Block, state *State) error {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin block %d: %w", block.Height, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO blocks (height, app_hash, time) VALUES (?, ?, ?)`,
		block.Height, block.AppHash, formatTime(block.Time)); err != nil {
		return fmt.Errorf("insert block %d: %w", block.Height, err)
	}

	for _, rec := range block.Txs {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO txs (hash, height, idx, code, log, gas_used, raw)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.Hash, block.Height, rec.Index, rec.Code, rec.Log, rec.GasUsed, rec.Raw); err != nil {
			return fmt.Errorf("insert tx %s: %w", rec.Hash, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO state (id, height, json) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET height = excluded.height, json = excluded.json`,
		block.Height, snapshot); err != nil {
		return fmt.Errorf("write state snapshot: %w", err)
	}

	return tx.Commit()
}

// LoadState returns the last committed state snapshot and its height.
// A fresh database yields a nil state and height zero.
func (s *Store) LoadState() (*State, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var height int64
	var raw []byte
	err := s.db.QueryRow(`SELECT height, json FROM state WHERE id = 1`).Scan(&height, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read state snapshot: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, 0, fmt.Errorf("decode state snapshot: %w", err)
	}
	if st.Voters == nil {
		st.Voters = make(map[string]VoterRecord)
	}
	if st.Nonces == nil {
		st.Nonces = make(map[string]uint64)
	}
	return &st, height, nil
}

// LastBlock returns the most recent committed block header. Transactions
// are not loaded. A fresh database returns the zero Block.
func (s *Store) LastBlock() (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b Block
	var ts sql.NullString
	err := s.db.QueryRow(`SELECT height, app_hash, time FROM blocks ORDER BY height DESC LIMIT 1`).
		Scan(&b.Height, &b.AppHash, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Block{}, nil
	}
	if err != nil {
		return Block{}, fmt.Errorf("read last block: %w", err)
	}
	b.Time = parseTime(ts.String)
	return b, nil
}

// TxResult returns the committed result for the upper-case hex hash.
func (s *Store) TxResult(hash string) (TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec TxRecord
	var logText sql.NullString
	err := s.db.QueryRow(`SELECT hash, height, idx, code, log, gas_used FROM txs WHERE hash = ?`,
		strings.ToUpper(hash)).
		Scan(&rec.Hash, &rec.Height, &rec.Index, &rec.Code, &logText, &rec.GasUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return TxRecord{}, ErrTxNotFound
	}
	if err != nil {
		return TxRecord{}, fmt.Errorf("read tx %s: %w", hash, err)
	}
	rec.Log = logText.String
	return rec, nil
}

// BackupCurrent writes a snapshot of the database to a timestamped file and
// prunes old backups beyond maxBackups. Returns the backup path when created.
func (s *Store) BackupCurrent(maxBackups int) (string, error) {
	snapshot, err := s.ExportSnapshot()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup directory: %w", err)
	}

	prefix, ext := s.backupPrefix()
	timestamp := time.Now().Unix()
	var backupPath string
	for {
		backupPath = filepath.Join(s.backupDir, fmt.Sprintf("%s-%d%s", prefix, timestamp, ext))
		if _, err := os.Stat(backupPath); errors.Is(err, os.ErrNotExist) {
			break
		}
		timestamp++
	}

	if err := os.WriteFile(backupPath, snapshot, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	pruneBackups(s.backupDir, prefix, ext, maxBackups)

	return backupPath, nil
}

// ExportSnapshot returns a consistent copy of the current database contents.
func (s *Store) ExportSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.file); errors.Is(err, os.ErrNotExist) {
		return nil, os.ErrNotExist
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.file), "ledger-export-*.db")
	if err != nil {
		return nil, fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()

	escaped := strings.ReplaceAll(tempPath, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("vacuum into temp file: %w", err)
	}

	data, err := os.ReadFile(tempPath)
	os.Remove(tempPath)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}

	return data, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	return time.Time{}
}

func listBackups(dir, prefix, ext string) ([]backupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []backupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if ext != "" && !strings.HasSuffix(name, ext) {
			continue
		}

		stem := strings.TrimSuffix(name, ext)
		ts, parseErr := strconv.ParseInt(strings.TrimPrefix(stem, prefix+"-"), 10, 64)
		if parseErr != nil {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			ts = info.ModTime().Unix()
		}

		backups = append(backups, backupInfo{
			path:      filepath.Join(dir, name),
			timestamp: ts,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].timestamp == backups[j].timestamp {
			return backups[i].path < backups[j].path
		}
		return backups[i].timestamp < backups[j].timestamp
	})

	return backups, nil
}

func pruneBackups(dir, prefix, ext string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}
	backups, err := listBackups(dir, prefix, ext)
	if err != nil || len(backups) <= maxBackups {
		return
	}
	for i := 0; i < len(backups)-maxBackups; i++ {
		_ = os.Remove(backups[i].path)
	}
}
