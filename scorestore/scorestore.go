// Package scorestore 本机的历史分数（sqlite），主机在每局分数交换后写入。
package scorestore

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mazesync/logging"
)

var ErrNoMatch = errors.New("scorestore: match not found")

// Entry 一条历史分数
type Entry struct {
	MatchID    string
	Username   string
	Score      int
	RecordedAt time.Time
}

// Store sqlite 分数库
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）分数库及其目录
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	sql_table := `CREATE TABLE IF NOT EXISTS scores (
		match_id VARCHAR(64) NOT NULL,
		username VARCHAR(64) NOT NULL,
		score INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS scores_match ON scores (match_id);
	`

	if _, err := db.Exec(sql_table); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record 写入一局的全部分数；同一局重复写入时覆盖
func (s *Store) Record(matchID string, board map[string]int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scores WHERE match_id = ?;`, matchID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO scores (
		match_id,
		username,
		score,
		recorded_at
	) VALUES (
		?,
		?,
		?,
		?
	);
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	names := make([]string, 0, len(board))
	for name := range board {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := stmt.Exec(matchID, name, board[name], now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Log.Infof("scorestore: recorded %d score(s) for match %s", len(board), matchID)
	return nil
}

// Top 历史最高的 n 条分数
func (s *Store) Top(n int) ([]Entry, error) {
	rows, err := s.db.Query(`SELECT match_id, username, score, recorded_at FROM scores
		ORDER BY score DESC, recorded_at ASC LIMIT ?;`, n)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Match 某一局的分数，按分数从高到低
func (s *Store) Match(matchID string) ([]Entry, error) {
	rows, err := s.db.Query(`SELECT match_id, username, score, recorded_at FROM scores
		WHERE match_id = ? ORDER BY score DESC, username ASC;`, matchID)
	if err != nil {
		return nil, err
	}
	r, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(r) == 0 {
		return nil, ErrNoMatch
	}
	return r, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var r []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.MatchID, &e.Username, &e.Score, &at); err != nil {
			return nil, err
		}
		e.RecordedAt = time.Unix(at, 0)
		r = append(r, e)
	}
	return r, rows.Err()
}
