package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/dhcgn/parcelscan/model"
)

const SQLiteFile = "ledger.db"

const schema = `
CREATE TABLE IF NOT EXISTS purchases (
	message_id      TEXT NOT NULL,
	tracking_number TEXT NOT NULL,
	msg_to          TEXT NOT NULL DEFAULT '',
	msg_from        TEXT NOT NULL DEFAULT '',
	msg_date        TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	line1           TEXT NOT NULL DEFAULT '',
	line2           TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL DEFAULT '',
	zipcode         TEXT NOT NULL DEFAULT '',
	recipient       TEXT NOT NULL DEFAULT '',
	carrier         TEXT NOT NULL DEFAULT '',
	organization    TEXT NOT NULL DEFAULT '',
	recorded_at     TEXT NOT NULL,
	run_id          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (message_id, tracking_number)
);
CREATE TABLE IF NOT EXISTS failures (
	message_id  TEXT PRIMARY KEY,
	msg_to      TEXT NOT NULL DEFAULT '',
	msg_from    TEXT NOT NULL DEFAULT '',
	msg_date    TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL,
	run_id      TEXT NOT NULL DEFAULT ''
);`

// SQLiteLedger stores both logs in a single SQLite database. Rows are kept
// in insertion order by rowid.
type SQLiteLedger struct {
	*MemoryLedger
	db   *sql.DB
	opts Options
}

func NewSQLiteLedger(stateDir string, opts Options) (*SQLiteLedger, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	opts = opts.withDefaults()

	path := filepath.Join(stateDir, SQLiteFile)
	l := &SQLiteLedger{MemoryLedger: NewMemoryLedger(), opts: opts}

	if !opts.Persist {
		// Dry runs read an existing database but never create one.
		if _, err := os.Stat(path); err != nil {
			return l, nil
		}
	} else if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	l.db = db

	if err := l.load(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) load() error {
	rows, err := l.db.Query(`SELECT message_id, tracking_number, msg_to, msg_from, msg_date, subject,
		line1, line2, city, state, zipcode, recipient FROM purchases ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var meta model.MessageMeta
		var addr model.Address
		var tracking string
		if err := rows.Scan(&meta.ID, &tracking, &meta.To, &meta.From, &meta.Date, &meta.Subject,
			&addr.Line1, &addr.Line2, &addr.City, &addr.State, &addr.Zipcode, &addr.Recipient); err != nil {
			return fmt.Errorf("scan purchase: %w", err)
		}
		l.addPurchase(l.opts.Assembler.Assemble(meta, tracking, addr))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read purchases: %w", err)
	}

	failures, err := l.db.Query(`SELECT message_id, msg_to, msg_from, msg_date, subject FROM failures ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("query failures: %w", err)
	}
	defer failures.Close()

	for failures.Next() {
		var meta model.MessageMeta
		if err := failures.Scan(&meta.ID, &meta.To, &meta.From, &meta.Date, &meta.Subject); err != nil {
			return fmt.Errorf("scan failure: %w", err)
		}
		l.addFailure(meta)
	}
	if err := failures.Err(); err != nil {
		return fmt.Errorf("read failures: %w", err)
	}

	snap := l.Snapshot()
	l.opts.Logger.Debug("ledger loaded",
		zap.String("backend", string(BackendSQLite)),
		zap.Int("purchases", snap.Purchases),
		zap.Int("failures", snap.Failures))
	return nil
}

func (l *SQLiteLedger) AppendSuccess(p model.Purchase) (bool, error) {
	if l.hasPurchase(p.Key()) {
		return false, nil
	}
	if l.opts.Persist {
		res, err := l.db.Exec(`INSERT OR IGNORE INTO purchases
			(message_id, tracking_number, msg_to, msg_from, msg_date, subject,
			 line1, line2, city, state, zipcode, recipient, carrier, organization, recorded_at, run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Message.ID, p.TrackingNumber, p.Message.To, p.Message.From, p.Message.Date, p.Message.Subject,
			p.Address.Line1, p.Address.Line2, p.Address.City, p.Address.State, p.Address.Zipcode, p.Address.Recipient,
			string(p.Carrier), string(p.Organization), l.timestamp(), l.opts.RunID)
		if err != nil {
			return false, fmt.Errorf("append purchase %s: %w", p.Message.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			l.addPurchase(p)
			return false, nil
		}
	}
	return l.addPurchase(p), nil
}

func (l *SQLiteLedger) AppendError(meta model.MessageMeta) (bool, error) {
	if l.hasFailure(meta.ID) {
		return false, nil
	}
	if l.opts.Persist {
		res, err := l.db.Exec(`INSERT OR IGNORE INTO failures
			(message_id, msg_to, msg_from, msg_date, subject, recorded_at, run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			meta.ID, meta.To, meta.From, meta.Date, meta.Subject, l.timestamp(), l.opts.RunID)
		if err != nil {
			return false, fmt.Errorf("append failure %s: %w", meta.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			l.addFailure(meta)
			return false, nil
		}
	}
	return l.addFailure(meta), nil
}

func (l *SQLiteLedger) timestamp() string {
	return l.opts.Now().UTC().Format(time.RFC3339Nano)
}

func (l *SQLiteLedger) Close() error {
	if l.db == nil {
		return nil
	}
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close ledger db: %w", err)
	}
	return nil
}
