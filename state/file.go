package state

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dhcgn/parcelscan/model"
)

const (
	PurchasesFile = "purchases.jsonl"
	ErrorsFile    = "errors.jsonl"
)

// FileLedger persists both logs as JSON lines under a state directory.
// Every append is synced before it returns.
type FileLedger struct {
	*MemoryLedger
	opts      Options
	purchases *os.File
	failures  *os.File
	writeMu   sync.Mutex
	corrupt   int
}

type purchaseRecord struct {
	Message        model.MessageMeta  `json:"message"`
	TrackingNumber string             `json:"tracking_number"`
	Address        model.Address      `json:"address"`
	Carrier        model.Carrier      `json:"carrier,omitempty"`
	Organization   model.Organization `json:"organization,omitempty"`
	RecordedAt     time.Time          `json:"recorded_at"`
	RunID          string             `json:"run_id,omitempty"`
}

type failureRecord struct {
	Message    model.MessageMeta `json:"message"`
	RecordedAt time.Time         `json:"recorded_at"`
	RunID      string            `json:"run_id,omitempty"`
}

func NewFileLedger(stateDir string, opts Options) (*FileLedger, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	opts = opts.withDefaults()

	if opts.Persist {
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	l := &FileLedger{MemoryLedger: NewMemoryLedger(), opts: opts}

	purchasesPath := filepath.Join(stateDir, PurchasesFile)
	errorsPath := filepath.Join(stateDir, ErrorsFile)

	if err := l.loadLines(purchasesPath, l.loadPurchase); err != nil {
		return nil, err
	}
	if err := l.loadLines(errorsPath, l.loadFailure); err != nil {
		return nil, err
	}

	if !opts.Persist {
		return l, nil
	}

	var err error
	if l.purchases, err = openAppend(purchasesPath); err != nil {
		return nil, err
	}
	if l.failures, err = openAppend(errorsPath); err != nil {
		l.purchases.Close()
		return nil, err
	}
	return l, nil
}

// Corrupt is the number of lines skipped during load.
func (l *FileLedger) Corrupt() int {
	return l.corrupt
}

func (l *FileLedger) loadLines(path string, decode func([]byte) error) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for line := 1; ; line++ {
		text, readErr := reader.ReadBytes('\n')
		text = bytes.TrimSpace(text)
		if len(text) > 0 {
			if err := decode(text); err != nil {
				l.corrupt++
				l.opts.Logger.Warn("skipping corrupt ledger line",
					zap.String("file", filepath.Base(path)),
					zap.Int("line", line),
					zap.Error(err))
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read ledger %s: %w", path, readErr)
		}
	}
}

func (l *FileLedger) loadPurchase(data []byte) error {
	var rec purchaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.Message.ID == "" {
		return errors.New("purchase record without message id")
	}
	l.addPurchase(l.opts.Assembler.Assemble(rec.Message, rec.TrackingNumber, rec.Address))
	return nil
}

func (l *FileLedger) loadFailure(data []byte) error {
	var rec failureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.Message.ID == "" {
		return errors.New("failure record without message id")
	}
	l.addFailure(rec.Message)
	return nil
}

func (l *FileLedger) AppendSuccess(p model.Purchase) (bool, error) {
	if l.hasPurchase(p.Key()) {
		return false, nil
	}
	if l.opts.Persist {
		rec := purchaseRecord{
			Message:        p.Message,
			TrackingNumber: p.TrackingNumber,
			Address:        p.Address,
			Carrier:        p.Carrier,
			Organization:   p.Organization,
			RecordedAt:     l.opts.Now().UTC(),
			RunID:          l.opts.RunID,
		}
		if err := l.write(l.purchases, rec); err != nil {
			return false, fmt.Errorf("append purchase %s: %w", p.Message.ID, err)
		}
	}
	return l.addPurchase(p), nil
}

func (l *FileLedger) AppendError(meta model.MessageMeta) (bool, error) {
	if l.hasFailure(meta.ID) {
		return false, nil
	}
	if l.opts.Persist {
		rec := failureRecord{Message: meta, RecordedAt: l.opts.Now().UTC(), RunID: l.opts.RunID}
		if err := l.write(l.failures, rec); err != nil {
			return false, fmt.Errorf("append failure %s: %w", meta.ID, err)
		}
	}
	return l.addFailure(meta), nil
}

func (l *FileLedger) write(file *os.File, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Close closes both ledger files.
func (l *FileLedger) Close() error {
	if !l.opts.Persist {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	var firstErr error
	for _, f := range []*os.File{l.purchases, l.failures} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close ledger: %w", err)
		}
	}
	return firstErr
}

// openAppend opens path for appending and terminates a trailing partial
// line so the next record starts on its own line.
func openAppend(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s for append: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat ledger %s: %w", path, err)
	}
	if info.Size() == 0 {
		return file, nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		file.Close()
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if last[0] != '\n' {
		if _, err := file.Write([]byte{'\n'}); err != nil {
			file.Close()
			return nil, fmt.Errorf("terminate ledger %s: %w", path, err)
		}
	}
	return file, nil
}
