package container

import (
	"context"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/uptrace/bun"
)

// ProcessLogFilePath returns the on-disk path for an execution's raw log
// file: <assetRoot>/logs/<sessionID>/<executionID>.jsonl. During log
// migration a sibling "<executionID>.jsonl.tmp" may exist transiently.
func ProcessLogFilePath(assetRoot, sessionID, executionID string) string {
	return filepath.Join(assetRoot, "logs", sessionID, executionID+".jsonl")
}

// LogWriter owns persistence of one execution's replayable log stream to
// disk and the CodingAgentTurn row tracking its session/message ids —
// spec.md §4.4's spawn_stream_raw_logs_to_storage task.
type LogWriter struct {
	db        bun.IDB
	assetRoot string
}

// NewLogWriter builds a LogWriter rooted at assetRoot.
func NewLogWriter(db bun.IDB, assetRoot string) *LogWriter {
	return &LogWriter{db: db, assetRoot: assetRoot}
}

// StreamToStorage subscribes to store's history-then-live stream and
// drains it to disk plus the CodingAgentTurn row for executionID, until
// Finished is observed or ctx is cancelled. Intended to run as a
// long-lived background task, one per in-flight execution process.
func (w *LogWriter) StreamToStorage(ctx context.Context, sessionID, executionID string, store *MsgStore) error {
	path := ProcessLogFilePath(w.assetRoot, sessionID, executionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ErrIO("create log directory", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return ErrIO("open log file", err)
	}
	defer f.Close()

	sub := store.HistoryPlusStream(ctx)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			switch msg.Kind {
			case LogKindStdout, LogKindStderr:
				if err := appendLine(f, msg); err != nil {
					return err
				}
			case LogKindSessionID:
				if err := w.updateTurn(ctx, executionID, "agent_session_id", msg.Value); err != nil {
					return err
				}
			case LogKindMessageID:
				if err := w.updateTurn(ctx, executionID, "agent_message_id", msg.Value); err != nil {
					return err
				}
			case LogKindFinished:
				return appendLine(f, msg)
			case LogKindJsonPatch, LogKindReady:
				// Not persisted to the raw log.
			}
		}
	}
}

func appendLine(f *os.File, msg LogMsg) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return ErrIO("marshal log message", err)
	}
	b = append(b, '\n')
	if _, err := f.Write(b); err != nil {
		return ErrIO("write log line", err)
	}
	return nil
}

func (w *LogWriter) updateTurn(ctx context.Context, executionID, column, value string) error {
	_, err := w.db.NewUpdate().
		Model((*CodingAgentTurn)(nil)).
		Set(fmt.Sprintf("%s = ?", column), value).
		Where("execution_process_id = ?", executionID).
		Exec(ctx)
	if err != nil {
		return ErrDatabase("update coding agent turn", err)
	}
	return nil
}

// ReadRawLog reads and parses every LogMsg line of executionID's on-disk
// file, used by stream_raw_logs/stream_normalized_logs when no live
// MsgStore exists.
func ReadRawLog(assetRoot, sessionID, executionID string) ([]LogMsg, error) {
	path := ProcessLogFilePath(assetRoot, sessionID, executionID)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ErrIO("read log file", err)
	}

	var msgs []LogMsg
	dec := json.NewDecoder(bytes.NewReader(b))
	for dec.More() {
		var m LogMsg
		if err := dec.Decode(&m); err != nil {
			return msgs, ErrIO("decode log line", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
