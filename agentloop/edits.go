package agentloop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
)

// DefaultUndoLimit bounds the undo history.
const DefaultUndoLimit = 50

// FileChange is a mutation requested by write_file or edit_file.
type FileChange struct {
	Path       string // workspace-relative, for display and diffs
	AbsPath    string
	OldContent string
	NewContent string
	Existed    bool
	ToolName   string
}

// PendingEdit is a change held back until a human approves or rejects it.
type PendingEdit struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	OldContent string    `json:"old_content"`
	NewContent string    `json:"new_content"`
	Diff       string    `json:"diff"`
	ToolName   string    `json:"tool_name"`
	CreatedAt  time.Time `json:"created_at"`

	change FileChange
}

// UndoEntry records an applied change so it can be reverted.
type UndoEntry struct {
	Path       string    `json:"path"`
	OldContent string    `json:"old_content"`
	NewContent string    `json:"new_content"`
	ToolName   string    `json:"tool_name"`
	CreatedAt  time.Time `json:"created_at"`

	absPath string
	existed bool
}

// EditStore owns the pending-edit map and the undo history. One store is
// shared by every session in the process, so Undo reverts the most recent
// change from any session.
type EditStore struct {
	mu        sync.Mutex
	approval  bool
	pending   map[string]*PendingEdit
	order     []string
	undo      []UndoEntry
	undoLimit int
	now       func() time.Time
}

// EditStoreOption configures an EditStore.
type EditStoreOption func(*EditStore)

// WithUndoLimit sets the undo history capacity.
func WithUndoLimit(n int) EditStoreOption {
	return func(s *EditStore) {
		if n > 0 {
			s.undoLimit = n
		}
	}
}

// WithApprovalMode sets the initial approval mode.
func WithApprovalMode(enabled bool) EditStoreOption {
	return func(s *EditStore) {
		s.approval = enabled
	}
}

// NewEditStore creates an empty store.
func NewEditStore(opts ...EditStoreOption) *EditStore {
	s := &EditStore{
		pending:   make(map[string]*PendingEdit),
		undoLimit: DefaultUndoLimit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApprovalMode reports whether changes are held for approval.
func (s *EditStore) ApprovalMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approval
}

// SetApprovalMode switches approval mode. Edits already pending stay
// pending.
func (s *EditStore) SetApprovalMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approval = enabled
}

// Submit applies change, or stores it as a PendingEdit when approval mode
// is on. The returned edit is nil when the change was applied.
func (s *EditStore) Submit(change FileChange) (*PendingEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.approval {
		edit := &PendingEdit{
			ID:         uuid.NewString(),
			Path:       change.Path,
			OldContent: change.OldContent,
			NewContent: change.NewContent,
			Diff:       UnifiedDiff(change.OldContent, change.NewContent, change.Path),
			ToolName:   change.ToolName,
			CreatedAt:  s.now(),
			change:     change,
		}
		s.pending[edit.ID] = edit
		s.order = append(s.order, edit.ID)
		copied := *edit
		return &copied, nil
	}
	return nil, s.commitLocked(change)
}

func (s *EditStore) commitLocked(change FileChange) error {
	if err := putFile(change.AbsPath, change.NewContent); err != nil {
		return err
	}
	s.undo = append(s.undo, UndoEntry{
		Path:       change.Path,
		OldContent: change.OldContent,
		NewContent: change.NewContent,
		ToolName:   change.ToolName,
		CreatedAt:  s.now(),
		absPath:    change.AbsPath,
		existed:    change.Existed,
	})
	if over := len(s.undo) - s.undoLimit; over > 0 {
		s.undo = append([]UndoEntry(nil), s.undo[over:]...)
	}
	return nil
}

// Approve writes a pending edit to disk and removes it from the queue.
func (s *EditStore) Approve(id string) (PendingEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edit, ok := s.pending[id]
	if !ok {
		return PendingEdit{}, ErrPendingNotFound
	}
	if err := s.commitLocked(edit.change); err != nil {
		return PendingEdit{}, fmt.Errorf("apply %s: %w", edit.Path, err)
	}
	s.removeLocked(id)
	return *edit, nil
}

// Reject discards a pending edit.
func (s *EditStore) Reject(id string) (PendingEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edit, ok := s.pending[id]
	if !ok {
		return PendingEdit{}, ErrPendingNotFound
	}
	s.removeLocked(id)
	return *edit, nil
}

func (s *EditStore) removeLocked(id string) {
	delete(s.pending, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Pending lists unresolved edits, oldest first.
func (s *EditStore) Pending() []PendingEdit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingEdit, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.pending[id])
	}
	return out
}

// ClearPending discards every pending edit and returns how many there were.
func (s *EditStore) ClearPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.order)
	s.pending = make(map[string]*PendingEdit)
	s.order = nil
	return n
}

// Undo reverts the most recent applied change. A file that did not exist
// before the change is removed.
func (s *EditStore) Undo() (UndoEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undo) == 0 {
		return UndoEntry{}, ErrNothingToUndo
	}
	entry := s.undo[len(s.undo)-1]
	var err error
	if entry.existed {
		err = putFile(entry.absPath, entry.OldContent)
	} else {
		err = os.Remove(entry.absPath)
		if os.IsNotExist(err) {
			err = nil
		}
	}
	if err != nil {
		return UndoEntry{}, fmt.Errorf("undo %s: %w", entry.Path, err)
	}
	s.undo = s.undo[:len(s.undo)-1]
	return entry, nil
}

// UndoDepth returns the number of entries in the undo history.
func (s *EditStore) UndoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo)
}

func putFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// UnifiedDiff renders a unified diff with three lines of context between
// old and new, labelled a/path and b/path.
func UnifiedDiff(oldContent, newContent, path string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(oldContent),
		B:        splitLines(newContent),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

// splitLines splits s after each newline. A final newline does not start
// an extra empty line; a missing one is supplied so hunks stay line-framed.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	lines[len(lines)-1] += "\n"
	return lines
}
