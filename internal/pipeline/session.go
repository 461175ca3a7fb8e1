package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

// CategorySet reports whether a category may be assigned
type CategorySet interface {
	IsKnown(category domain.Category) bool
}

// Session is one isolated staging instance. All staged state of an import
// run lives here; nothing is shared between sessions.
type Session struct {
	mu sync.Mutex

	id          string
	userID      string
	accountID   string
	fileName    string
	fileType    domain.FileType
	state       State
	staged      []domain.ImportedTransaction
	index       map[string]int // hash -> first staged position
	skipped     int
	skipReasons []string
	stats       dedup.Stats
	archivePath string
	log         *domain.ImportLog
	categories  CategorySet
	now         func() time.Time
	createdAt   time.Time
	updatedAt   time.Time
}

func newSession(id, userID, accountID, fileName string, categories CategorySet, now func() time.Time) *Session {
	created := now()
	return &Session{
		id:         id,
		userID:     userID,
		accountID:  accountID,
		fileName:   fileName,
		state:      StateIdle,
		categories: categories,
		now:        now,
		createdAt:  created,
		updatedAt:  created,
	}
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// UserID returns the owner of the session
func (s *Session) UserID() string { return s.userID }

// AccountID returns the account the statement is imported into
func (s *Session) AccountID() string { return s.accountID }

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UpdatedAt returns the time of the last state change
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Transactions returns a copy of the staged list
func (s *Session) Transactions() []domain.ImportedTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ImportedTransaction, len(s.staged))
	copy(out, s.staged)
	return out
}

// transition moves the session to a new state. Caller holds s.mu.
func (s *Session) transition(to State, now time.Time) error {
	if err := ValidateTransition(s.state, to); err != nil {
		return err
	}
	s.state = to
	s.updatedAt = now
	return nil
}

// advance is transition for callers that do not hold s.mu
func (s *Session) advance(to State, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(to, now)
}

func (s *Session) setStaged(staged []domain.ImportedTransaction) {
	s.staged = staged
	s.index = make(map[string]int, len(staged))
	for i, txn := range staged {
		if _, ok := s.index[txn.Hash]; !ok {
			s.index[txn.Hash] = i
		}
	}
}

// ReassignCategory overrides the category of every staged row with hash.
// Only local state changes; nothing is persisted until commit.
func (s *Session) ReassignCategory(hash string, category domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !CanReview(s.state) {
		return fmt.Errorf("%w: cannot edit categories in state %s", domain.ErrInvalidTransition, s.state)
	}
	if s.categories != nil && !s.categories.IsKnown(category) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	first, ok := s.index[hash]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownTransaction, hash)
	}

	// repeated hashes within the batch share the override
	for i := first; i < len(s.staged); i++ {
		if s.staged[i].Hash == hash {
			s.staged[i].Category = category
		}
	}
	return s.transition(StateReviewed, s.now())
}

// Discard abandons the session. Staged rows are dropped; nothing was persisted.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transition(StateAborted, s.now()); err != nil {
		return err
	}
	s.staged = nil
	s.index = nil
	s.stats = dedup.Stats{}
	return nil
}

// View is the serializable review state of a session
type View struct {
	ID             string                       `json:"id"`
	AccountID      string                       `json:"accountId"`
	FileName       string                       `json:"fileName"`
	FileType       domain.FileType              `json:"fileType"`
	State          State                        `json:"state"`
	Transactions   []domain.ImportedTransaction `json:"transactions"`
	TotalRecords   int                          `json:"totalRecords"`
	DuplicateCount int                          `json:"duplicateCount"`
	NewCount       int                          `json:"newCount"`
	Skipped        int                          `json:"skipped"`
	SkipReasons    []string                     `json:"skipReasons,omitempty"`
	ArchivePath    string                       `json:"archivePath,omitempty"`
	Log            *domain.ImportLog            `json:"log,omitempty"`
	CreatedAt      time.Time                    `json:"createdAt"`
}

// View returns a snapshot of the session for display
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	txns := make([]domain.ImportedTransaction, len(s.staged))
	copy(txns, s.staged)
	return View{
		ID:             s.id,
		AccountID:      s.accountID,
		FileName:       s.fileName,
		FileType:       s.fileType,
		State:          s.state,
		Transactions:   txns,
		TotalRecords:   len(txns),
		DuplicateCount: s.stats.Duplicates(),
		NewCount:       len(txns) - s.stats.Duplicates(),
		Skipped:        s.skipped,
		SkipReasons:    append([]string(nil), s.skipReasons...),
		ArchivePath:    s.archivePath,
		Log:            s.log,
		CreatedAt:      s.createdAt,
	}
}
