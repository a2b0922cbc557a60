// Package budget enforces a daily USD spending cap shared across every
// process on the machine. The ledger is a JSON file guarded by an advisory
// file lock; each mutation is a lock, read-modify-write, rename cycle.
package budget

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/felipepmaragno/llm-council/internal/domain"
)

const (
	pathEnv = "LLMCOUNCIL_BUDGET_PATH"

	// Reservations abandoned by a crashed process expire after this.
	reservationTTL = 10 * time.Minute

	warnRatio     = 0.8
	criticalRatio = 0.95
)

// Ledger is the persisted daily state. The date is UTC; a stored date
// older than today means the spend has implicitly rolled over to zero.
type Ledger struct {
	Date         string        `json:"date"`
	SpentUSD     float64       `json:"spent_usd"`
	Reservations []Reservation `json:"reservations,omitempty"`
}

// Reservation holds an estimated amount against the cap while a call is
// in flight.
type Reservation struct {
	ID        string    `json:"id"`
	AmountUSD float64   `json:"amount_usd"`
	CreatedAt time.Time `json:"created_at"`
}

func (l *Ledger) reserved() float64 {
	var sum float64
	for _, r := range l.Reservations {
		sum += r.AmountUSD
	}
	return sum
}

// Limits are the caps enforced before dispatch. A nil field means
// unlimited.
type Limits struct {
	DailyCapUSD *float64
	MaxCostUSD  *float64
}

// Store mediates all access to one ledger file.
type Store struct {
	path   string
	limits Limits
}

func NewStore(path string, limits Limits) *Store {
	return &Store{path: path, limits: limits}
}

// DefaultPath is the ledger location, overridable via
// LLMCOUNCIL_BUDGET_PATH.
func DefaultPath() (string, error) {
	if p := os.Getenv(pathEnv); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".llmcouncil", "budget.json"), nil
}

// Reserve checks the caps and places a hold for the estimated cost.
// Enforcement is fail-closed: with any cap set, a call whose cost cannot
// be estimated is refused rather than waved through.
func (s *Store) Reserve(estimate *float64, now time.Time) (string, error) {
	capped := s.limits.DailyCapUSD != nil || s.limits.MaxCostUSD != nil
	if capped && estimate == nil {
		return "", fmt.Errorf("budget cap is set: %w", domain.ErrEstimateUnavailable)
	}

	var amount float64
	if estimate != nil {
		amount = *estimate
	}

	if s.limits.MaxCostUSD != nil && amount > *s.limits.MaxCostUSD {
		return "", fmt.Errorf("estimated cost $%.6f exceeds per-call limit $%.6f: %w",
			amount, *s.limits.MaxCostUSD, domain.ErrBudgetExceeded)
	}

	var id string
	err := s.withLock(now, func(l *Ledger) error {
		if s.limits.DailyCapUSD != nil {
			committed := l.SpentUSD + l.reserved()
			if committed+amount > *s.limits.DailyCapUSD {
				return fmt.Errorf("spent $%.6f plus reserved and estimated $%.6f exceeds daily cap $%.6f: %w",
					l.SpentUSD, l.reserved()+amount, *s.limits.DailyCapUSD, domain.ErrBudgetExceeded)
			}
		}
		id = uuid.NewString()
		l.Reservations = append(l.Reservations, Reservation{
			ID:        id,
			AmountUSD: amount,
			CreatedAt: now.UTC(),
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Commit releases a reservation and records what the call actually cost.
// Spend is recorded exactly once, after success.
func (s *Store) Commit(reservationID string, actualUSD float64, now time.Time) error {
	return s.withLock(now, func(l *Ledger) error {
		l.dropReservation(reservationID)
		l.SpentUSD += actualUSD
		s.alert(l)
		return nil
	})
}

// Release drops a reservation without recording spend, for calls that
// failed.
func (s *Store) Release(reservationID string, now time.Time) error {
	return s.withLock(now, func(l *Ledger) error {
		l.dropReservation(reservationID)
		return nil
	})
}

// Spent reports today's recorded spend.
func (s *Store) Spent(now time.Time) (float64, error) {
	var spent float64
	err := s.withLock(now, func(l *Ledger) error {
		spent = l.SpentUSD
		return nil
	})
	return spent, err
}

func (l *Ledger) dropReservation(id string) {
	for i, r := range l.Reservations {
		if r.ID == id {
			l.Reservations = append(l.Reservations[:i], l.Reservations[i+1:]...)
			return
		}
	}
}

func (s *Store) alert(l *Ledger) {
	if s.limits.DailyCapUSD == nil || *s.limits.DailyCapUSD <= 0 {
		return
	}
	ratio := l.SpentUSD / *s.limits.DailyCapUSD
	switch {
	case ratio >= criticalRatio:
		slog.Warn("daily budget nearly exhausted",
			"spent_usd", l.SpentUSD, "cap_usd", *s.limits.DailyCapUSD, "ratio", ratio)
	case ratio >= warnRatio:
		slog.Warn("daily budget above warning threshold",
			"spent_usd", l.SpentUSD, "cap_usd", *s.limits.DailyCapUSD, "ratio", ratio)
	}
}

// withLock holds the sibling .lock file exclusively for the whole
// read-modify-write cycle, so concurrent processes serialize on it.
func (s *Store) withLock(now time.Time, fn func(*Ledger) error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create budget dir: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock budget ledger: %w", err)
	}
	defer lock.Unlock()

	ledger, err := load(s.path, now)
	if err != nil {
		return err
	}
	if err := fn(ledger); err != nil {
		return err
	}
	return save(s.path, ledger)
}

// load reads the ledger and applies the lazy UTC rollover: a stored date
// other than today resets the spend in memory, persisted by the next save.
// Expired reservations are pruned here too.
func load(path string, now time.Time) (*Ledger, error) {
	today := now.UTC().Format(time.DateOnly)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Ledger{Date: today}, nil
		}
		return nil, fmt.Errorf("read budget ledger: %w", err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse budget ledger %s: %w", path, err)
	}

	if l.Date != today {
		return &Ledger{Date: today}, nil
	}

	kept := l.Reservations[:0]
	for _, r := range l.Reservations {
		if now.UTC().Sub(r.CreatedAt) < reservationTTL {
			kept = append(kept, r)
		}
	}
	l.Reservations = kept
	return &l, nil
}

func save(path string, l *Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal budget ledger: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "budget-*.json")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write budget ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace budget ledger: %w", err)
	}
	return nil
}
