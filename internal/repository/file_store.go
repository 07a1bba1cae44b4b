package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/service"
)

const (
	UsersFile         = "users.json"
	DistributionsFile = "distributions.json"

	lockFile       = ".lock"
	lockRetryDelay = 20 * time.Millisecond
)

var sourceNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// timestamps written by older exports lack a zone and are read as local time
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FileStore keeps everything as JSON documents in one directory: a listing
// snapshot per source plus the reserved users and distributions files.
// Every mutation rewrites the whole file through a temp file and rename.
// Access is serialised inside the process by mu and across processes
// sharing the directory by an flock on .lock.
type FileStore struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

var _ service.Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.StorageError("create data dir", err)
	}
	return &FileStore{dir: dir, lock: flock.New(filepath.Join(dir, lockFile))}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Close() error { return s.lock.Close() }

// locked runs fn holding the process mutex and the directory lock, shared
// for readers and exclusive for writers.
func (s *FileStore) locked(ctx context.Context, shared bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	try := s.lock.TryLockContext
	if shared {
		try = s.lock.TryRLockContext
	}
	ok, err := try(ctx, lockRetryDelay)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.StorageError("lock data dir", err)
	}
	if !ok {
		return domain.StorageError("lock data dir", errors.New("lock not acquired"))
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("unlock data dir", "dir", s.dir, "error", err)
		}
	}()
	return fn()
}

// TryLockJob takes a per-job lock file that other processes sharing the
// directory also honour. ok is false when the job is held elsewhere.
func (s *FileStore) TryLockJob(_ context.Context, job string) (unlock func(), ok bool, err error) {
	fl := flock.New(filepath.Join(s.dir, ".job-"+job+".lock"))
	ok, err = fl.TryLock()
	if err != nil {
		return nil, false, domain.StorageError("lock job "+job, err)
	}
	if !ok {
		fl.Close()
		return nil, false, nil
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("unlock job", "job", job, "error", err)
		}
		fl.Close()
	}, true, nil
}

func IsReservedFile(name string) bool {
	return name == UsersFile || name == DistributionsFile
}

func (s *FileStore) SaveListings(ctx context.Context, source string, listings []domain.Listing) error {
	if !sourceNameRe.MatchString(source) || IsReservedFile(source+".json") {
		return fmt.Errorf("invalid source name %q", source)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := append([]domain.Listing(nil), listings...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ValueScore > out[j].ValueScore })

	return s.locked(ctx, false, func() error {
		return s.writeJSON(source+".json", out)
	})
}

func (s *FileStore) ListListings(ctx context.Context) ([]domain.Listing, error) {
	var out []domain.Listing
	err := s.locked(ctx, true, func() error {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return domain.StorageError("read data dir", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".json") || IsReservedFile(name) || strings.HasPrefix(name, ".") {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			listings, err := s.readListings(name)
			if err != nil {
				return err
			}
			out = append(out, listings...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readListings accepts either a JSON array or an id -> listing object.
func (s *FileStore) readListings(name string) ([]domain.Listing, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, domain.StorageError("read "+name, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '{' {
		var byID map[string]domain.Listing
		if err := json.Unmarshal(data, &byID); err != nil {
			return nil, domain.StorageError("decode "+name, err)
		}
		out := make([]domain.Listing, 0, len(byID))
		for id, l := range byID {
			if l.ID == "" {
				l.ID = id
			}
			out = append(out, l)
		}
		return out, nil
	}

	var list []domain.Listing
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, domain.StorageError("decode "+name, err)
	}
	return list, nil
}

type userRecord struct {
	ExpiresAt     string `json:"expires_at,omitempty"`
	Expires       string `json:"expires,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	ActivatedAt   string `json:"activated_at,omitempty"`
	Activated     string `json:"activated,omitempty"`
	Username      string `json:"username,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
}

func (r userRecord) toDomain(userID string) domain.Subscription {
	expires := r.ExpiresAt
	if expires == "" {
		expires = r.Expires
	}
	activated := r.ActivatedAt
	if activated == "" {
		activated = r.Activated
	}
	method, _ := domain.ParsePaymentMethod(r.PaymentMethod)
	return domain.Subscription{
		UserID:        userID,
		ExpiresAt:     parseTime(expires),
		PaymentMethod: method,
		ActivatedAt:   parseTime(activated),
		Username:      r.Username,
		FirstName:     r.FirstName,
	}
}

func fromDomain(sub domain.Subscription) userRecord {
	return userRecord{
		ExpiresAt:     formatTime(sub.ExpiresAt),
		PaymentMethod: string(sub.PaymentMethod),
		ActivatedAt:   formatTime(sub.ActivatedAt),
		Username:      sub.Username,
		FirstName:     sub.FirstName,
	}
}

// parseTime returns the zero time for anything it cannot read, which the
// ledger treats as stale.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func (s *FileStore) readUsers() (map[string]userRecord, error) {
	users := map[string]userRecord{}
	found, err := s.readJSON(UsersFile, &users)
	if err != nil {
		return nil, err
	}
	if !found || users == nil {
		return map[string]userRecord{}, nil
	}
	return users, nil
}

func (s *FileStore) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.locked(ctx, true, func() error {
		users, err := s.readUsers()
		if err != nil {
			return err
		}
		if rec, ok := users[userID]; ok {
			found := rec.toDomain(userID)
			sub = &found
		}
		return nil
	})
	return sub, err
}

func (s *FileStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	var users map[string]userRecord
	err := s.locked(ctx, true, func() (err error) {
		users, err = s.readUsers()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Subscription, 0, len(users))
	for id, rec := range users {
		out = append(out, rec.toDomain(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *FileStore) UpdateSubscription(ctx context.Context, userID string, fn func(prev *domain.Subscription) (domain.Subscription, error)) (domain.Subscription, error) {
	var next domain.Subscription
	err := s.locked(ctx, false, func() error {
		users, err := s.readUsers()
		if err != nil {
			return err
		}

		var prev *domain.Subscription
		if rec, ok := users[userID]; ok {
			p := rec.toDomain(userID)
			prev = &p
		}

		next, err = fn(prev)
		if err != nil {
			return err
		}
		next.UserID = userID
		users[userID] = fromDomain(next)
		return s.writeJSON(UsersFile, users)
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	return next, nil
}

func (s *FileStore) readRecords() ([]domain.DistributionRecord, error) {
	var records []domain.DistributionRecord
	if _, err := s.readJSON(DistributionsFile, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *FileStore) RecentDistributions(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	var records []domain.DistributionRecord
	err := s.locked(ctx, true, func() (err error) {
		records, err = s.readRecords()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(records))
	for _, r := range records {
		if !r.DistributedAt.After(since) {
			continue
		}
		if prev, ok := out[r.ListingID]; !ok || r.DistributedAt.After(prev) {
			out[r.ListingID] = r.DistributedAt
		}
	}
	return out, nil
}

func (s *FileStore) RecordDistribution(ctx context.Context, rec domain.DistributionRecord, pruneBefore time.Time) error {
	return s.locked(ctx, false, func() error {
		records, err := s.readRecords()
		if err != nil {
			return err
		}
		kept := records[:0]
		for _, r := range records {
			if r.DistributedAt.Before(pruneBefore) {
				continue
			}
			kept = append(kept, r)
		}
		kept = append(kept, rec)
		return s.writeJSON(DistributionsFile, kept)
	})
}

// readJSON decodes name into v. found is false when the file does not exist.
func (s *FileStore) readJSON(name string, v any) (found bool, err error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, domain.StorageError("read "+name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, domain.StorageError("decode "+name, err)
	}
	return true, nil
}

func (s *FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return domain.StorageError("write "+name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return domain.StorageError("write "+name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return domain.StorageError("sync "+name, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.StorageError("close "+name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return domain.StorageError("rename "+name, err)
	}
	return nil
}
