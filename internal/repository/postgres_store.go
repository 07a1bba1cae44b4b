package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/service"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var listingColumns = []string{
	"id", "source", "name", "price", "original_price", "discount_percent",
	"rating", "review_count", "store", "category", "url", "image_url", "emoji",
	"value_score", "value_reasons",
}

var subscriptionColumns = []string{
	"user_id", "expires_at", "payment_method", "activated_at", "username", "first_name",
}

type PostgresStore struct {
	db *pgxpool.Pool
}

var _ service.Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// insertChunkRows keeps every listings INSERT well under the 65535
// bind-parameter limit of the Postgres protocol.
const insertChunkRows = 1000

// saveListingsQueries returns the snapshot delete and one upsert per chunk of
// listings. Repeated ids keep their first row; a single INSERT cannot touch
// the same conflict target twice.
func saveListingsQueries(source string, listings []domain.Listing) (del sq.DeleteBuilder, inserts []sq.InsertBuilder) {
	del = psql.Delete("listings").Where(sq.Eq{"source": source})

	seen := make(map[string]struct{}, len(listings))
	var ins sq.InsertBuilder
	rows := 0
	for _, l := range listings {
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}

		if rows == 0 {
			ins = psql.Insert("listings").Columns(listingColumns...)
		}
		reasons := l.ValueReasons
		if reasons == nil {
			reasons = []string{}
		}
		ins = ins.Values(
			l.ID, source, l.Name, l.Price, l.OriginalPrice, l.DiscountPercent,
			l.Rating, l.ReviewCount, l.Store, l.Category, l.URL, l.ImageURL, l.Emoji,
			l.ValueScore, reasons,
		)
		rows++
		if rows == insertChunkRows {
			inserts = append(inserts, withListingUpsert(ins))
			rows = 0
		}
	}
	if rows > 0 {
		inserts = append(inserts, withListingUpsert(ins))
	}
	return del, inserts
}

func withListingUpsert(ins sq.InsertBuilder) sq.InsertBuilder {
	return ins.Suffix(`ON CONFLICT (id) DO UPDATE SET
		source = EXCLUDED.source, name = EXCLUDED.name, price = EXCLUDED.price,
		original_price = EXCLUDED.original_price, discount_percent = EXCLUDED.discount_percent,
		rating = EXCLUDED.rating, review_count = EXCLUDED.review_count, store = EXCLUDED.store,
		category = EXCLUDED.category, url = EXCLUDED.url, image_url = EXCLUDED.image_url,
		emoji = EXCLUDED.emoji, value_score = EXCLUDED.value_score,
		value_reasons = EXCLUDED.value_reasons, updated_at = NOW()`)
}

// SaveListings replaces the snapshot of one source in a single transaction.
func (s *PostgresStore) SaveListings(ctx context.Context, source string, listings []domain.Listing) error {
	del, inserts := saveListingsQueries(source, listings)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.StorageError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := execBuilder(ctx, tx, del); err != nil {
		return domain.StorageError("delete listings", err)
	}
	for _, ins := range inserts {
		if err := execBuilder(ctx, tx, ins); err != nil {
			return domain.StorageError("insert listings", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.StorageError("commit listings", err)
	}
	return nil
}

func (s *PostgresStore) ListListings(ctx context.Context) ([]domain.Listing, error) {
	query, args, err := psql.Select(listingColumns...).From("listings").OrderBy("value_score DESC", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.StorageError("query listings", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		var (
			l      domain.Listing
			source string
		)
		if err := rows.Scan(
			&l.ID, &source, &l.Name, &l.Price, &l.OriginalPrice, &l.DiscountPercent,
			&l.Rating, &l.ReviewCount, &l.Store, &l.Category, &l.URL, &l.ImageURL, &l.Emoji,
			&l.ValueScore, &l.ValueReasons,
		); err != nil {
			return nil, domain.StorageError("scan listing", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("iterate listings", err)
	}
	return out, nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSubscription(ctx context.Context, q queryer, userID string, forUpdate bool) (*domain.Subscription, error) {
	b := psql.Select(subscriptionColumns...).From("subscriptions").Where(sq.Eq{"user_id": userID})
	if forUpdate {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var (
		sub       domain.Subscription
		expires   *time.Time
		activated *time.Time
		method    string
	)
	err = q.QueryRow(ctx, query, args...).Scan(&sub.UserID, &expires, &method, &activated, &sub.Username, &sub.FirstName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("get subscription", err)
	}
	if expires != nil {
		sub.ExpiresAt = *expires
	}
	if activated != nil {
		sub.ActivatedAt = *activated
	}
	sub.PaymentMethod, _ = domain.ParsePaymentMethod(method)
	return &sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	return getSubscription(ctx, s.db, userID, false)
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	query, args, err := psql.Select(subscriptionColumns...).From("subscriptions").OrderBy("user_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.StorageError("query subscriptions", err)
	}
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		var (
			sub       domain.Subscription
			expires   *time.Time
			activated *time.Time
			method    string
		)
		if err := rows.Scan(&sub.UserID, &expires, &method, &activated, &sub.Username, &sub.FirstName); err != nil {
			return nil, domain.StorageError("scan subscription", err)
		}
		if expires != nil {
			sub.ExpiresAt = *expires
		}
		if activated != nil {
			sub.ActivatedAt = *activated
		}
		sub.PaymentMethod, _ = domain.ParsePaymentMethod(method)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("iterate subscriptions", err)
	}
	return out, nil
}

func upsertSubscriptionQuery(sub domain.Subscription) sq.InsertBuilder {
	return psql.Insert("subscriptions").
		Columns(subscriptionColumns...).
		Values(sub.UserID, nullTime(sub.ExpiresAt), string(sub.PaymentMethod), nullTime(sub.ActivatedAt), sub.Username, sub.FirstName).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			expires_at = EXCLUDED.expires_at, payment_method = EXCLUDED.payment_method,
			activated_at = EXCLUDED.activated_at, username = EXCLUDED.username,
			first_name = EXCLUDED.first_name, updated_at = NOW()`)
}

// UpdateSubscription serialises writers per user with a transaction-scoped
// advisory lock, which also covers users that have no row yet.
func (s *PostgresStore) UpdateSubscription(ctx context.Context, userID string, fn func(prev *domain.Subscription) (domain.Subscription, error)) (domain.Subscription, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Subscription{}, domain.StorageError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", userID); err != nil {
		return domain.Subscription{}, domain.StorageError("lock subscription", err)
	}

	prev, err := getSubscription(ctx, tx, userID, true)
	if err != nil {
		return domain.Subscription{}, err
	}

	next, err := fn(prev)
	if err != nil {
		return domain.Subscription{}, err
	}
	next.UserID = userID

	if err := execBuilder(ctx, tx, upsertSubscriptionQuery(next)); err != nil {
		return domain.Subscription{}, domain.StorageError("upsert subscription", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Subscription{}, domain.StorageError("commit subscription", err)
	}
	return next, nil
}

// TryLockJob takes a session advisory lock named after the job on a
// dedicated connection, so every process sharing the database agrees on
// who runs it. ok is false when another session holds it.
func (s *PostgresStore) TryLockJob(ctx context.Context, job string) (unlock func(), ok bool, err error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, false, domain.StorageError("acquire conn", err)
	}
	key := "dealhunter:job:" + job
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, domain.StorageError("lock job "+job, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", key); err != nil {
			// a failed unlock must not return a locked session to the pool
			conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, true, nil
}

func recentDistributionsQuery(since time.Time) sq.SelectBuilder {
	return psql.Select("listing_id", "MAX(distributed_at)").
		From("distributions").
		Where(sq.Gt{"distributed_at": since}).
		GroupBy("listing_id")
}

func (s *PostgresStore) RecentDistributions(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	query, args, err := recentDistributionsQuery(since).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.StorageError("query distributions", err)
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var (
			id string
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, domain.StorageError("scan distribution", err)
		}
		out[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("iterate distributions", err)
	}
	return out, nil
}

func (s *PostgresStore) RecordDistribution(ctx context.Context, rec domain.DistributionRecord, pruneBefore time.Time) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.StorageError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	ins := psql.Insert("distributions").Columns("listing_id", "distributed_at").Values(rec.ListingID, rec.DistributedAt)
	if err := execBuilder(ctx, tx, ins); err != nil {
		return domain.StorageError("insert distribution", err)
	}
	prune := psql.Delete("distributions").Where(sq.Lt{"distributed_at": pruneBefore})
	if err := execBuilder(ctx, tx, prune); err != nil {
		return domain.StorageError("prune distributions", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.StorageError("commit distribution", err)
	}
	return nil
}

func execBuilder(ctx context.Context, tx pgx.Tx, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = tx.Exec(ctx, query, args...)
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
