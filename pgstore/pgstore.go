package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	votes "github.com/jhchabran/tabloid-votes"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// A PGStore is responsible of interacting with the storage layer using a Postgresql database.
type PGStore struct {
	dbString string
	db       *sqlx.DB
	logger   zerolog.Logger
}

var _ votes.Store = (*PGStore)(nil)

// New returns a PGStore configured for a given address string, using the "user=postgres dbname=votes ..." format.
func New(addr string, logger zerolog.Logger) *PGStore {
	return &PGStore{
		dbString: addr,
		logger:   logger.With().Str("component", "pgstore").Logger(),
	}
}

// Connect establish a connection with the database using the address given at initialization.
// It does nothing if already connected.
func (s *PGStore) Connect() error {
	if s.db != nil {
		return nil
	}

	db, err := sqlx.Connect("postgres", s.dbString)
	if err != nil {
		return err
	}

	s.db = db

	return nil
}

// Migrate brings the schema up to date.
func (s *PGStore) Migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (s *PGStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the existing connection, making it suitable to perform requests not already supported by
// the store interface. If called while not connected, it will return nil.
func (s *PGStore) DB() *sqlx.DB {
	return s.db
}

// tables returns the item and vote tables of t. Both are constants, so they
// can be formatted into queries.
func tables(t votes.ItemType) (string, string, error) {
	switch t {
	case votes.Submission:
		return "submissions", "submission_votes", nil
	case votes.Comment:
		return "comments", "comment_votes", nil
	}
	return "", "", fmt.Errorf("%w: unknown item type %d", votes.ErrInvalidArgument, int(t))
}

const (
	findSubmissionQuery = `SELECT id, id AS submission_id, author_id, subverse, up_count, down_count, rank, is_deleted, created_at
		FROM submissions WHERE id = $1`
	findCommentQuery = `SELECT c.id, c.submission_id, c.author_id, s.subverse, c.up_count, c.down_count, 0::float8 AS rank, c.is_deleted, c.created_at
		FROM comments c JOIN submissions s ON s.id = c.submission_id WHERE c.id = $1`
)

func (s *PGStore) FindItem(ctx context.Context, t votes.ItemType, id int64) (*votes.Item, error) {
	query := findSubmissionQuery
	if t == votes.Comment {
		query = findCommentQuery
	} else if t != votes.Submission {
		return nil, fmt.Errorf("%w: unknown item type %d", votes.ErrInvalidArgument, int(t))
	}

	item := votes.Item{}
	err := s.db.GetContext(ctx, &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, votes.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	item.Type = t
	return &item, nil
}

func (s *PGStore) FindVote(ctx context.Context, t votes.ItemType, id int64, userID string) (*votes.VoteRecord, error) {
	_, voteTable, err := tables(t)
	if err != nil {
		return nil, err
	}

	rec := votes.VoteRecord{}
	err = s.db.GetContext(ctx, &rec,
		fmt.Sprintf("SELECT item_id, user_id, vote_status, origin_hash, created_at FROM %s WHERE item_id = $1 AND user_id = $2", voteTable),
		id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.ItemType = t
	return &rec, nil
}

// ApplyVote writes the vote record and the counters in a single transaction.
func (s *PGStore) ApplyVote(ctx context.Context, change *votes.VoteChange) (votes.Aggregate, error) {
	itemTable, voteTable, err := tables(change.ItemType)
	if err != nil {
		return votes.Aggregate{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return votes.Aggregate{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.Warn().Err(rollbackErr).Msg("failed to rollback transaction")
		}
	}()

	// the item row lock serializes writers across processes
	var id int64
	err = tx.GetContext(ctx, &id, fmt.Sprintf("SELECT id FROM %s WHERE id = $1 FOR UPDATE", itemTable), change.ItemID)
	if errors.Is(err, sql.ErrNoRows) {
		return votes.Aggregate{}, votes.ErrNotFound
	}
	if err != nil {
		return votes.Aggregate{}, fmt.Errorf("failed to lock item: %w", err)
	}

	current := votes.None
	err = tx.GetContext(ctx, &current,
		fmt.Sprintf("SELECT vote_status FROM %s WHERE item_id = $1 AND user_id = $2", voteTable),
		change.ItemID, change.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return votes.Aggregate{}, fmt.Errorf("failed to read vote: %w", err)
	}
	if current != change.PrevState {
		return votes.Aggregate{}, fmt.Errorf("%w: %s of %s is %s, expected %s",
			votes.ErrStaleVote, change.ItemType.Key(change.ItemID), change.UserID, current, change.PrevState)
	}

	if change.NewState == votes.None {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE item_id = $1 AND user_id = $2", voteTable),
			change.ItemID, change.UserID)
		if err != nil {
			return votes.Aggregate{}, fmt.Errorf("failed to delete vote: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return votes.Aggregate{}, err
		}
		if n != 1 {
			return votes.Aggregate{}, fmt.Errorf("no vote of %s on %s to revoke", change.UserID, change.ItemType.Key(change.ItemID))
		}
	} else {
		// a flip keeps the origin of the first vote
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (item_id, user_id, vote_status, origin_hash, created_at) VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (item_id, user_id) DO UPDATE SET vote_status = EXCLUDED.vote_status, created_at = EXCLUDED.created_at`, voteTable),
			change.ItemID, change.UserID, int(change.NewState), change.OriginHash, change.At)
		if err != nil {
			return votes.Aggregate{}, fmt.Errorf("failed to upsert vote: %w", err)
		}
	}

	agg := votes.Aggregate{}
	err = tx.GetContext(ctx, &agg,
		fmt.Sprintf("UPDATE %s SET up_count = up_count + $1, down_count = down_count + $2 WHERE id = $3 RETURNING up_count, down_count", itemTable),
		change.UpDelta, change.DownDelta, change.ItemID)
	if errors.Is(err, sql.ErrNoRows) {
		return votes.Aggregate{}, votes.ErrNotFound
	}
	if err != nil {
		return votes.Aggregate{}, fmt.Errorf("failed to update counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return votes.Aggregate{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return agg, nil
}

func (s *PGStore) UpdateRank(ctx context.Context, submissionID int64, rank float64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE submissions SET rank = $1 WHERE id = $2", rank, submissionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return votes.ErrNotFound
	}
	return nil
}

func (s *PGStore) VoteCount(ctx context.Context, q votes.VoteCountQuery) (int, error) {
	total := 0
	for _, t := range []votes.ItemType{votes.Submission, votes.Comment} {
		if !q.IncludesType(t) {
			continue
		}
		itemTable, voteTable, _ := tables(t)

		var n int
		err := s.db.GetContext(ctx, &n,
			fmt.Sprintf(`SELECT count(*) FROM %s v JOIN %s i ON i.id = v.item_id
				WHERE lower(v.user_id) = lower($1) AND lower(i.author_id) = lower($2) AND v.created_at >= $3
				AND ($4 = 0 OR v.vote_status = $4)`, voteTable, itemTable),
			q.SourceUserID, q.DestinationUserID, q.Since, int(q.State))
		if err != nil {
			return 0, err
		}
		total += n
	}

	return total, nil
}

func (s *PGStore) HasOriginVoted(ctx context.Context, t votes.ItemType, id int64, originHash string) (bool, error) {
	if originHash == "" {
		return false, nil
	}
	_, voteTable, err := tables(t)
	if err != nil {
		return false, err
	}

	var exists bool
	err = s.db.GetContext(ctx, &exists,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE item_id = $1 AND origin_hash = $2)", voteTable),
		id, originHash)
	return exists, err
}

type userVoteRow struct {
	votes.VoteRecord
	Type votes.ItemType `db:"item_type"`
}

const listUserVotesQuery = `
SELECT 1 AS item_type, v.item_id, v.user_id, v.vote_status, v.origin_hash, v.created_at
	FROM submission_votes v WHERE v.item_id = $1 AND v.user_id = $2
UNION ALL
SELECT 2 AS item_type, v.item_id, v.user_id, v.vote_status, v.origin_hash, v.created_at
	FROM comment_votes v JOIN comments c ON c.id = v.item_id WHERE c.submission_id = $1 AND v.user_id = $2
ORDER BY item_type, item_id`

func (s *PGStore) ListUserVotes(ctx context.Context, submissionID int64, userID string) ([]*votes.VoteRecord, error) {
	rows := []userVoteRow{}
	if err := s.db.SelectContext(ctx, &rows, listUserVotesQuery, submissionID, userID); err != nil {
		return nil, err
	}

	records := make([]*votes.VoteRecord, 0, len(rows))
	for i := range rows {
		rec := rows[i].VoteRecord
		rec.ItemType = rows[i].Type
		records = append(records, &rec)
	}
	return records, nil
}

func (s *PGStore) InsertSubmission(ctx context.Context, item *votes.Item) error {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"INSERT INTO submissions (author_id, subverse, up_count, down_count, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		item.AuthorID, item.Subverse, item.UpCount, item.DownCount, item.CreatedAt,
	)
	if err != nil {
		return err
	}

	item.ID = id
	item.SubmissionID = id
	item.Type = votes.Submission

	return nil
}

func (s *PGStore) InsertComment(ctx context.Context, item *votes.Item) error {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"INSERT INTO comments (submission_id, author_id, up_count, down_count, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		item.SubmissionID, item.AuthorID, item.UpCount, item.DownCount, item.CreatedAt,
	)
	if err != nil {
		return err
	}

	item.ID = id
	item.Type = votes.Comment

	return nil
}

// DeleteItem soft deletes an item. Its counters and votes are kept.
func (s *PGStore) DeleteItem(ctx context.Context, t votes.ItemType, id int64) error {
	itemTable, _, err := tables(t)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET is_deleted = TRUE WHERE id = $1", itemTable), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return votes.ErrNotFound
	}
	return nil
}
