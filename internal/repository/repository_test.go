package repository

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := startPostgres(ctx)
	if err != nil {
		log.Printf("postgres container unavailable, skipping repository tests: %v", err)
		os.Exit(m.Run())
	}

	code := run(ctx, m, container)
	if err := container.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %v", err)
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) (c *postgres.PostgresContainer, err error) {
	// The docker provider panics instead of failing when no daemon is reachable
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker unavailable: %v", r)
		}
	}()
	return postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gateway"),
		postgres.WithUsername("gateway"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
}

func run(ctx context.Context, m *testing.M, container *postgres.PostgresContainer) int {
	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Printf("failed to get connection string: %v", err)
		return 1
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Printf("failed to connect: %v", err)
		return 1
	}
	defer pool.Close()

	if err := Migrate(ctx, pool); err != nil {
		log.Printf("failed to migrate: %v", err)
		return 1
	}
	testDB = pool
	return m.Run()
}

// setup truncates every table and returns the shared pool
func setup(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres not available")
	}
	_, err := testDB.Exec(context.Background(), `
		TRUNCATE admin_users, files, critical_words, flagged_conversations,
		         messages, friendships, sessions, users RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	return testDB
}

func createUser(t *testing.T, db *pgxpool.Pool, phone, name string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New().String(),
		Phone:        phone,
		DisplayName:  name,
		PasswordHash: "hash",
		PaidUntil:    now.Add(24 * time.Hour),
		CreatedAt:    now,
	}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), u))
	return u
}

func befriend(t *testing.T, db *pgxpool.Pool, a, b string) {
	t.Helper()
	a, b = models.CanonicalPair(a, b)
	require.NoError(t, NewFriendshipRepository(db).Create(context.Background(), &models.Friendship{
		UserAID: a, UserBID: b, CreatedAt: time.Now(),
	}))
}

func TestFlaggedSearchEscapesWildcards(t *testing.T) {
	where, args := FlaggedQuery{Search: `50%_off\`}.where()
	assert.Contains(t, where, `ILIKE $2 ESCAPE '\'`)
	assert.Equal(t, []any{false, `%50\%\_off\\%`}, args)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setup(t)
	require.NoError(t, Migrate(context.Background(), db))
}

func TestUserRepository(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	repo := NewUserRepository(db)
	alice := createUser(t, db, "+10000000001", "Alice")

	err := repo.Create(ctx, &models.User{ID: uuid.New().String(), Phone: "+10000000001", PasswordHash: "x"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	got, err := repo.GetByPhone(ctx, "+10000000001")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = repo.GetByID(ctx, "ghost")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	n, err := repo.SetBlocked(ctx, []string{alice.ID, "ghost"}, "spam")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBlocked)
	assert.Equal(t, "spam", *got.BlockedReason)

	require.NoError(t, repo.Unblock(ctx, alice.ID))
	got, err = repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBlocked)
	assert.Nil(t, got.BlockedReason)

	token := "device"
	require.NoError(t, repo.UpdatePushToken(ctx, alice.ID, &token))
	got, err = repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "device", *got.PushToken)
}

func TestSessionRepository(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	repo := NewSessionRepository(db)
	alice := createUser(t, db, "+10000000001", "Alice")
	now := time.Now()

	require.NoError(t, repo.Create(ctx, &models.Session{Token: "live", UserID: alice.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
	require.NoError(t, repo.Create(ctx, &models.Session{Token: "old", UserID: alice.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now}))

	s, err := repo.GetByToken(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, s.UserID)

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tokens, err := repo.DeleteByUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, tokens)

	_, err = repo.GetByToken(ctx, "live")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestSessionCreateRefusesBlockedUser(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	repo := NewSessionRepository(db)
	alice := createUser(t, db, "+10000000001", "Alice")
	now := time.Now()

	_, err := NewUserRepository(db).SetBlocked(ctx, []string{alice.ID}, "abuse")
	require.NoError(t, err)

	err = repo.Create(ctx, &models.Session{Token: "t", UserID: alice.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now})
	assert.ErrorIs(t, err, apperrors.ErrIdentityBlocked)
	_, err = repo.GetByToken(ctx, "t")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	err = repo.Create(ctx, &models.Session{Token: "u", UserID: "00000000-0000-0000-0000-000000000000", ExpiresAt: now.Add(time.Hour), CreatedAt: now})
	assert.ErrorIs(t, err, apperrors.ErrIdentityBlocked)
}

func TestFriendshipAuthorized(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	repo := NewFriendshipRepository(db)
	alice := createUser(t, db, "+10000000001", "Alice")
	bob := createUser(t, db, "+10000000002", "Bob")
	a, b := models.CanonicalPair(alice.ID, bob.ID)

	ok, err := repo.Authorized(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, ok)

	befriend(t, db, alice.ID, bob.ID)
	befriend(t, db, bob.ID, alice.ID)

	ok, err = repo.Authorized(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, ok)

	contacts, err := repo.ListContacts(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Bob", contacts[0].DisplayName)

	_, err = NewUserRepository(db).SetBlocked(ctx, []string{bob.ID}, "abuse")
	require.NoError(t, err)
	ok, err = repo.Authorized(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Delete(ctx, a, b))
	assert.True(t, apperrors.IsKind(repo.Delete(ctx, a, b), apperrors.KindNotFound))
}

func TestMessageCreateAndHistory(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	repo := NewMessageRepository(db)
	alice := createUser(t, db, "+10000000001", "Alice")
	bob := createUser(t, db, "+10000000002", "Bob")
	carol := createUser(t, db, "+10000000003", "Carol")

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 6; i++ {
		from, to := alice.ID, bob.ID
		if i%2 == 1 {
			from, to = to, from
		}
		msg := &models.Message{FromID: from, ToID: to, Text: fmt.Sprintf("m%d", i), CreatedAt: base.Add(time.Duration(i) * time.Microsecond)}
		require.NoError(t, repo.Create(ctx, msg))
		assert.NotZero(t, msg.ID)
	}
	require.NoError(t, repo.Create(ctx, &models.Message{FromID: alice.ID, ToID: carol.ID, Text: "other", CreatedAt: base}))

	latest, err := repo.History(ctx, bob.ID, alice.ID, 4, nil)
	require.NoError(t, err)
	require.Len(t, latest, 4)
	assert.Equal(t, "m2", latest[0].Text)
	assert.Equal(t, "m5", latest[3].Text)

	older, err := repo.History(ctx, alice.ID, bob.ID, 4, &latest[0].ID)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "m0", older[0].Text)
	assert.True(t, older[0].CreatedAt.Equal(base))

	n, err := repo.MarkRead(ctx, bob.ID, alice.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, repo.UpdateText(ctx, latest[0].ID, "[removed]"))
	m, err := repo.GetByID(ctx, latest[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "[removed]", m.Text)
	assert.True(t, apperrors.IsKind(repo.UpdateText(ctx, 9999, "x"), apperrors.KindNotFound))
}

func TestFlaggedMessageIsAtomic(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	repo := NewMessageRepository(db)
	alice := createUser(t, db, "+10000000001", "Alice")
	bob := createUser(t, db, "+10000000002", "Bob")

	msg := &models.Message{FromID: alice.ID, ToID: bob.ID, Text: "bomb", Flagged: true, CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, msg))

	entries, total, err := NewFlaggedRepository(db).List(ctx, FlaggedQuery{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, msg.ID, entries[0].MessageID)
	assert.Equal(t, "bomb", entries[0].MessageText)

	_, err = db.Exec(ctx, `
		CREATE OR REPLACE FUNCTION reject_flag() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'flag rejected';
		END
		$$ LANGUAGE plpgsql;
		CREATE TRIGGER reject_flag BEFORE INSERT ON flagged_conversations
			FOR EACH ROW EXECUTE FUNCTION reject_flag();
	`)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec(context.Background(), `DROP TRIGGER IF EXISTS reject_flag ON flagged_conversations`)
	})

	err = repo.Create(ctx, &models.Message{FromID: alice.ID, ToID: bob.ID, Text: "bomb again", Flagged: true, CreatedAt: time.Now()})
	require.Error(t, err)

	var messages, flags int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&messages))
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM flagged_conversations`).Scan(&flags))
	assert.Equal(t, 1, messages)
	assert.Equal(t, 1, flags)
}

func TestFlaggedListFiltersAndSorts(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	messages := NewMessageRepository(db)
	flagged := NewFlaggedRepository(db)
	alice := createUser(t, db, "+10000000001", "Alice")
	bob := createUser(t, db, "+10000000002", "Bob")
	carol := createUser(t, db, "+10000000003", "Carol")

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, messages.Create(ctx, &models.Message{
			FromID: alice.ID, ToID: bob.ID, Text: fmt.Sprintf("bomb %d", i), Flagged: true,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, messages.Create(ctx, &models.Message{
		FromID: carol.ID, ToID: alice.ID, Text: "bomb latest", Flagged: true, CreatedAt: base.Add(time.Minute),
	}))

	byVolume, total, err := flagged.List(ctx, FlaggedQuery{SortByVolume: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, 3, byVolume[0].PairFlags)
	assert.Equal(t, "bomb 2", byVolume[0].MessageText)
	assert.Equal(t, "bomb latest", byVolume[3].MessageText)

	byRecent, _, err := flagged.List(ctx, FlaggedQuery{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "bomb latest", byRecent[0].MessageText)

	page, total, err := flagged.List(ctx, FlaggedQuery{SortByVolume: true, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, page, 2)

	search, total, err := flagged.List(ctx, FlaggedQuery{Search: "caro", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bomb latest", search[0].MessageText)

	for _, wildcard := range []string{"%", "_", "Car_l"} {
		_, total, err = flagged.List(ctx, FlaggedQuery{Search: wildcard, Limit: 10})
		require.NoError(t, err)
		assert.Zero(t, total, wildcard)
	}

	byUser, total, err := flagged.List(ctx, FlaggedQuery{UserID: bob.ID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, byUser, 3)

	require.NoError(t, flagged.MarkReviewed(ctx, byRecent[0].ID))
	_, total, err = flagged.List(ctx, FlaggedQuery{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	_, total, err = flagged.List(ctx, FlaggedQuery{Reviewed: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	assert.True(t, apperrors.IsKind(flagged.MarkReviewed(ctx, 9999), apperrors.KindNotFound))
}

func TestCriticalWordsAndStats(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	words := NewCriticalWordRepository(db)
	createUser(t, db, "+10000000001", "Alice")

	require.NoError(t, words.Add(ctx, "scam"))
	require.NoError(t, words.Add(ctx, "scam"))
	require.NoError(t, words.Add(ctx, "bomb"))

	list, err := words.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bomb", list[0].Word)

	require.NoError(t, words.Delete(ctx, list[0].ID))
	assert.True(t, apperrors.IsKind(words.Delete(ctx, list[0].ID), apperrors.KindNotFound))

	stats, err := NewAdminRepository(db).Stats(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalUsers)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, 1, stats.CriticalWords)
}

func TestFileRepository(t *testing.T) {
	db := setup(t)
	ctx := context.Background()
	repo := NewFileRepository(db)
	alice := createUser(t, db, "+10000000001", "Alice")
	bob := createUser(t, db, "+10000000002", "Bob")
	now := time.Now()

	for _, f := range []*models.File{
		{ID: "old", OwnerID: alice.ID, RecipientID: bob.ID, FileName: "a", FileSize: 1, ContentType: "text/plain", S3Key: "k/old", ExpiresAt: now.Add(-time.Hour), CreatedAt: now},
		{ID: "new", OwnerID: alice.ID, RecipientID: bob.ID, FileName: "b", FileSize: 1, ContentType: "text/plain", S3Key: "k/new", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
	} {
		require.NoError(t, repo.Create(ctx, f))
	}

	expired, err := repo.ListExpired(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "k/old", expired[0].S3Key)

	require.NoError(t, repo.Delete(ctx, "old"))
	_, err = repo.GetByID(ctx, "old")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}
