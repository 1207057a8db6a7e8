package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"
	"chat-gateway/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultPageSize    = 10
	maxPageSize        = 100
	defaultBlockReason = "Admin blocked"
	maxSubscriptionExt = 120
	conversationLimit  = 100
)

// Review queue sort orders
const (
	SortVolume = "volume"
	SortRecent = "recent"
)

// FlaggedFilter narrows the review queue
type FlaggedFilter struct {
	Reviewed bool
	Search   string
	Identity string
	Sort     string
}

// Page selects one page of results, starting at 1
type Page struct {
	Number int
	Size   int
}

// FlaggedPage is one page of the review queue
type FlaggedPage struct {
	Entries    []*models.FlaggedEntry `json:"entries"`
	Total      int                    `json:"total"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"page_size"`
	TotalPages int                    `json:"total_pages"`
}

// Conversation is one pair's message log as the admin panel shows it
type Conversation struct {
	UserA    models.IdentitySummary `json:"user_a"`
	UserB    models.IdentitySummary `json:"user_b"`
	Messages []*models.Message      `json:"messages"`
}

// AdminService backs the admin panel: the flagged conversation review
// queue, identity blocking, message edits and subscriptions
type AdminService struct {
	admins   AdminRepository
	users    UserRepository
	flagged  FlaggedRepository
	store    *MessageStore
	sessions *SessionRegistry
	filter   *ModerationFilter

	jwtSecret string
	jwtTTL    time.Duration
	now       func() time.Time
}

// NewAdminService creates a new admin service
func NewAdminService(
	admins AdminRepository,
	users UserRepository,
	flagged FlaggedRepository,
	store *MessageStore,
	sessions *SessionRegistry,
	filter *ModerationFilter,
	jwtSecret string,
	jwtTTL time.Duration,
) *AdminService {
	return &AdminService{
		admins:    admins,
		users:     users,
		flagged:   flagged,
		store:     store,
		sessions:  sessions,
		filter:    filter,
		jwtSecret: jwtSecret,
		jwtTTL:    jwtTTL,
		now:       time.Now,
	}
}

// CreateAdmin stores a new admin account
func (s *AdminService) CreateAdmin(ctx context.Context, username, password string) (*models.AdminUser, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperrors.Validation("username and password required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	admin := &models.AdminUser{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.admins.Create(ctx, admin); err != nil {
		return nil, err
	}

	log.Info().Str("admin_id", admin.ID).Str("username", username).Msg("Admin created")
	return admin, nil
}

// Login checks admin credentials and returns a signed token
func (s *AdminService) Login(ctx context.Context, username, password string) (string, error) {
	admin, err := s.admins.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return "", apperrors.ErrBadCredentials
		}
		return "", apperrors.Unavailable(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", apperrors.ErrBadCredentials
	}

	token, err := s.GenerateJWT(admin.ID)
	if err != nil {
		return "", err
	}

	if err := s.admins.TouchLastLogin(ctx, admin.ID, s.now()); err != nil {
		log.Warn().Err(err).Str("admin_id", admin.ID).Msg("Failed to update admin last login")
	}
	log.Info().Str("admin_id", admin.ID).Msg("Admin logged in")
	return token, nil
}

// GenerateJWT generates a JWT token for an admin
func (s *AdminService) GenerateJWT(adminID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"admin_id": adminID,
		"exp":      now.Add(s.jwtTTL).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateJWT validates an admin token and returns the admin ID
func (s *AdminService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", apperrors.Wrap(apperrors.KindAuth, "Invalid or expired token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", apperrors.ErrInvalidOrExpired
	}
	adminID, ok := claims["admin_id"].(string)
	if !ok || adminID == "" {
		return "", apperrors.ErrInvalidOrExpired
	}
	return adminID, nil
}

// ListFlagged returns one page of the review queue
func (s *AdminService) ListFlagged(ctx context.Context, filter FlaggedFilter, page Page) (*FlaggedPage, error) {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size <= 0 {
		page.Size = defaultPageSize
	}
	if page.Size > maxPageSize {
		page.Size = maxPageSize
	}

	q := repository.FlaggedQuery{
		Reviewed:     filter.Reviewed,
		Search:       strings.TrimSpace(filter.Search),
		UserID:       filter.Identity,
		SortByVolume: filter.Sort != SortRecent,
		Limit:        page.Size,
		Offset:       (page.Number - 1) * page.Size,
	}
	entries, total, err := s.flagged.List(ctx, q)
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}
	if entries == nil {
		entries = []*models.FlaggedEntry{}
	}

	return &FlaggedPage{
		Entries:    entries,
		Total:      total,
		Page:       page.Number,
		PageSize:   page.Size,
		TotalPages: (total + page.Size - 1) / page.Size,
	}, nil
}

// MarkReviewed closes a review-queue entry. It cannot be reopened.
func (s *AdminService) MarkReviewed(ctx context.Context, id int64) error {
	if err := s.flagged.MarkReviewed(ctx, id); err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return err
		}
		return apperrors.Unavailable(err)
	}
	log.Info().Int64("flag_id", id).Msg("Flagged conversation reviewed")
	return nil
}

// BlockIdentity blocks one identity, revokes its sessions and closes its
// live connections
func (s *AdminService) BlockIdentity(ctx context.Context, identity, reason string) error {
	n, err := s.BlockIdentities(ctx, []string{identity}, reason)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user not found: %w", apperrors.ErrNotFound)
	}
	return nil
}

// BlockIdentities blocks several identities at once and returns how many
// were updated
func (s *AdminService) BlockIdentities(ctx context.Context, identities []string, reason string) (int64, error) {
	if len(identities) == 0 {
		return 0, apperrors.Validation("no users selected")
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = defaultBlockReason
	}

	n, err := s.users.SetBlocked(ctx, identities, reason)
	if err != nil {
		return 0, apperrors.Unavailable(err)
	}

	for _, id := range identities {
		if _, err := s.sessions.RevokeAll(ctx, id, "Account blocked"); err != nil {
			log.Error().Err(err).Str("user_id", id).Msg("Failed to revoke sessions of blocked user")
		}
	}

	log.Info().Int64("users", n).Str("reason", reason).Msg("Users blocked")
	return n, nil
}

// UnblockIdentity lifts a block. The user has to log in again.
func (s *AdminService) UnblockIdentity(ctx context.Context, identity string) error {
	if err := s.users.Unblock(ctx, identity); err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return err
		}
		return apperrors.Unavailable(err)
	}
	log.Info().Str("user_id", identity).Msg("User unblocked")
	return nil
}

// EditMessage overwrites a stored message's text
func (s *AdminService) EditMessage(ctx context.Context, id int64, text string) error {
	if err := s.store.EditText(ctx, id, text); err != nil {
		return err
	}
	log.Info().Int64("message_id", id).Msg("Message edited by admin")
	return nil
}

// Conversation returns the messages between a and b, oldest first, so a
// flagged message can be read in context and its neighbours edited.
// Friendship is not required. before is an exclusive message id cursor.
func (s *AdminService) Conversation(ctx context.Context, a, b string, limit int, before *int64) (*Conversation, error) {
	if a == b {
		return nil, apperrors.Validation("a conversation needs two different users")
	}
	userA, err := s.users.GetByID(ctx, a)
	if err != nil {
		return nil, err
	}
	userB, err := s.users.GetByID(ctx, b)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = conversationLimit
	}
	messages, err := s.store.History(ctx, a, b, limit, before)
	if err != nil {
		return nil, err
	}
	return &Conversation{
		UserA:    identitySummary(userA),
		UserB:    identitySummary(userB),
		Messages: messages,
	}, nil
}

func identitySummary(u *models.User) models.IdentitySummary {
	return models.IdentitySummary{
		ID:          u.ID,
		Phone:       u.Phone,
		DisplayName: u.DisplayName,
		IsBlocked:   u.IsBlocked,
	}
}

// ExtendSubscription adds months to the subscription, counting from now
// when it has already lapsed
func (s *AdminService) ExtendSubscription(ctx context.Context, identity string, months int) (time.Time, error) {
	if months < 1 || months > maxSubscriptionExt {
		return time.Time{}, apperrors.Validation(fmt.Sprintf("months must be between 1 and %d", maxSubscriptionExt))
	}

	user, err := s.users.GetByID(ctx, identity)
	if err != nil {
		return time.Time{}, err
	}

	base := user.PaidUntil
	if now := s.now(); base.Before(now) {
		base = now
	}
	paidUntil := base.AddDate(0, months, 0)

	if err := s.users.SetPaidUntil(ctx, identity, paidUntil); err != nil {
		return time.Time{}, err
	}
	log.Info().Str("user_id", identity).Time("paid_until", paidUntil).Msg("Subscription extended")
	return paidUntil, nil
}

// RevokeSubscription expires the subscription immediately. Existing
// sessions stay valid until they expire or are revoked.
func (s *AdminService) RevokeSubscription(ctx context.Context, identity string) error {
	expired := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	if err := s.users.SetPaidUntil(ctx, identity, expired); err != nil {
		return err
	}
	log.Info().Str("user_id", identity).Msg("Subscription revoked")
	return nil
}

// Stats returns dashboard counters
func (s *AdminService) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.admins.Stats(ctx, s.now())
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}
	return stats, nil
}

// Words returns the moderation filter for critical word management
func (s *AdminService) Words() *ModerationFilter {
	return s.filter
}
