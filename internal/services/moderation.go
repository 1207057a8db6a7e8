package services

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/rs/zerolog/log"
)

const maxCriticalWordLength = 30

// ScanResult is the outcome of scanning one message
type ScanResult struct {
	Matched bool
	Words   []string
}

// ModerationFilter flags text that contains an admin-configured critical
// word. Matching is case-insensitive substring containment: "bomb" also
// matches "bombastic". That over-flags innocent words in exchange for
// catching words glued to punctuation or other letters; flagged messages
// are still delivered and only queued for human review.
type ModerationFilter struct {
	words CriticalWordRepository

	mu    sync.RWMutex
	cache []string
}

// NewModerationFilter creates a filter backed by the critical word store.
// Call Reload before the first Scan.
func NewModerationFilter(words CriticalWordRepository) *ModerationFilter {
	return &ModerationFilter{words: words}
}

// Reload replaces the cached word set with the store's contents
func (f *ModerationFilter) Reload(ctx context.Context) error {
	words, err := f.words.List(ctx)
	if err != nil {
		return err
	}

	cache := make([]string, 0, len(words))
	for _, w := range words {
		cache = append(cache, w.Word)
	}

	f.mu.Lock()
	f.cache = cache
	f.mu.Unlock()
	return nil
}

// Scan checks text against the current word set
func (f *ModerationFilter) Scan(text string) ScanResult {
	lower := strings.ToLower(text)

	f.mu.RLock()
	defer f.mu.RUnlock()

	var result ScanResult
	for _, w := range f.cache {
		if strings.Contains(lower, w) {
			result.Matched = true
			result.Words = append(result.Words, w)
		}
	}
	return result
}

// ListWords returns the stored critical words
func (f *ModerationFilter) ListWords(ctx context.Context) ([]*models.CriticalWord, error) {
	words, err := f.words.List(ctx)
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}
	return words, nil
}

// AddWord stores a word and makes it effective for the next scan.
// Adding an existing word is a no-op.
func (f *ModerationFilter) AddWord(ctx context.Context, word string) error {
	word, err := normalizeWord(word)
	if err != nil {
		return err
	}
	if err := f.words.Add(ctx, word); err != nil {
		return apperrors.Unavailable(err)
	}
	log.Info().Str("word", word).Msg("Critical word added")
	return f.Reload(ctx)
}

// RemoveWord deletes a word by ID and makes the removal effective for the
// next scan
func (f *ModerationFilter) RemoveWord(ctx context.Context, id int64) error {
	if err := f.words.Delete(ctx, id); err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return err
		}
		return apperrors.Unavailable(err)
	}
	log.Info().Int64("word_id", id).Msg("Critical word removed")
	return f.Reload(ctx)
}

// Seed adds each word, skipping invalid entries
func (f *ModerationFilter) Seed(ctx context.Context, words []string) error {
	for _, w := range words {
		normalized, err := normalizeWord(w)
		if err != nil {
			log.Warn().Str("word", w).Msg("Skipping invalid seed word")
			continue
		}
		if err := f.words.Add(ctx, normalized); err != nil {
			return err
		}
	}
	return f.Reload(ctx)
}

func normalizeWord(word string) (string, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" || utf8.RuneCountInString(word) > maxCriticalWordLength {
		return "", apperrors.ErrInvalidWord
	}
	return word, nil
}
