package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/loqalabs/chatsay/internal/tts"
)

var (
	// ErrEmptyCatalog means the server answered but offers no voices.
	ErrEmptyCatalog = errors.New("voice catalog is empty")
	// ErrVoiceNotFound means a name strategy matched nothing.
	ErrVoiceNotFound = errors.New("voice not found in catalog")
)

// CatalogError is a startup failure while building the catalog.
type CatalogError struct {
	Err error
}

func (e *CatalogError) Error() string {
	return "voice catalog unavailable: " + e.Err.Error()
}

func (e *CatalogError) Unwrap() error { return e.Err }

// Lister enumerates the voices of an actuation server.
type Lister interface {
	Voices(ctx context.Context) ([]tts.Voice, error)
}

// Catalog is the voice listing fetched once at startup, in server order.
type Catalog struct {
	voices []tts.Voice
}

// Load queries lister once. Any failure, including an empty listing, is a
// *CatalogError.
func Load(ctx context.Context, lister Lister) (*Catalog, error) {
	voices, err := lister.Voices(ctx)
	if err != nil {
		return nil, &CatalogError{Err: err}
	}
	if len(voices) == 0 {
		return nil, &CatalogError{Err: ErrEmptyCatalog}
	}
	return &Catalog{voices: voices}, nil
}

func (c *Catalog) Len() int { return len(c.voices) }

// IDs returns the voice ids in server order.
func (c *Catalog) IDs() []int {
	return lo.Map(c.voices, func(v tts.Voice, _ int) int { return v.ID })
}

func (c *Catalog) Voices() []tts.Voice {
	return append([]tts.Voice(nil), c.voices...)
}

func (c *Catalog) First() tts.Voice { return c.voices[0] }

// ByName returns the first voice whose name matches exactly.
func (c *Catalog) ByName(name string) (tts.Voice, error) {
	v, ok := lo.Find(c.voices, func(v tts.Voice) bool { return v.Name == name })
	if !ok {
		return tts.Voice{}, fmt.Errorf("%w: %q", ErrVoiceNotFound, name)
	}
	return v, nil
}
