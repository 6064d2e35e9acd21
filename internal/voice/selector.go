package voice

import (
	"fmt"
	"sync/atomic"

	"github.com/loqalabs/chatsay/internal/tts"
)

type Strategy string

const (
	StrategyFirst      Strategy = "first"
	StrategyByName     Strategy = "name"
	StrategyRoundRobin Strategy = "round_robin"
)

// Selector picks the voice for the next speech request.
type Selector interface {
	Next() tts.Voice
	Strategy() Strategy
}

// NewSelector binds strategy to cat. Strategies "first" and "name" resolve
// their voice once, so every request uses the same id for the whole run.
func NewSelector(strategy Strategy, name string, cat *Catalog) (Selector, error) {
	switch strategy {
	case StrategyFirst, "":
		return fixed{voice: cat.First(), strategy: StrategyFirst}, nil
	case StrategyByName:
		v, err := cat.ByName(name)
		if err != nil {
			return nil, &CatalogError{Err: err}
		}
		return fixed{voice: v, strategy: StrategyByName}, nil
	case StrategyRoundRobin:
		return &roundRobin{voices: cat.Voices()}, nil
	default:
		return nil, fmt.Errorf("unknown voice strategy %q", strategy)
	}
}

type fixed struct {
	voice    tts.Voice
	strategy Strategy
}

func (f fixed) Next() tts.Voice    { return f.voice }
func (f fixed) Strategy() Strategy { return f.strategy }

type roundRobin struct {
	voices []tts.Voice
	next   atomic.Uint64
}

func (r *roundRobin) Next() tts.Voice {
	i := r.next.Add(1) - 1
	return r.voices[i%uint64(len(r.voices))]
}

func (r *roundRobin) Strategy() Strategy { return StrategyRoundRobin }
