// Package dsa provides the prefix tree behind the masking term lexicon.
// Uses go-radix for a compressed prefix tree (radix tree).
package dsa

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/armon/go-radix"
)

// Trie wraps go-radix for a compressed prefix tree.
// Keys share storage along common prefixes, so a lexicon of multi-word
// terms ("acme corp", "acme corporation") costs little more than one term.
type Trie[V any] struct {
	tree *radix.Tree
}

// NewTrie creates a new empty radix tree.
func NewTrie[V any]() *Trie[V] {
	return &Trie[V]{tree: radix.New()}
}

// Insert adds a key-value pair, replacing any existing value.
func (t *Trie[V]) Insert(key string, value V) {
	t.tree.Insert(key, value)
}

// Search looks up a key in the tree.
func (t *Trie[V]) Search(key string) (V, bool) {
	val, found := t.tree.Get(key)
	if !found {
		var zero V
		return zero, false
	}
	v, ok := val.(V)
	return v, ok
}

// Len returns the number of keys in the tree.
func (t *Trie[V]) Len() int {
	return t.tree.Len()
}

// LongestPrefix returns the longest key that is a prefix of the query.
func (t *Trie[V]) LongestPrefix(query string) (string, V, bool) {
	key, val, found := t.tree.LongestPrefix(query)
	if !found {
		var zero V
		return "", zero, false
	}
	v, ok := val.(V)
	if !ok {
		var zero V
		return "", zero, false
	}
	return key, v, true
}

// Match is one lexicon hit in byte offsets of the scanned text.
type Match[V any] struct {
	Start, End int
	Value      V
}

// Lexicon matches whole-word terms case-insensitively.
type Lexicon[V any] struct {
	trie *Trie[V]
}

// NewLexicon creates an empty lexicon.
func NewLexicon[V any]() *Lexicon[V] {
	return &Lexicon[V]{trie: NewTrie[V]()}
}

// Add registers a term. Blank terms are ignored.
func (l *Lexicon[V]) Add(term string, value V) {
	term = foldASCII(strings.TrimSpace(term))
	if term == "" {
		return
	}
	l.trie.Insert(term, value)
}

// Len returns the number of distinct terms.
func (l *Lexicon[V]) Len() int {
	return l.trie.Len()
}

// FindAll scans text left to right and returns non-overlapping matches.
// A match must start and end on a word boundary; at each start the longest
// term that ends on a boundary wins.
func (l *Lexicon[V]) FindAll(text string) []Match[V] {
	if l.trie.Len() == 0 {
		return nil
	}
	folded := foldASCII(text)

	var matches []Match[V]
	for i := 0; i < len(folded); {
		if !wordStart(folded, i) {
			i++
			continue
		}
		if n, v, ok := l.wholeWordPrefix(folded, i); ok {
			matches = append(matches, Match[V]{Start: i, End: i + n, Value: v})
			i += n
			continue
		}
		i++
	}
	return matches
}

// wholeWordPrefix returns the length of the longest term at s[i:] that ends
// on a word boundary. "john smith" inside "john smithson" falls back to "john".
func (l *Lexicon[V]) wholeWordPrefix(s string, i int) (int, V, bool) {
	query := s[i:]
	for {
		key, v, ok := l.trie.LongestPrefix(query)
		if !ok {
			var zero V
			return 0, zero, false
		}
		if wordEnd(s, i+len(key)) {
			return len(key), v, true
		}
		if key == "" {
			var zero V
			return 0, zero, false
		}
		query = key[:len(key)-1]
	}
}

// foldASCII lower-cases ASCII letters only, so byte offsets are preserved.
func foldASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func wordStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	if !utf8.RuneStart(s[i]) {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func wordEnd(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
