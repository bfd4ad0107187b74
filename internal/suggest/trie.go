// Package suggest provides vendor-name autocomplete for the bill entry form.
package suggest

import (
	"strings"
	"sync"
)

// DefaultLimit is the number of suggestions shown under the vendor input.
const DefaultLimit = 7

type node struct {
	children map[rune]*node
	terminal bool
	word     string // original casing
}

func newNode() *node {
	return &node{children: make(map[rune]*node)}
}

// Trie indexes vendor names for prefix and substring lookup.
// Matching is case-insensitive; suggestions keep their original casing.
// Safe for concurrent use.
type Trie struct {
	mu    sync.RWMutex
	root  *node
	words []string
	seen  map[string]bool
}

// New creates an empty trie.
func New() *Trie {
	return &Trie{
		root: newNode(),
		seen: make(map[string]bool),
	}
}

// Insert adds a vendor name. Duplicates (case-insensitive) are ignored.
func (t *Trie) Insert(word string) {
	word = strings.TrimSpace(word)
	if word == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := strings.ToLower(word)
	if t.seen[key] {
		return
	}
	t.seen[key] = true

	n := t.root
	for _, r := range key {
		child, ok := n.children[r]
		if !ok {
			child = newNode()
			n.children[r] = child
		}
		n = child
	}
	n.terminal = true
	n.word = word
	t.words = append(t.words, word)
}

// Suggestions returns up to limit vendor names matching the query:
// prefix matches first, then substring matches, deduplicated.
// A limit of zero or less falls back to DefaultLimit.
func (t *Trie) Suggestions(query string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	results := make([]string, 0, limit)
	picked := make(map[string]bool)

	n := t.root
	for _, r := range query {
		child, ok := n.children[r]
		if !ok {
			n = nil
			break
		}
		n = child
	}
	if n != nil {
		collect(n, &results, picked, limit)
	}

	if len(results) < limit {
		for _, word := range t.words {
			if len(results) >= limit {
				break
			}
			if picked[word] {
				continue
			}
			if strings.Contains(strings.ToLower(word), query) {
				picked[word] = true
				results = append(results, word)
			}
		}
	}

	return results
}

func collect(n *node, results *[]string, picked map[string]bool, limit int) {
	if len(*results) >= limit {
		return
	}
	if n.terminal && !picked[n.word] {
		picked[n.word] = true
		*results = append(*results, n.word)
	}
	for _, child := range n.children {
		collect(child, results, picked, limit)
	}
}
