package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	clsToken      = "[CLS]"
	sepToken      = "[SEP]"
	unkToken      = "[UNK]"
	padToken      = "[PAD]"
	subwordPrefix = "##"

	maxWordRunes = 100
)

// WordPieceTokenizer is the uncased BERT tokenizer used by MiniLM-style
// sentence encoders: lower-case, strip accents, split on whitespace and
// punctuation, then greedy longest-match against the vocabulary.
type WordPieceTokenizer struct {
	vocab     map[string]int64
	maxSeqLen int
	cls       int64
	sep       int64
	unk       int64
	pad       int64
}

func LoadVocab(path string, maxSeqLen int) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab failed: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var id int64
	for sc.Scan() {
		vocab[strings.TrimRight(sc.Text(), "\r")] = id
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab failed: %w", err)
	}
	return NewWordPieceTokenizer(vocab, maxSeqLen)
}

func NewWordPieceTokenizer(vocab map[string]int64, maxSeqLen int) (*WordPieceTokenizer, error) {
	if maxSeqLen < 3 {
		return nil, fmt.Errorf("max sequence length %d too small", maxSeqLen)
	}
	t := &WordPieceTokenizer{vocab: vocab, maxSeqLen: maxSeqLen}
	for tok, dst := range map[string]*int64{clsToken: &t.cls, sepToken: &t.sep, unkToken: &t.unk, padToken: &t.pad} {
		id, ok := vocab[tok]
		if !ok {
			return nil, fmt.Errorf("vocab is missing %s", tok)
		}
		*dst = id
	}
	return t, nil
}

// Encode returns token ids framed by [CLS] and [SEP], cut to maxSeqLen.
func (t *WordPieceTokenizer) Encode(text string) []int64 {
	ids := []int64{t.cls}
	limit := t.maxSeqLen - 1
	for _, word := range basicTokens(text) {
		for _, id := range t.wordPiece(word) {
			if len(ids) == limit {
				return append(ids, t.sep)
			}
			ids = append(ids, id)
		}
	}
	return append(ids, t.sep)
}

func (t *WordPieceTokenizer) PadID() int64 { return t.pad }

func (t *WordPieceTokenizer) wordPiece(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []int64{t.unk}
	}

	var ids []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := int64(-1)
		for ; end > start; end-- {
			piece := string(runes[start:end])
			if start > 0 {
				piece = subwordPrefix + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
		}
		if found < 0 {
			return []int64{t.unk}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

// basicTokens lower-cases, removes combining marks after NFD decomposition,
// and splits on whitespace and punctuation. Punctuation and CJK ideographs
// become tokens of their own.
func basicTokens(text string) []string {
	var (
		tokens []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range norm.NFD.String(strings.ToLower(text)) {
		switch {
		case r == 0 || r == unicode.ReplacementChar || unicode.IsControl(r) && !unicode.IsSpace(r):
			continue
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsSpace(r):
			flush()
		case isPunct(r) || unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
