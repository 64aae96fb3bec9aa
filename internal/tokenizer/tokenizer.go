// Package tokenizer implements WordPiece tokenization over a vocabulary
// file, producing the input_ids/attention_mask/token_type_ids triple the
// ONNX encoder expects.
//
// Grounded on becomeliminal-nim-go-sdk/memory/embedder/onnx/onnx.go's
// BERTTokenizer: CLS/SEP/UNK special tokens, lowercase+whitespace+punct
// splitting, longest-matching-prefix WordPiece with "##" continuation
// markers, vocab/idToToken maps loaded from a tokenizer.json-shaped file.
package tokenizer

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/openclaw/memento/internal/memerr"
)

const (
	clsToken = "[CLS]"
	sepToken = "[SEP]"
	unkToken = "[UNK]"
	padToken = "[PAD]"
)

// MaxTokens is the sequence length the encoder accepts; text is truncated
// to MaxTokens-2 WordPieces to leave room for CLS/SEP (spec §4.2).
const MaxTokens = 256

// Tokenizer wraps a WordPiece vocabulary.
type Tokenizer struct {
	vocab    map[string]int32
	clsID    int32
	sepID    int32
	unkID    int32
	padID    int32
}

// Encoding is the fixed-shape input the ONNX session consumes.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// vocabFile mirrors the minimal fields of a HuggingFace tokenizer.json this
// module needs: the token->id map nested under "model.vocab", as in real
// tokenizer.json files. A JSON file with the map at the top level is not
// read (Load then reports an empty vocabulary).
type vocabFile struct {
	Model struct {
		Vocab map[string]int32 `json:"vocab"`
	} `json:"model"`
}

// Load reads a vocabulary from path. It accepts either a tokenizer.json
// (HuggingFace "model.vocab" shape) or a plain newline-delimited vocab.txt
// (BERT's original format, one token per line, line number = id).
func Load(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingTokenizer, "reading vocab file", err)
	}

	vocab := map[string]int32{}
	if strings.HasSuffix(path, ".json") {
		var vf vocabFile
		if err := json.Unmarshal(data, &vf); err != nil {
			return nil, memerr.Wrap(memerr.KindEmbeddingTokenizer, "parsing tokenizer.json", err)
		}
		vocab = vf.Model.Vocab
	} else {
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		var id int32
		for scanner.Scan() {
			tok := strings.TrimRight(scanner.Text(), "\r\n")
			if tok != "" {
				vocab[tok] = id
			}
			id++
		}
	}
	if len(vocab) == 0 {
		return nil, memerr.New(memerr.KindEmbeddingTokenizer, "vocabulary is empty")
	}

	t := &Tokenizer{vocab: vocab}
	t.clsID = t.lookup(clsToken)
	t.sepID = t.lookup(sepToken)
	t.unkID = t.lookup(unkToken)
	t.padID = t.lookup(padToken)
	return t, nil
}

func (t *Tokenizer) lookup(tok string) int32 {
	if id, ok := t.vocab[tok]; ok {
		return id
	}
	return 0
}

// Tokenize splits text into WordPiece tokens: lowercase, whitespace split,
// each punctuation or symbol rune split off as a word of its own, then longest-matching-prefix subword matching with
// "##" continuation markers, falling back to [UNK].
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, word := range splitWords(strings.ToLower(text)) {
		tokens = append(tokens, t.wordPieceTokenize(word)...)
	}
	return tokens
}

func splitWords(s string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func (t *Tokenizer) wordPieceTokenize(word string) []string {
	if _, ok := t.vocab[word]; ok {
		return []string{word}
	}

	var out []string
	start := 0
	runes := []rune(word)
	for start < len(runes) {
		end := len(runes)
		var cur string
		found := false
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				cur = sub
				found = true
				break
			}
			end--
		}
		if !found {
			return []string{unkToken}
		}
		out = append(out, cur)
		start = end
	}
	return out
}

// Encode tokenizes text and builds a CLS/SEP-wrapped, right-padded
// fixed-length encoding. The same code path is used for every batch size —
// the source's batch-shape bug (spec §4.2/§9) stemmed from a divergent
// single-item path; this implementation has exactly one.
func (t *Tokenizer) Encode(text string) Encoding {
	toks := t.Tokenize(text)
	maxBody := MaxTokens - 2
	if len(toks) > maxBody {
		toks = toks[:maxBody]
	}

	ids := make([]int64, 0, MaxTokens)
	ids = append(ids, int64(t.clsID))
	for _, tok := range toks {
		id, ok := t.vocab[tok]
		if !ok {
			id = t.unkID
		}
		ids = append(ids, int64(id))
	}
	ids = append(ids, int64(t.sepID))

	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	for len(ids) < MaxTokens {
		ids = append(ids, int64(t.padID))
		mask = append(mask, 0)
	}

	return Encoding{
		InputIDs:      ids,
		AttentionMask: mask,
		TokenTypeIDs:  make([]int64, MaxTokens),
	}
}

// EncodeBatch encodes every text with Encode, preserving input order. There
// is no separate "batch" code path: each item goes through the identical
// fixed-shape Encode above.
func (t *Tokenizer) EncodeBatch(texts []string) []Encoding {
	out := make([]Encoding, len(texts))
	for i, text := range texts {
		out[i] = t.Encode(text)
	}
	return out
}
