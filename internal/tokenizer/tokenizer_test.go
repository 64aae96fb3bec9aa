package tokenizer

import (
	"os"
	"path/filepath"
	"testing"
)

func writeVocab(t *testing.T, tokens []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	content := ""
	for _, tok := range tokens {
		content += tok + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing vocab: %v", err)
	}
	return path
}

func baseVocab() []string {
	return []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "hello", "world", "##ing", "deploy", "##ment"}
}

func TestEncodeShapeSingletonAndBatchMatch(t *testing.T) {
	path := writeVocab(t, baseVocab())
	tok, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	single := tok.Encode("hello world")
	batch := tok.EncodeBatch([]string{"hello world"})

	if len(single.InputIDs) != MaxTokens {
		t.Fatalf("expected %d ids, got %d", MaxTokens, len(single.InputIDs))
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 batch result, got %d", len(batch))
	}
	for i := range single.InputIDs {
		if single.InputIDs[i] != batch[0].InputIDs[i] {
			t.Fatalf("singleton and batch-of-one diverge at %d: %d != %d", i, single.InputIDs[i], batch[0].InputIDs[i])
		}
	}
}

func TestWordPieceFallsBackToUnk(t *testing.T) {
	path := writeVocab(t, baseVocab())
	tok, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	toks := tok.Tokenize("xyzzyqux")
	if len(toks) != 1 || toks[0] != unkToken {
		t.Fatalf("expected single [UNK], got %v", toks)
	}
}

func TestWordPieceSubwordSplit(t *testing.T) {
	path := writeVocab(t, baseVocab())
	tok, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	toks := tok.Tokenize("deployment")
	if len(toks) != 2 || toks[0] != "deploy" || toks[1] != "##ment" {
		t.Fatalf("expected [deploy ##ment], got %v", toks)
	}
}

func TestEncodeTruncatesLongInput(t *testing.T) {
	path := writeVocab(t, baseVocab())
	tok, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	longText := ""
	for i := 0; i < 1000; i++ {
		longText += "hello world "
	}
	enc := tok.Encode(longText)
	if len(enc.InputIDs) != MaxTokens {
		t.Fatalf("expected truncation to %d tokens, got %d", MaxTokens, len(enc.InputIDs))
	}
}
