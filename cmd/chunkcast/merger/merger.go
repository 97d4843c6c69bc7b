// Package merger implements the Transcript Merger: combining per-chunk
// transcription results into one word sequence by detecting the overlap
// region between adjacent chunks and keeping whichever chunk's words are
// more central to their own chunk.
package merger

import (
	"strings"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/transcript"
)

// overlapToleranceSeconds widens the overlap-region boundary when
// collecting each chunk's tail/head word set, so a word that starts a
// fraction of a second outside the strict overlap is still considered
// part of it.
const overlapToleranceSeconds = 0.1

// Diagnostics reports what the merge did beyond the plain word sequence.
type Diagnostics struct {
	OverlapsMerged int
	WordsDropped   int

	// AllWords is every surviving chunk's words, lifted to absolute time,
	// in chunk-order traversal order, each annotated via Kept with
	// whether overlap resolution kept or dropped it. It exists for
	// callers that want to inspect what the merge discarded.
	AllWords []transcript.AbsoluteWord
}

// Result is the output of Merge.
type Result struct {
	Text        string
	Words       []transcript.AbsoluteWord
	Diagnostics Diagnostics
}

// chunkWords is a Success result lifted to absolute time, retained as a
// unit so Step 2 can trim its head/tail without losing the chunk it came
// from.
type chunkWords struct {
	chunk transcript.Chunk
	words []transcript.AbsoluteWord
}

// Merge combines results in plan order into one transcript. overlapSeconds
// is the configured per-side overlap used to produce the plan; the
// overlap actually resolved per pair comes from the words' own absolute
// times, not this parameter, but it is accepted so callers can pass the
// same value they planned with for future diagnostics.
func Merge(results []transcript.TranscriptionResult, overlapSeconds float64) Result {
	lifted := liftSuccessful(results)
	if len(lifted) == 0 {
		return mergeFallback(results)
	}

	leadingDrop := make([]int, len(lifted))
	trailingDrop := make([]int, len(lifted))
	overlapsMerged := 0
	wordsDropped := 0

	for i := 0; i < len(lifted)-1; i++ {
		a := lifted[i]
		b := lifted[i+1]
		if len(a.words) == 0 || len(b.words) == 0 {
			continue
		}

		ovStart := b.words[0].AbsStart
		ovEnd := a.words[len(a.words)-1].AbsEnd
		if ovEnd <= ovStart {
			continue
		}
		overlapsMerged++

		aTailStart := tailStartIndex(a.words, ovStart-overlapToleranceSeconds)
		bHeadEnd := headEndIndex(b.words, ovEnd+overlapToleranceSeconds)

		aTail := a.words[aTailStart:]
		bHead := b.words[:bHeadEnd]

		aMean := meanCentrality(aTail)
		bMean := meanCentrality(bHead)

		// Strictly higher mean wins; a tie is a deliberate preference for
		// B, the later chunk.
		if aMean > bMean {
			leadingDrop[i+1] = bHeadEnd
			wordsDropped += len(bHead)
		} else {
			trailingDrop[i] = len(a.words) - aTailStart
			wordsDropped += len(aTail)
		}
	}

	totalWords := 0
	for _, cw := range lifted {
		totalWords += len(cw.words)
	}

	allWords := make([]transcript.AbsoluteWord, 0, totalWords)
	words := make([]transcript.AbsoluteWord, 0, totalWords)
	for i, cw := range lifted {
		lo := leadingDrop[i]
		hi := len(cw.words) - trailingDrop[i]
		if hi < lo {
			hi = lo
		}
		for j, w := range cw.words {
			w.Kept = j >= lo && j < hi
			allWords = append(allWords, w)
			if w.Kept {
				words = append(words, w)
			}
		}
	}

	return Result{
		Text:  joinWords(words),
		Words: words,
		Diagnostics: Diagnostics{
			OverlapsMerged: overlapsMerged,
			WordsDropped:   wordsDropped,
			AllWords:       allWords,
		},
	}
}

// liftSuccessful keeps Success results with non-empty words, in plan
// order, and computes each word's absolute time and centrality.
func liftSuccessful(results []transcript.TranscriptionResult) []chunkWords {
	out := make([]chunkWords, 0, len(results))
	for _, r := range results {
		if !r.Success || len(r.Words) == 0 {
			continue
		}
		out = append(out, chunkWords{chunk: r.Chunk, words: liftWords(r.Chunk, r.Words)})
	}
	return out
}

func liftWords(chunk transcript.Chunk, words []transcript.Word) []transcript.AbsoluteWord {
	half := (chunk.LogicalEnd - chunk.LogicalStart) / 2
	out := make([]transcript.AbsoluteWord, len(words))
	for i, w := range words {
		absStart := chunk.ActualStart + w.Start
		absEnd := chunk.ActualStart + w.End

		var centrality float64
		if half > 0 {
			fromStart := absStart - chunk.LogicalStart
			fromEnd := chunk.LogicalEnd - absEnd
			centrality = minFloat(fromStart, fromEnd) / half
		}

		out[i] = transcript.AbsoluteWord{
			Text:       w.Text,
			AbsStart:   absStart,
			AbsEnd:     absEnd,
			Centrality: centrality,
			ChunkIndex: chunk.Index,
		}
	}
	return out
}

// tailStartIndex returns the index of the first word whose AbsStart is
// >= threshold, i.e. the start of the suffix belonging to the overlap.
func tailStartIndex(words []transcript.AbsoluteWord, threshold float64) int {
	for i, w := range words {
		if w.AbsStart >= threshold {
			return i
		}
	}
	return len(words)
}

// headEndIndex returns the exclusive end index of the prefix of words
// whose AbsStart is <= threshold.
func headEndIndex(words []transcript.AbsoluteWord, threshold float64) int {
	i := 0
	for i < len(words) && words[i].AbsStart <= threshold {
		i++
	}
	return i
}

func meanCentrality(words []transcript.AbsoluteWord) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Centrality
	}
	return sum / float64(len(words))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func joinWords(words []transcript.AbsoluteWord) string {
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	return strings.Join(texts, " ")
}

// mergeFallback runs when no Success result carries word-level timings.
// It stitches each Success result's text together with a tokenized
// longest-matching-run search instead of timestamp comparison.
func mergeFallback(results []transcript.TranscriptionResult) Result {
	var merged string
	started := false

	for _, r := range results {
		if !r.Success {
			continue
		}
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		if !started {
			merged = text
			started = true
			continue
		}
		merged = stitch(merged, text)
	}

	return Result{Text: merged}
}

// stitch appends next onto merged, first trying to find an overlapping
// run between merged's tail and next's head so the shared words aren't
// duplicated.
func stitch(merged, next string) string {
	mergedTokens := tokenize(merged)
	nextTokens := tokenize(next)

	tailStart := len(mergedTokens) - (len(mergedTokens)*3+9)/10
	if tailStart < 0 {
		tailStart = 0
	}
	tail := mergedTokens[tailStart:]

	headEnd := (len(nextTokens)*3 + 9) / 10
	if headEnd > len(nextTokens) {
		headEnd = len(nextTokens)
	}
	head := nextTokens[:headEnd]

	runLen := longestMatchingRun(tail, head)
	if runLen < 2 {
		return merged + " " + next
	}

	remaining := strings.Join(nextTokens[runLen:], " ")
	if remaining == "" {
		return merged
	}
	return merged + " " + remaining
}

// longestMatchingRun searches, from every starting position in tail, for
// the longest run of case-folded, punctuation-stripped tokens that also
// appears as a prefix of head, and returns the length of the longest such
// run.
func longestMatchingRun(tail, head []string) int {
	normTail := normalizeAll(tail)
	normHead := normalizeAll(head)

	best := 0
	for start := 0; start < len(normTail); start++ {
		run := 0
		for run < len(normTail)-start && run < len(normHead) && normTail[start+run] == normHead[run] {
			run++
		}
		if run > best {
			best = run
		}
	}
	return best
}

func normalizeAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = normalizeToken(t)
	}
	return out
}

func normalizeToken(t string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(t) {
		if isASCIIPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isASCIIPunct(r rune) bool {
	return r >= '!' && r <= '/' ||
		r >= ':' && r <= '@' ||
		r >= '[' && r <= '`' ||
		r >= '{' && r <= '~'
}

func tokenize(text string) []string {
	return strings.Fields(text)
}
