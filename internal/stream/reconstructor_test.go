package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mohammad-safakhou/chatplan/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const onePlan = `[{"title":"Launch","description":"Ship it","steps":["a","b","c"],"step_num":3,"advantages":["x","y"]}]`

func feed(fragments ...string) <-chan provider.Chunk {
	ch := make(chan provider.Chunk, len(fragments))
	for _, f := range fragments {
		ch <- provider.Chunk{Data: []byte(f)}
	}
	close(ch)
	return ch
}

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestSingleFragmentRoundTrip(t *testing.T) {
	docs := []string{
		onePlan,
		`[]`,
		`[{"title":"双计划","description":"中文描述","steps":["一","二","三","四"],"step_num":4,"advantages":["快","省"]},` +
			`{"title":"B","description":"d","steps":["1","2","3"],"step_num":9,"advantages":["p","q","r"]}]`,
	}
	for _, doc := range docs {
		got, err := Reconstruct(context.Background(), feed(doc), nil)
		require.NoError(t, err)
		assert.Equal(t, decode(t, doc), got)
	}
}

func TestCharacterAtATimeEmitsOnceAtTheEnd(t *testing.T) {
	docs := []string{
		onePlan,
		`{"a":[1,2,{"b":"}]\"x"}]}`,
		`"a string with } and ]"`,
		`true`,
		`null`,
		`  [ 1 , 2 ]  `,
		`12345`,
		`-3.25e2`,
	}
	for _, doc := range docs {
		r := New()
		var emitted []int
		for i := 0; i < len(doc); i++ {
			if _, ok := r.Write([]byte{doc[i]}); ok {
				emitted = append(emitted, i)
			}
		}
		got, err := r.Finish()
		require.NoError(t, err, doc)
		assert.Equal(t, decode(t, doc), got, doc)

		assert.LessOrEqual(t, len(emitted), 1, doc)
		if len(emitted) == 1 {
			assert.GreaterOrEqual(t, emitted[0], lastSignificant(doc), doc)
		}
	}
}

func lastSignificant(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != ' ' {
			return i
		}
	}
	return 0
}

func TestSplitInsideStringLiteralAndMultibyteRune(t *testing.T) {
	doc := `[{"title":"发布会","description":"d","steps":["a","b","c"],"step_num":3,"advantages":["x","y"]}]`
	// split in the middle of the 3-byte encoding of 发 and inside "description"
	cut1 := 12
	cut2 := 30
	got, err := Reconstruct(context.Background(), feed(doc[:cut1], doc[cut1:cut2], doc[cut2:]), nil)
	require.NoError(t, err)
	assert.Equal(t, decode(t, doc), got)
}

func TestWhitespaceOnlyIsIncomplete(t *testing.T) {
	r := New()
	_, ok := r.Write([]byte("  \n\t "))
	assert.False(t, ok)
	_, err := r.Finish()
	assert.ErrorIs(t, err, ErrIncompleteOutput)
}

func TestEmptyStreamIsIncomplete(t *testing.T) {
	_, err := Reconstruct(context.Background(), feed(), nil)
	assert.ErrorIs(t, err, ErrIncompleteOutput)
}

func TestTruncatedStreamIsIncomplete(t *testing.T) {
	_, err := Reconstruct(context.Background(), feed(`[{"title":"A",`, `"steps":["a"`), nil)
	assert.ErrorIs(t, err, ErrIncompleteOutput)
}

func TestBareScalarIsASuccessfulParse(t *testing.T) {
	got, err := Reconstruct(context.Background(), feed("4", "2"), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), got)

	got, err = Reconstruct(context.Background(), feed(`{"title":"A"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "A"}, got)
}

func TestTrailingCommentaryKeepsCandidate(t *testing.T) {
	r := New()
	got, err := Reconstruct(context.Background(), feed(onePlan, "\nHope this helps!"), r)
	require.NoError(t, err)
	assert.Equal(t, decode(t, onePlan), got)
	assert.Zero(t, r.Buffered())
}

func TestLaterValueReplacesCandidate(t *testing.T) {
	got, err := Reconstruct(context.Background(), feed(`[1]`, `[2,`, `3]`), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(2), float64(3)}, got)
}

func TestCancelMidStreamYieldsNoResult(t *testing.T) {
	fragments := []string{`[{"title":"La`, `unch","description":"Ship it",`, `"steps":["a","b","c"],`, `"step_num":3,"advantages":["x","y"]}]`}
	for n := 1; n < len(fragments); n++ {
		ctx, cancel := context.WithCancel(context.Background())
		ch := make(chan provider.Chunk)
		go func() {
			defer close(ch)
			for i, f := range fragments {
				if i == n {
					cancel()
					return
				}
				if !provider.Send(ctx, ch, provider.Chunk{Data: []byte(f)}) {
					return
				}
			}
		}()

		r := New()
		got, err := Reconstruct(ctx, ch, r)
		cancel()
		if err == nil {
			t.Fatalf("n=%d: expected cancellation, got %v", n, got)
		}
		assert.True(t, errors.Is(err, context.Canceled), "n=%d: %v", n, err)
		assert.Nil(t, got)
		assert.Zero(t, r.Buffered())
		_, have := r.Candidate()
		assert.False(t, have)
		assert.False(t, errors.Is(err, ErrIncompleteOutput))
	}
}

func TestCancelAfterCandidateDoesNotPromote(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan provider.Chunk, 1)
	ch <- provider.Chunk{Data: []byte(`[1]`)}

	parsed := &signalObserver{ok: make(chan struct{})}
	r := New(WithObserver(parsed))
	done := make(chan struct{})
	var got any
	var err error
	go func() {
		defer close(done)
		got, err = Reconstruct(ctx, ch, r)
	}()
	<-parsed.ok
	cancel()
	<-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
	_, have := r.Candidate()
	assert.False(t, have)
}

func TestChunkErrorAborts(t *testing.T) {
	boom := &provider.TransportError{StatusCode: 500}
	ch := make(chan provider.Chunk, 2)
	ch <- provider.Chunk{Data: []byte(onePlan)}
	ch <- provider.Chunk{Err: boom}
	close(ch)

	got, err := Reconstruct(context.Background(), ch, nil)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, boom)
	assert.True(t, provider.IsTransport(err))
}

type signalObserver struct {
	ok chan struct{}
}

func (s *signalObserver) Fragment(int) {}

func (s *signalObserver) ParseAttempt(ok bool) {
	if ok {
		close(s.ok)
	}
}

type countingObserver struct {
	fragments, bytes, attempts, successes int
}

func (c *countingObserver) Fragment(size int) {
	c.fragments++
	c.bytes += size
}

func (c *countingObserver) ParseAttempt(ok bool) {
	c.attempts++
	if ok {
		c.successes++
	}
}

func TestObserverSeesEveryFragment(t *testing.T) {
	obs := &countingObserver{}
	_, err := Reconstruct(context.Background(), feed(`[`, ` `, `1`, `]`), New(WithObserver(obs)))
	require.NoError(t, err)
	assert.Equal(t, 4, obs.fragments)
	assert.Equal(t, 4, obs.bytes)
	assert.Equal(t, 4, obs.attempts)
	assert.Equal(t, 1, obs.successes)
}
