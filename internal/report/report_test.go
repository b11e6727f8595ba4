package report

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

type stubAdapter struct {
	text string
	err  error

	capturedMessages []transcript.Message
}

func (s *stubAdapter) InvokeText(ctx context.Context, model string, messages []transcript.Message) (string, error) {
	s.capturedMessages = messages
	return s.text, s.err
}

func TestWriteReturnsReportOnSuccess(t *testing.T) {
	adapter := &stubAdapter{text: "# Report\n\nFindings [1] and [1] again."}
	w := New(adapter, "openai:gpt-4o")

	out := w.Write(context.Background(), "brief text", []string{"note one"})
	require.Equal(t, "# Report\n\nFindings [1] and [1] again.", out)
	require.Contains(t, adapter.capturedMessages[0].Content, "brief text")
	require.Contains(t, adapter.capturedMessages[0].Content, "note one")
}

func TestWriteReturnsPartialReportOnError(t *testing.T) {
	adapter := &stubAdapter{err: errors.New("modeladapter: token limit exceeded: transcript truncation exhausted")}
	w := New(adapter, "openai:gpt-4o")

	out := w.Write(context.Background(), "brief text", []string{"note one", "note two"})
	require.Contains(t, out, "Research Report (partial)")
	require.Contains(t, out, "brief text")
	require.Contains(t, out, "note one")
}

func TestWritePartialReportTruncatesLongNotesExcerpt(t *testing.T) {
	adapter := &stubAdapter{err: errors.New("boom")}
	w := New(adapter, "openai:gpt-4o")

	longNote := make([]byte, partialReportExcerptLimit+500)
	for i := range longNote {
		longNote[i] = 'x'
	}
	out := w.Write(context.Background(), "brief", []string{string(longNote)})
	require.Contains(t, out, "…")
	require.Less(t, len(out), len(longNote)+200)
}

func TestRenumberCitationsRenumbersInFirstAppearanceOrder(t *testing.T) {
	in := "Claim A [3]. Claim B [1]. Claim A again [3]. Claim C [7]."
	out := RenumberCitations(in)
	require.Equal(t, "Claim A [1]. Claim B [2]. Claim A again [1]. Claim C [3].", out)
}

func TestRenumberCitationsLeavesTextWithoutCitationsUnchanged(t *testing.T) {
	in := "No citations here."
	require.Equal(t, in, RenumberCitations(in))
}
