package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testReport() model.RunReport {
	firefox := model.Import{Recipe: model.RecipeFromName("Firefox.munki"), Name: "Firefox", Version: "120.0"}
	return model.RunReport{
		Recipes: 3,
		Published: []model.Publication{
			{Import: firefox, Branch: firefox.Branch(), ReviewURL: "https://github.com/ada/munki/pull/7", Status: model.Published},
		},
		Failures: []model.Failure{
			{Recipe: "Zoom.munki", Message: "download failed"},
		},
		GitErrors: []model.GitError{
			{Branch: "slack-4.35", Error: "remote rejected"},
		},
		FailedRecipes: 1,
	}
}

func TestRunMessage(t *testing.T) {
	msg := RunMessage(testReport())
	require.Len(t, msg.Attachments, 3)
	assert.Equal(t, colorOK, msg.Attachments[0].Color)
	assert.Equal(t, colorWarning, msg.Attachments[1].Color)

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	payload := string(b)
	assert.Contains(t, payload, "AutoPkg has finished running")
	assert.Contains(t, payload, "<https://github.com/ada/munki/pull/7|firefox> version 120.0")
	assert.Contains(t, payload, "The following recipes failed")
	assert.Contains(t, payload, "download failed")
	assert.Contains(t, payload, "error publishing branch: slack-4.35")

	empty := RunMessage(model.RunReport{Recipes: 1})
	require.Len(t, empty.Attachments, 1)
	b, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Contains(t, string(b), "There are no new items to be imported into Munki")
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 5000)
	assert.Len(t, []rune(truncate(long)), maxSectionText+1)
	assert.Equal(t, "short", truncate("short"))

	accented := strings.Repeat("é", 5000)
	cut := truncate(accented)
	assert.True(t, utf8.ValidString(cut), "multi-byte characters are never split")
	assert.Len(t, []rune(cut), maxSectionText+1)
	assert.Equal(t, "日本", truncateTo("日本語", 2)[:len("日本")])
}

func TestLongErrorsKeepTheirCodeBlock(t *testing.T) {
	traceback := strings.Repeat("Traceback: ünïcode ", 400)
	report := model.RunReport{
		Recipes:       1,
		FailedRecipes: 1,
		Failures:      []model.Failure{{Recipe: "Zoom.munki", Message: traceback}},
		GitErrors:     []model.GitError{{Branch: "zoom-5.0", Error: traceback}},
	}
	msg := RunMessage(report)
	require.Len(t, msg.Attachments, 3)

	for _, block := range []slack.Block{msg.Attachments[1].Blocks.BlockSet[3], msg.Attachments[2].Blocks.BlockSet[2]} {
		section, ok := block.(*slack.SectionBlock)
		require.True(t, ok)
		text := section.Text.Text
		assert.True(t, utf8.ValidString(text))
		assert.LessOrEqual(t, utf8.RuneCountInString(text), maxSectionText)
		assert.True(t, strings.HasSuffix(text, "…```"), "the closing fence survives truncation")
		assert.Equal(t, 2, strings.Count(text, "```"))
	}
	gitErr := msg.Attachments[2].Blocks.BlockSet[2].(*slack.SectionBlock).Text.Text
	assert.True(t, strings.HasPrefix(gitErr, "error publishing branch: zoom-5.0 ```Traceback"))
}

func TestSyncMessage(t *testing.T) {
	errs := make([]string, 25)
	for i := range errs {
		errs[i] = "upload failed"
	}
	msg := SyncMessage(SyncAlert{Target: "s3://munki/repo", Applied: 10, Failed: 25, Errors: errs})
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, colorAlert, msg.Attachments[0].Color)
	assert.Len(t, msg.Attachments[0].Blocks.BlockSet, 2+maxListedItems+1)
}

func TestNotifyRun(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	core, logs := observer.New(zap.InfoLevel)
	n := New(server.URL, WithHTTPClient(server.Client()), WithLogger(zap.New(core)))
	require.True(t, n.Enabled())
	n.NotifyRun(context.Background(), testReport())

	assert.Contains(t, string(received), "AutoPkg has finished running")
	assert.Equal(t, 1, logs.FilterMessage("slack notification sent").Len())
}

func TestNotifyIsBestEffort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	core, logs := observer.New(zap.InfoLevel)
	n := New(server.URL, WithLogger(zap.New(core)))
	require.NotPanics(t, func() {
		n.NotifySync(context.Background(), SyncAlert{Target: "s3://munki", Failed: 1})
	})
	assert.Equal(t, 1, logs.FilterMessage("could not post slack notification").Len())

	core, logs = observer.New(zap.InfoLevel)
	disabled := New("", WithLogger(zap.New(core)))
	assert.False(t, disabled.Enabled())
	disabled.NotifyRun(context.Background(), testReport())
	assert.Equal(t, 1, logs.FilterMessage("slack webhook not set: no notification sent").Len())

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
	require.NotPanics(t, func() { nilNotifier.NotifyRun(context.Background(), testReport()) })
}
