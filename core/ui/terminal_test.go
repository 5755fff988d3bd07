package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	table := w.NewTable("ID", "NAME")
	table.AddRow("a", "Israel")
	table.AddRow("bb", "GR", "dropped")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"ID │ NAME",
		"───┼───────",
		"a  │ Israel",
		"bb │ GR",
	}, lines)
}

func TestVerbosity(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	w.Debug("hidden")
	w.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "ℹ shown")

	buf.Reset()
	w.SetVerbosity(0)
	w.Info("quiet")
	w.Warning("still shown")
	assert.Equal(t, "⚠ still shown\n", buf.String())
}

func TestNoColorOmitsEscapes(t *testing.T) {
	var plain, colored bytes.Buffer
	NewWriter(&plain, true).Success("ok")
	NewWriter(&colored, false).Success("ok")

	assert.Equal(t, "✓ ok\n", plain.String())
	assert.Contains(t, colored.String(), Green)
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewWriter(&buf, true).NewProgressBar(4, "steps")

	bar.Update(2, 0)
	assert.Contains(t, buf.String(), " 50% (2/4)")

	bar.Update(9, 0)
	assert.Contains(t, buf.String(), "100% (4/4)")

	bar.Done()
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestPriceSummaryWarnsOnLoss(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriter(&buf, true).NewPriceSummary()
	s.FinalPrice, s.Currency, s.Strategy = "4.00", "USD", "standard"
	s.Applied, s.Skipped = 3, 1
	s.LossWarning = true
	s.Render()

	out := buf.String()
	assert.Contains(t, out, "Final Price: 4.00 USD")
	assert.Contains(t, out, "Rules applied: 3, skipped: 1")
	assert.Contains(t, out, "net profit is negative")
}
