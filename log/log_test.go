// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLvlFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New("pkg", "sched")
	l.SetHandler(LvlFilterHandler(LvlInfo, StreamHandler(&buf, LogfmtFormat())))

	l.Debug("hidden", "k", 1)
	l.Info("shown", "k", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "pkg=sched")
	assert.Contains(t, out, "k=2")
}

func TestOddContext(t *testing.T) {
	var records []*Record
	l := New()
	l.SetHandler(FuncHandler(func(r *Record) error {
		records = append(records, r)
		return nil
	}))
	l.Warn("odd", "lonely")

	require.Len(t, records, 1)
	assert.Len(t, records[0].Ctx, 4)
	assert.Equal(t, errorKey, records[0].Ctx[2])
}

func TestTerminalFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetHandler(StreamHandler(&buf, TerminalFormat(false)))
	l.Error("move rejected", "reason", "memcpy in region")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "ERROR["), out)
	assert.Contains(t, out, `reason="memcpy in region"`)
}

func TestCallerFile(t *testing.T) {
	var buf bytes.Buffer
	l := New()
	l.SetHandler(CallerFileHandler(StreamHandler(&buf, LogfmtFormat())))
	l.Info("here")
	assert.Contains(t, buf.String(), "caller=log_test.go:")
}

func TestLvlFromString(t *testing.T) {
	lvl, err := LvlFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, LvlTrace, lvl)

	_, err = LvlFromString("loud")
	assert.Error(t, err)
}
