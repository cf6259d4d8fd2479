package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docsense/internal/core/domain"
)

func readRows(t *testing.T, path string) []map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var rows []map[string]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		row := map[string]string{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, scanner.Err())
	return rows
}

func TestAppendSFTAndDPO(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "")
	fb := domain.Feedback{
		OwnerID:       "owner-a",
		DocumentID:    "doc-1",
		ContentHandle: "owner-a_doc-1.png",
		Prompt:        "Explain this bill.",
		Output:        "It is a bill.",
		Improved:      "This water bill asks for 12,000 won by May 31.",
	}

	require.NoError(t, w.AppendSFT(context.Background(), fb))
	require.NoError(t, w.AppendSFT(context.Background(), fb))
	require.NoError(t, w.AppendDPO(context.Background(), fb))

	sft := readRows(t, filepath.Join(dir, "sft_train", "sft.jsonl"))
	require.Len(t, sft, 2)
	assert.Equal(t, "Explain this bill.", sft[0]["instruction"])
	assert.Equal(t, "owner-a_doc-1.png", sft[0]["image"])

	dpo := readRows(t, filepath.Join(dir, "dpo_train", "dpo_dataset.jsonl"))
	require.Len(t, dpo, 1)
	assert.Equal(t, fb.Improved, dpo[0]["chosen"])
	assert.Equal(t, fb.Output, dpo[0]["rejected"])
	assert.Equal(t, "vision_model", dpo[0]["chosen_source"])
}

func TestAppendDPORequiresImprovedOutput(t *testing.T) {
	err := NewWriter(t.TempDir(), "").AppendDPO(context.Background(), domain.Feedback{Prompt: "p", Output: "o"})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}
